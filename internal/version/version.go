// Package version holds the release version of the etl binary.
package version

// Current is the semantic version, without a "v" prefix.
const Current = "0.1.0"
