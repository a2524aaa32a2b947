package transform

import "github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/table"

// FormatDecimals rewrites decimal commas in col to dots ("3,14" -> "3.14").
// Values without a comma and nulls pass through unchanged, so applying it
// twice is the same as applying it once.
func FormatDecimals(col string) table.Expr {
	return table.RegexpReplace(table.Col(col), ",", ".")
}
