package foundry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// SourceCredentials is the SOURCE_CREDENTIALS file of a compute module:
// source API name -> secret name -> secret value.
type SourceCredentials map[string]map[string]string

// LoadSourceCredentialsFromEnv reads the file named by SOURCE_CREDENTIALS.
func LoadSourceCredentialsFromEnv() (SourceCredentials, error) {
	path := strings.TrimSpace(os.Getenv("SOURCE_CREDENTIALS"))
	if path == "" {
		return nil, fmt.Errorf("SOURCE_CREDENTIALS is not set")
	}
	return LoadSourceCredentials(path)
}

func LoadSourceCredentials(path string) (SourceCredentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SOURCE_CREDENTIALS file: %w", err)
	}
	var out SourceCredentials
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse SOURCE_CREDENTIALS JSON: %w", err)
	}
	if out == nil {
		out = make(SourceCredentials)
	}
	return out, nil
}

// Secret returns a secret of a source. Some source types store secrets as
// "additionalSecret<Name>"; both forms are tried.
func (sc SourceCredentials) Secret(source, name string) (string, bool) {
	src := sc[strings.TrimSpace(source)]
	name = strings.TrimSpace(name)
	if src == nil || name == "" {
		return "", false
	}
	if v := strings.TrimSpace(src[name]); v != "" {
		return v, true
	}
	if v := strings.TrimSpace(src["additionalSecret"+name]); v != "" {
		return v, true
	}
	return "", false
}

// RequireSecret is Secret with an error naming the secrets the source does have.
func (sc SourceCredentials) RequireSecret(source, name string) (string, error) {
	if v, ok := sc.Secret(source, name); ok {
		return v, nil
	}
	src, ok := sc[strings.TrimSpace(source)]
	if !ok {
		return "", fmt.Errorf("source %q not found in SOURCE_CREDENTIALS", source)
	}
	names := make([]string, 0, len(src))
	for k := range src {
		names = append(names, k)
	}
	sort.Strings(names)
	return "", fmt.Errorf("source %q has no secret %q (have %s)", source, name, strings.Join(names, ", "))
}
