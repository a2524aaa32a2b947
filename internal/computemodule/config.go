package computemodule

import (
	"fmt"
	"os"
	"strings"
)

// Config locates the compute module runtime. The runtime injects all of it
// through the environment.
type Config struct {
	GetJobURI       string
	PostResultURI   string
	ModuleAuthToken string
	// DefaultCAPath is optional. Empty means the system roots.
	DefaultCAPath string
}

// LoadConfigFromEnv reports ok=false when the job URIs are not set, which
// means the process is not running as a compute module.
func LoadConfigFromEnv() (Config, bool, error) {
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }

	cfg := Config{
		GetJobURI:     env("GET_JOB_URI"),
		PostResultURI: env("POST_RESULT_URI"),
		DefaultCAPath: env("DEFAULT_CA_PATH"),
	}
	if cfg.GetJobURI == "" || cfg.PostResultURI == "" {
		return Config{}, false, nil
	}

	tok, err := valueOrFileContents(env("MODULE_AUTH_TOKEN"))
	if err != nil {
		return Config{}, false, fmt.Errorf("MODULE_AUTH_TOKEN: %w", err)
	}
	if tok == "" {
		return Config{}, false, fmt.Errorf("MODULE_AUTH_TOKEN is required when GET_JOB_URI and POST_RESULT_URI are set")
	}
	cfg.ModuleAuthToken = tok
	return cfg, true, nil
}

// valueOrFileContents returns the trimmed contents of v when v names a
// regular file, and v itself otherwise.
func valueOrFileContents(v string) (string, error) {
	st, err := os.Stat(v)
	if v == "" || err != nil || st.IsDir() {
		return v, nil
	}
	b, err := os.ReadFile(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
