package foundry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// DatasetRef identifies a dataset RID and branch. An empty branch means master.
type DatasetRef struct {
	RID    string
	Branch string
}

// Env is what a compute module needs to write datasets: where the API is,
// the build token, and the datasets it was granted by alias.
type Env struct {
	Services Services
	// DefaultCAPath is a PEM bundle to trust for TLS (DEFAULT_CA_PATH).
	DefaultCAPath string
	Token         string
	Aliases       map[string]DatasetRef
}

// AliasNames lists the configured aliases in sorted order.
func (e Env) AliasNames() []string {
	out := make([]string, 0, len(e.Aliases))
	for k := range e.Aliases {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadEnv reads the compute module environment:
//
//   - FOUNDRY_SERVICE_DISCOVERY_V2 (YAML file) or FOUNDRY_URL
//   - BUILD2_TOKEN (file holding the bearer token)
//   - RESOURCE_ALIAS_MAP (JSON file of alias -> {rid, branch})
//   - DEFAULT_CA_PATH (optional)
func LoadEnv() (Env, error) {
	return loadEnv(os.Getenv)
}

func loadEnv(getenv func(string) string) (Env, error) {
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	var env Env
	var err error
	if p := get("FOUNDRY_SERVICE_DISCOVERY_V2"); p != "" {
		env.Services, err = loadServicesFromDiscoveryFile(p)
	} else {
		env.Services, err = servicesFromURL(get("FOUNDRY_URL"))
	}
	if err != nil {
		return Env{}, err
	}

	tok, err := readRequiredFile("BUILD2_TOKEN", get("BUILD2_TOKEN"))
	if err != nil {
		return Env{}, err
	}
	env.Token = strings.TrimSpace(string(tok))

	aliasJSON, err := readRequiredFile("RESOURCE_ALIAS_MAP", get("RESOURCE_ALIAS_MAP"))
	if err != nil {
		return Env{}, err
	}
	if env.Aliases, err = ParseAliasMap(aliasJSON); err != nil {
		return Env{}, fmt.Errorf("RESOURCE_ALIAS_MAP: %w", err)
	}

	env.DefaultCAPath = get("DEFAULT_CA_PATH")
	return env, nil
}

func readRequiredFile(varName, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%s is required", varName)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s file: %w", varName, err)
	}
	return b, nil
}

// ParseAliasMap decodes a RESOURCE_ALIAS_MAP document. Every alias needs a rid;
// the branch is optional.
func ParseAliasMap(b []byte) (map[string]DatasetRef, error) {
	var raw map[string]struct {
		RID    string `json:"rid"`
		Branch string `json:"branch"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	out := make(map[string]DatasetRef, len(raw))
	for alias, v := range raw {
		rid := strings.TrimSpace(v.RID)
		if rid == "" {
			return nil, fmt.Errorf("alias %q: rid is required", alias)
		}
		out[alias] = DatasetRef{RID: rid, Branch: strings.TrimSpace(v.Branch)}
	}
	return out, nil
}
