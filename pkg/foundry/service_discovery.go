package foundry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Services holds the base URLs of the Foundry services the client calls.
type Services struct {
	APIGateway string
}

// loadServicesFromDiscoveryFile reads a FOUNDRY_SERVICE_DISCOVERY_V2 file,
// which maps service ids to URL lists:
//
//	api_gateway:
//	  - https://<stack>.palantirfoundry.com/api
//
// Only api_gateway is used.
func loadServicesFromDiscoveryFile(path string) (Services, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Services{}, fmt.Errorf("read FOUNDRY_SERVICE_DISCOVERY_V2 file: %w", err)
	}
	var doc map[string][]string
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Services{}, fmt.Errorf("parse FOUNDRY_SERVICE_DISCOVERY_V2 YAML: %w", err)
	}
	for _, u := range doc["api_gateway"] {
		if u = strings.TrimSpace(u); u != "" {
			return Services{APIGateway: u}, nil
		}
	}
	return Services{}, fmt.Errorf("FOUNDRY_SERVICE_DISCOVERY_V2 has no api_gateway URL")
}

// servicesFromURL derives the API gateway from a stack URL such as
// "mystack.palantirfoundry.com". A missing scheme defaults to https.
func servicesFromURL(raw string) (Services, error) {
	if raw == "" {
		return Services{}, fmt.Errorf("FOUNDRY_SERVICE_DISCOVERY_V2 or FOUNDRY_URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return Services{APIGateway: strings.TrimRight(raw, "/") + "/api"}, nil
}
