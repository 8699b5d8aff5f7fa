package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type routingKeysFile struct {
	APIKeys []string `yaml:"api_keys"`
}

// ResolveRoutingCredentials returns the routing provider credential pool.
// The DISPATCH_ROUTING_API_KEYS variable takes precedence; otherwise the
// YAML file named by DISPATCH_ROUTING_API_KEYS_FILE is read. Blank entries
// are dropped. An empty result is valid and means keyless requests.
func ResolveRoutingCredentials(cfg *EnvConfig) ([]string, error) {
	if keys := trimNonEmpty(cfg.RoutingAPIKeys); len(keys) > 0 {
		return keys, nil
	}
	if cfg.RoutingAPIKeysFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(cfg.RoutingAPIKeysFile)
	if err != nil {
		return nil, fmt.Errorf("read routing credentials file: %w", err)
	}
	var parsed routingKeysFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse routing credentials file %s: %w", cfg.RoutingAPIKeysFile, err)
	}
	return trimNonEmpty(parsed.APIKeys), nil
}

func trimNonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
