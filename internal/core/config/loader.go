package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *AppConfig) error {
	seen := map[string]bool{}
	for i := range cfg.Chains {
		chain := &cfg.Chains[i]
		if chain.Code == "" {
			return fmt.Errorf("chain %d has no code", i)
		}
		if seen[string(chain.Code)] {
			return fmt.Errorf("duplicate chain code %q", chain.Code)
		}
		seen[string(chain.Code)] = true
		if chain.Impl == "" {
			return fmt.Errorf("chain %s has no impl", chain.Code)
		}
		if len(chain.Clients) == 0 {
			return fmt.Errorf("chain %s has no client endpoints", chain.Code)
		}
		for j, client := range chain.Clients {
			if client.URL == "" {
				return fmt.Errorf("chain %s client %d has no url", chain.Code, j)
			}
		}
	}
	return nil
}
