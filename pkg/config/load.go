package config

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// Parse decodes YAML on top of Default, so omitted keys keep their defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
