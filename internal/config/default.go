package config

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultConfigYAML []byte

// LoadDefault returns the embedded default configuration.
func LoadDefault() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
