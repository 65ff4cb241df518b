package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Load reads a YAML (or JSON) config file on top of the defaults, then
// applies opts. Fields absent from the file keep their default values.
func Load(path string, opts ...OpOption) (*Config, error) {
	options := &Op{}
	if err := options.ApplyOpts(opts); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	// derived paths are recomputed against the loaded log_dir
	cfg.StateFile = ""
	cfg.MetricsFile = ""

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	options.apply(cfg)

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when set, otherwise returns the defaults.
// The result is validated.
func LoadOrDefault(path string, opts ...OpOption) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path != "" {
		cfg, err = Load(path, opts...)
	} else {
		cfg, err = Default(opts...)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// YAML renders the configuration as YAML.
func (config *Config) YAML() ([]byte, error) {
	return yaml.Marshal(config)
}
