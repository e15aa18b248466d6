package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, expands {{.VAR}} environment
// references, merges the result over the built-in defaults, and validates.
// An empty path returns validated defaults, so the service can run on
// environment variables alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		// Non-zero file values override defaults; unset keys keep them.
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
		slog.Info("Configuration file loaded", "path", path)
	}

	return cfg, nil
}

// Finalize validates the fully resolved configuration. Called after the env
// overrides from cmd/wxgate have been applied.
func Finalize(cfg *Config) error {
	if err := validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration initialized",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"delivery_workers", cfg.Delivery.Workers,
		"seed_instances", len(cfg.Seed.Instances),
		"seed_platforms", len(cfg.Seed.Platforms),
		"seed_rules", len(cfg.Seed.Rules))
	return nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(path, err)
	}

	// Expand {{.VAR}} references before parsing. ExpandEnv passes the
	// original bytes through on template errors so plain YAML still parses.
	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	return &cfg, nil
}
