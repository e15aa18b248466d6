package config

import "github.com/wxgate/wxgate/pkg/models"

// SeedConfig declares entities to upsert at startup. Entries carry explicit
// ids so repeated startups stay idempotent. Secrets in the file usually come
// from {{.ENV_VAR}} expansion.
type SeedConfig struct {
	Instances []SeedInstance `yaml:"instances"`
	Platforms []SeedPlatform `yaml:"platforms"`
	Rules     []SeedRule     `yaml:"rules"`
}

// Empty reports whether no seed entries are declared.
func (s SeedConfig) Empty() bool {
	return len(s.Instances) == 0 && len(s.Platforms) == 0 && len(s.Rules) == 0
}

// SeedInstance declares one agent instance.
type SeedInstance struct {
	InstanceID string                `yaml:"instance_id"`
	Name       string                `yaml:"name"`
	BaseURL    string                `yaml:"base_url"`
	APIKey     string                `yaml:"api_key"`
	Enabled    *bool                 `yaml:"enabled,omitempty"`
	Config     models.InstanceConfig `yaml:"config"`
}

// SeedPlatform declares one service platform.
type SeedPlatform struct {
	PlatformID string         `yaml:"platform_id"`
	Name       string         `yaml:"name"`
	Kind       string         `yaml:"kind"`
	Config     map[string]any `yaml:"config"`
	Enabled    *bool          `yaml:"enabled,omitempty"`
}

// SeedRule declares one delivery rule.
type SeedRule struct {
	RuleID         string `yaml:"rule_id"`
	Name           string `yaml:"name"`
	InstanceID     string `yaml:"instance_id"`
	ChatPattern    string `yaml:"chat_pattern"`
	PlatformID     string `yaml:"platform_id"`
	Priority       int    `yaml:"priority"`
	Enabled        *bool  `yaml:"enabled,omitempty"`
	OnlyAtMessages bool   `yaml:"only_at_messages"`
}
