package api

import "github.com/wxgate/wxgate/pkg/models"

// InstanceRequest is the body for POST/PUT /api/instances.
type InstanceRequest struct {
	InstanceID string                 `json:"instance_id"`
	Name       string                 `json:"name"`
	BaseURL    string                 `json:"base_url"`
	APIKey     string                 `json:"api_key"`
	Enabled    *bool                  `json:"enabled"`
	Config     *models.InstanceConfig `json:"config"`
}

// PlatformRequest is the body for POST/PUT /api/platforms.
type PlatformRequest struct {
	PlatformID string         `json:"platform_id"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Config     map[string]any `json:"config"`
	Enabled    *bool          `json:"enabled"`
}

// RuleRequest is the body for POST/PUT /api/rules.
type RuleRequest struct {
	RuleID         string `json:"rule_id"`
	Name           string `json:"name"`
	InstanceID     string `json:"instance_id"`
	ChatPattern    string `json:"chat_pattern"`
	PlatformID     string `json:"platform_id"`
	Priority       *int   `json:"priority"`
	Enabled        *bool  `json:"enabled"`
	OnlyAtMessages *bool  `json:"only_at_messages"`
}

// ListenerRequest is the body for POST /api/listeners.
type ListenerRequest struct {
	InstanceID string `json:"instance_id"`
	ChatName   string `json:"chat_name"`
	Fixed      bool   `json:"fixed"`
}
