package models

import "time"

// PlatformKind identifies a service platform variant.
type PlatformKind string

const (
	PlatformKindDify    PlatformKind = "dify"
	PlatformKindOpenAI  PlatformKind = "openai"
	PlatformKindKeyword PlatformKind = "keyword"
)

// IsValid checks if the platform kind is a known value.
func (k PlatformKind) IsValid() bool {
	switch k {
	case PlatformKindDify, PlatformKindOpenAI, PlatformKindKeyword:
		return true
	default:
		return false
	}
}

// Platform is the persisted record for one service platform.
// Config is held decrypted in memory; the API layer must redact secret keys.
type Platform struct {
	PlatformID string         `json:"platform_id"`
	Name       string         `json:"name"`
	Kind       PlatformKind   `json:"kind"`
	Config     map[string]any `json:"config"`
	Enabled    bool           `json:"enabled"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ConfigString returns a string config value, or def when absent.
func (p *Platform) ConfigString(key, def string) string {
	if v, ok := p.Config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// ConfigFloat returns a numeric config value, or def when absent.
func (p *Platform) ConfigFloat(key string, def float64) float64 {
	switch v := p.Config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}
