package models

import "time"

// InstanceStatus represents the lifecycle state of a managed agent instance.
type InstanceStatus string

const (
	InstanceStatusInitializing InstanceStatus = "initializing"
	InstanceStatusOnline       InstanceStatus = "online"
	InstanceStatusOffline      InstanceStatus = "offline"
	InstanceStatusError        InstanceStatus = "error"
	InstanceStatusDisabled     InstanceStatus = "disabled"
)

// IsValid checks if the instance status is a known value.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case InstanceStatusInitializing, InstanceStatusOnline, InstanceStatusOffline,
		InstanceStatusError, InstanceStatusDisabled:
		return true
	default:
		return false
	}
}

// InstanceConfig holds the per-instance tunables recognized by the listener
// engine and the agent client pool. Zero values are replaced by defaults via
// Normalize.
type InstanceConfig struct {
	PollIntervalS        int   `json:"poll_interval_s" yaml:"poll_interval_s"`
	MaxListeners         int   `json:"max_listeners" yaml:"max_listeners"`
	ListenerIdleTimeoutS int   `json:"listener_idle_timeout_s" yaml:"listener_idle_timeout_s"`
	CleanupIntervalS     int   `json:"cleanup_interval_s" yaml:"cleanup_interval_s"`
	HealthCheckIntervalS int   `json:"health_check_interval_s" yaml:"health_check_interval_s"`
	AutoReconnect        *bool `json:"auto_reconnect,omitempty" yaml:"auto_reconnect,omitempty"`
	MaxRetry             int   `json:"max_retry" yaml:"max_retry"`
}

// DefaultInstanceConfig returns the built-in per-instance defaults.
func DefaultInstanceConfig() InstanceConfig {
	auto := true
	return InstanceConfig{
		PollIntervalS:        5,
		MaxListeners:         30,
		ListenerIdleTimeoutS: 1800,
		CleanupIntervalS:     60,
		HealthCheckIntervalS: 60,
		AutoReconnect:        &auto,
		MaxRetry:             3,
	}
}

// Normalize fills zero-valued fields from the defaults and returns the result.
func (c InstanceConfig) Normalize() InstanceConfig {
	def := DefaultInstanceConfig()
	if c.PollIntervalS <= 0 {
		c.PollIntervalS = def.PollIntervalS
	}
	if c.MaxListeners <= 0 {
		c.MaxListeners = def.MaxListeners
	}
	if c.ListenerIdleTimeoutS <= 0 {
		c.ListenerIdleTimeoutS = def.ListenerIdleTimeoutS
	}
	if c.CleanupIntervalS <= 0 {
		c.CleanupIntervalS = def.CleanupIntervalS
	}
	if c.HealthCheckIntervalS <= 0 {
		c.HealthCheckIntervalS = def.HealthCheckIntervalS
	}
	if c.AutoReconnect == nil {
		c.AutoReconnect = def.AutoReconnect
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = def.MaxRetry
	}
	return c
}

// PollInterval returns the poll interval as a duration.
func (c InstanceConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalS) * time.Second
}

// ListenerIdleTimeout returns the idle timeout as a duration.
func (c InstanceConfig) ListenerIdleTimeout() time.Duration {
	return time.Duration(c.ListenerIdleTimeoutS) * time.Second
}

// CleanupInterval returns the cleanup interval as a duration.
func (c InstanceConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalS) * time.Second
}

// HealthCheckInterval returns the health check interval as a duration.
func (c InstanceConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalS) * time.Second
}

// Instance is the management-side record for one remote agent.
// APIKey is held decrypted in memory; the API layer must redact it.
type Instance struct {
	InstanceID   string         `json:"instance_id"`
	Name         string         `json:"name"`
	BaseURL      string         `json:"base_url"`
	APIKey       string         `json:"api_key,omitempty"`
	Enabled      bool           `json:"enabled"`
	Status       InstanceStatus `json:"status"`
	LastActiveAt *time.Time     `json:"last_active_at,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	Config       InstanceConfig `json:"config"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
