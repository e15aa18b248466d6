// Package config loads and validates the service configuration.
//
// Sources, lowest precedence first: built-in defaults, the YAML config file
// (with {{.VAR}} env expansion), environment variables bound in cmd/wxgate.
// Durations in the file are integer seconds (`*_s` keys); accessors convert
// to time.Duration.
package config

import "time"

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Security SecurityConfig `yaml:"security"`
	Log      LogConfig      `yaml:"log"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Listener ListenerConfig `yaml:"listener"`
	Agent    AgentConfig    `yaml:"agent"`
	Seed     SeedConfig     `yaml:"seed"`
}

// ServerConfig controls the management HTTP listener.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// TLSEnabled reports whether both certificate and key are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCert != "" && s.TLSKey != ""
}

// DatabaseConfig selects and parameterizes the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`
	// DataDir holds the SQLite file and downloaded attachments.
	DataDir string `yaml:"data_dir"`
	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn"`
	// MaxOpenConns bounds the pool for postgres (SQLite is pinned to 1).
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// SecurityConfig holds the master encryption key for secret fields.
type SecurityConfig struct {
	// MasterKey is 32 bytes, raw or base64. Required.
	MasterKey string `yaml:"master_key"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// DeliveryConfig tunes the delivery dispatcher.
type DeliveryConfig struct {
	// Workers is the number of delivery worker goroutines.
	Workers int `yaml:"workers"`
	// MaxAttempts bounds redelivery of one message.
	MaxAttempts int `yaml:"max_attempts"`
	// LeaseS is how long a message may sit in delivering before reclaim.
	LeaseS int `yaml:"lease_s"`
	// BackoffBaseS is the first retry delay; it doubles per attempt.
	BackoffBaseS int `yaml:"backoff_base_s"`
	// BackoffCapS caps the retry delay.
	BackoffCapS int `yaml:"backoff_cap_s"`
	// PlatformTimeoutS bounds one platform invocation.
	PlatformTimeoutS int `yaml:"platform_timeout_s"`
	// ReclaimIntervalS is how often stale delivering messages are reclaimed.
	ReclaimIntervalS int `yaml:"reclaim_interval_s"`
}

// Lease returns the delivering lease as a duration.
func (d DeliveryConfig) Lease() time.Duration {
	return time.Duration(d.LeaseS) * time.Second
}

// BackoffBase returns the first retry delay as a duration.
func (d DeliveryConfig) BackoffBase() time.Duration {
	return time.Duration(d.BackoffBaseS) * time.Second
}

// BackoffCap returns the retry delay cap as a duration.
func (d DeliveryConfig) BackoffCap() time.Duration {
	return time.Duration(d.BackoffCapS) * time.Second
}

// PlatformTimeout returns the per-invocation platform timeout.
func (d DeliveryConfig) PlatformTimeout() time.Duration {
	return time.Duration(d.PlatformTimeoutS) * time.Second
}

// ReclaimInterval returns the reclaim scan interval.
func (d DeliveryConfig) ReclaimInterval() time.Duration {
	return time.Duration(d.ReclaimIntervalS) * time.Second
}

// ListenerConfig tunes the listener engine globally. Per-instance tunables
// live on the instance record itself.
type ListenerConfig struct {
	// HighWatermark is the pending-queue depth at which L1/L2 slow down.
	HighWatermark int `yaml:"high_watermark"`
	// MaxParallelInstances caps the per-tick instance fan-out.
	MaxParallelInstances int `yaml:"max_parallel_instances"`
}

// AgentConfig tunes the upstream agent HTTP clients.
type AgentConfig struct {
	// TimeoutS is the hard per-call timeout.
	TimeoutS int `yaml:"timeout_s"`
	// RetryMax bounds retries of idempotent GETs.
	RetryMax int `yaml:"retry_max"`
	// RetryBackoffS is the first retry delay; it doubles per attempt.
	RetryBackoffS int `yaml:"retry_backoff_s"`
	// RetryBackoffCapS caps the retry delay.
	RetryBackoffCapS int `yaml:"retry_backoff_cap_s"`
}

// Timeout returns the per-call timeout as a duration.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutS) * time.Second
}

// RetryBackoff returns the first retry delay as a duration.
func (a AgentConfig) RetryBackoff() time.Duration {
	return time.Duration(a.RetryBackoffS) * time.Second
}

// RetryBackoffCap returns the retry delay cap as a duration.
func (a AgentConfig) RetryBackoffCap() time.Duration {
	return time.Duration(a.RetryBackoffCapS) * time.Second
}
