package config

// Built-in defaults. The YAML file overrides these; environment variables
// bound in cmd/wxgate override both.
const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8090

	DefaultDBDriver = "sqlite"
	DefaultDataDir  = "./data"

	DefaultLogLevel = "info"

	DefaultDeliveryWorkers  = 4
	DefaultMaxAttempts      = 3
	DefaultLeaseS           = 300
	DefaultBackoffBaseS     = 10
	DefaultBackoffCapS      = 300
	DefaultPlatformTimeoutS = 60
	DefaultReclaimIntervalS = 60

	DefaultHighWatermark        = 1000
	DefaultMaxParallelInstances = 16

	DefaultAgentTimeoutS      = 30
	DefaultAgentRetryMax      = 3
	DefaultAgentBackoffS      = 1
	DefaultAgentBackoffCapS   = 30
	DefaultPostgresOpenConns  = 10
	DefaultPostgresIdleConns  = 5
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Database: DatabaseConfig{
			Driver:       DefaultDBDriver,
			DataDir:      DefaultDataDir,
			MaxOpenConns: DefaultPostgresOpenConns,
			MaxIdleConns: DefaultPostgresIdleConns,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
		Delivery: DeliveryConfig{
			Workers:          DefaultDeliveryWorkers,
			MaxAttempts:      DefaultMaxAttempts,
			LeaseS:           DefaultLeaseS,
			BackoffBaseS:     DefaultBackoffBaseS,
			BackoffCapS:      DefaultBackoffCapS,
			PlatformTimeoutS: DefaultPlatformTimeoutS,
			ReclaimIntervalS: DefaultReclaimIntervalS,
		},
		Listener: ListenerConfig{
			HighWatermark:        DefaultHighWatermark,
			MaxParallelInstances: DefaultMaxParallelInstances,
		},
		Agent: AgentConfig{
			TimeoutS:         DefaultAgentTimeoutS,
			RetryMax:         DefaultAgentRetryMax,
			RetryBackoffS:    DefaultAgentBackoffS,
			RetryBackoffCapS: DefaultAgentBackoffCapS,
		},
	}
}
