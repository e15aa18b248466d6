package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wxgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultDeliveryWorkers, cfg.Delivery.Workers)
	assert.Equal(t, DefaultHighWatermark, cfg.Listener.HighWatermark)
	assert.Equal(t, DefaultAgentTimeoutS, cfg.Agent.TimeoutS)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
delivery:
  workers: 8
listener:
  high_watermark: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Delivery.Workers)
	assert.Equal(t, 50, cfg.Listener.HighWatermark)
	// Unset keys keep their defaults.
	assert.Equal(t, DefaultMaxAttempts, cfg.Delivery.MaxAttempts)
	assert.Equal(t, DefaultHost, cfg.Server.Host)
}

func TestLoadExpandsEnvInFile(t *testing.T) {
	t.Setenv("TEST_WXGATE_KEY", strings.Repeat("k", 32))
	path := writeConfigFile(t, `
security:
  master_key: "{{.TEST_WXGATE_KEY}}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("k", 32), cfg.Security.MasterKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadSeedBlocks(t *testing.T) {
	path := writeConfigFile(t, `
seed:
  instances:
    - instance_id: north
      name: North Office
      base_url: http://10.0.0.5:8080
      api_key: key-north
      config:
        poll_interval_s: 10
  platforms:
    - platform_id: kw-1
      name: FAQ bot
      kind: keyword
      config:
        rules:
          - keywords: ["price"]
            reply: "See pricing page"
  rules:
    - rule_id: r-1
      name: all to faq
      instance_id: "*"
      chat_pattern: "*"
      platform_id: kw-1
      priority: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Seed.Instances, 1)
	assert.Equal(t, "north", cfg.Seed.Instances[0].InstanceID)
	assert.Equal(t, 10, cfg.Seed.Instances[0].Config.PollIntervalS)

	require.Len(t, cfg.Seed.Platforms, 1)
	assert.Equal(t, "keyword", cfg.Seed.Platforms[0].Kind)

	require.Len(t, cfg.Seed.Rules, 1)
	assert.Equal(t, 10, cfg.Seed.Rules[0].Priority)
	assert.False(t, cfg.Seed.Empty())
}

func TestFinalizeValidation(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		cfg := Default()
		cfg.Security.MasterKey = strings.Repeat("k", 32)
		assert.NoError(t, Finalize(cfg))
	})

	t.Run("missing master key fails", func(t *testing.T) {
		cfg := Default()
		err := Finalize(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "master_key")
	})

	t.Run("bad driver fails", func(t *testing.T) {
		cfg := Default()
		cfg.Security.MasterKey = strings.Repeat("k", 32)
		cfg.Database.Driver = "oracle"
		err := Finalize(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "driver")
	})

	t.Run("tls cert without key fails", func(t *testing.T) {
		cfg := Default()
		cfg.Security.MasterKey = strings.Repeat("k", 32)
		cfg.Server.TLSCert = "/etc/ssl/wxgate.crt"
		err := Finalize(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tls")
	})

	t.Run("multiple problems reported together", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Port = 0
		cfg.Delivery.Workers = 0
		err := Finalize(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
		assert.Contains(t, err.Error(), "workers")
		assert.Contains(t, err.Error(), "master_key")
	})

	t.Run("seed entries validated", func(t *testing.T) {
		cfg := Default()
		cfg.Security.MasterKey = strings.Repeat("k", 32)
		cfg.Seed.Platforms = []SeedPlatform{{PlatformID: "p1", Kind: "telepathy"}}
		err := Finalize(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kind")
	})
}
