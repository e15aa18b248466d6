// wxgate bridges chat-agent instances to reply platforms: it polls agents
// for new messages, routes them through delivery rules, and serves the
// management HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wxgate/wxgate/pkg/agent"
	"github.com/wxgate/wxgate/pkg/api"
	"github.com/wxgate/wxgate/pkg/config"
	"github.com/wxgate/wxgate/pkg/crypto"
	"github.com/wxgate/wxgate/pkg/database"
	"github.com/wxgate/wxgate/pkg/dispatch"
	"github.com/wxgate/wxgate/pkg/events"
	"github.com/wxgate/wxgate/pkg/listener"
	"github.com/wxgate/wxgate/pkg/metrics"
	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/platform"
	"github.com/wxgate/wxgate/pkg/registry"
	"github.com/wxgate/wxgate/pkg/rules"
	"github.com/wxgate/wxgate/pkg/services"
	"github.com/wxgate/wxgate/pkg/store"
	"github.com/wxgate/wxgate/pkg/version"
)

// Exit codes: 0 clean, 2 configuration error, 3 store-open failure, 4 fatal
// runtime error.
const (
	exitConfig  = 2
	exitStore   = 3
	exitRuntime = 4
)

var rootCmd = &cobra.Command{
	Use:     "wxgate",
	Short:   "Chat-agent federation gateway: polls agent instances, routes messages to reply platforms.",
	Version: version.Full(),
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// .env is a developer convenience; deployments set real env vars.
		_ = godotenv.Load()
	},
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(run())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to the YAML configuration file")
	flags.String("host", "", "management HTTP bind host")
	flags.Int("port", 0, "management HTTP bind port")
	flags.String("data-dir", "", "data directory for the SQLite file and attachments")
	flags.String("db-driver", "", "database driver (sqlite, postgres)")
	flags.String("db-dsn", "", "database connection string (postgres)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	for _, key := range []string{"config", "host", "port", "data-dir", "db-driver", "db-dsn", "log-level"} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("WXGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitConfig)
	}
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return exitConfig
	}
	setupLogging(cfg.Log.Level)

	slog.Info("Starting wxgate", "version", version.Full())

	ctx := context.Background()

	// Stage 1: secrets codec and database.
	codec, err := crypto.NewCodec(cfg.Security.MasterKey)
	if err != nil {
		slog.Error("Invalid master key", "error", err)
		return exitConfig
	}

	dbClient, err := database.NewClient(ctx, database.Config{
		Driver:       cfg.Database.Driver,
		DataDir:      cfg.Database.DataDir,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("Failed to open database", "driver", cfg.Database.Driver, "error", err)
		return exitStore
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "driver", dbClient.Driver())

	stores := store.New(dbClient, codec)
	bus := registry.NewBus()
	defer bus.Close()
	m := metrics.New()

	// An existing database sealed with a different master key fails here
	// rather than on the first secret read mid-flight.
	if err := verifyMasterKey(ctx, registry.New(stores.Config, codec, bus)); err != nil {
		slog.Error("Master key verification failed", "error", err)
		return exitConfig
	}

	// Stage 2: event push and warnings.
	connManager := events.NewConnectionManager(
		events.NewMessageCatchup(stores.Messages), 10*time.Second, m.EventsDropped.Inc)
	publisher := events.NewPublisher(connManager)
	warnings := services.NewWarningsService(publisher)

	// Stage 3: agent pool, rule engine, platform registry.
	pool := agent.NewPool(stores.Instances, bus, cfg.Agent.Timeout(), publisher.PublishInstanceStatus)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start agent pool", "error", err)
		return exitRuntime
	}
	defer pool.Stop()

	ruleEngine := rules.NewEngine(stores.Rules, bus, warnings)
	if err := ruleEngine.Start(ctx); err != nil {
		slog.Error("Failed to start rule engine", "error", err)
		return exitRuntime
	}
	defer ruleEngine.Stop()

	platformRegistry := platform.NewRegistry(stores.Platforms, bus)
	platformRegistry.Start(ctx)
	defer platformRegistry.Stop()

	// Stage 4: seed bootstrap before the loops start consuming.
	if err := applySeed(ctx, cfg.Seed, stores, bus, warnings); err != nil {
		slog.Error("Seed bootstrap failed", "error", err)
		return exitRuntime
	}

	// Stage 5: listener engine.
	engine := listener.NewEngine(pool, stores.Listeners, stores.Messages, stores.Messages, publisher, m, listener.Options{
		HighWatermark: cfg.Listener.HighWatermark,
		MaxParallel:   cfg.Listener.MaxParallelInstances,
	})
	if err := engine.Start(ctx); err != nil {
		slog.Error("Failed to start listener engine", "error", err)
		return exitRuntime
	}

	// Stage 6: delivery. Stale claims are reclaimed before workers start.
	reclaimer := dispatch.NewReclaimer(stores.Messages, cfg.Delivery.Lease(), cfg.Delivery.ReclaimInterval())
	if err := reclaimer.Start(ctx); err != nil {
		slog.Error("Failed to start reclaimer", "error", err)
		engine.Stop()
		return exitRuntime
	}

	dispatchPool := dispatch.NewPool(stores.Messages, stores.Attempts, ruleEngine, platformRegistry, pool, publisher, m, dispatch.Config{
		Workers:         cfg.Delivery.Workers,
		MaxAttempts:     cfg.Delivery.MaxAttempts,
		PlatformTimeout: cfg.Delivery.PlatformTimeout(),
	})
	if err := dispatchPool.Start(ctx); err != nil {
		slog.Error("Failed to start dispatch pool", "error", err)
		reclaimer.Stop()
		engine.Stop()
		return exitRuntime
	}

	// Stage 7: management HTTP.
	dbPath := ""
	if dbClient.Driver() == database.DriverSQLite {
		dbPath = filepath.Join(cfg.Database.DataDir, database.SQLiteFileName)
	}
	svc := api.Services{
		Instances: services.NewInstanceService(stores.Instances, stores.Listeners, bus),
		Platforms: services.NewPlatformService(stores.Platforms, bus),
		Rules:     services.NewRuleService(stores.Rules, stores.Platforms, bus, warnings),
		Listeners: services.NewListenerService(stores.Listeners, stores.Instances, engine),
		Messages:  services.NewMessageService(stores.Messages, stores.Attempts),
		System:    services.NewSystemService(pool, stores.Messages, dbPath, warnings),
		Warnings:  warnings,
	}
	httpServer := api.NewServer(cfg.Server, dbClient, svc, connManager, m)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("wxgate started",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"delivery_workers", cfg.Delivery.Workers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	code := 0
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server error triggered shutdown", "error", err)
		code = exitRuntime
	}

	// Staged shutdown: stop producing, drain delivery, then the surfaces.
	engine.Stop()
	slog.Info("Listener engine stopped")

	dispatchPool.Stop()
	reclaimer.Stop()
	slog.Info("Delivery drained")

	httpShutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return code
}

// loadConfig resolves the full configuration: defaults, then the YAML file,
// then flag/env overrides via viper.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}

	if v := viper.GetString("host"); v != "" {
		cfg.Server.Host = v
	}
	if v := viper.GetInt("port"); v != 0 {
		cfg.Server.Port = v
	}
	if v := viper.GetString("data-dir"); v != "" {
		cfg.Database.DataDir = v
	}
	if v := viper.GetString("db-driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("db-dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WXGATE_MASTER_KEY"); v != "" {
		cfg.Security.MasterKey = v
	}

	if err := config.Finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

const (
	keyCheckKey   = "security.key_check"
	keyCheckValue = "wxgate-key-check"
)

// verifyMasterKey seals a sentinel value on first start and opens it on
// every later start, so a changed master key is caught before any secret is
// read.
func verifyMasterKey(ctx context.Context, reg *registry.Registry) error {
	v, err := reg.Get(ctx, keyCheckKey)
	if errors.Is(err, registry.ErrKeyNotFound) {
		return reg.SetSecret(ctx, keyCheckKey, keyCheckValue)
	}
	if err != nil {
		return fmt.Errorf("stored secrets are unreadable with the configured master key: %w", err)
	}
	if v != keyCheckValue {
		return fmt.Errorf("master key check value mismatch")
	}
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// applySeed upserts declared instances, platforms, and rules by explicit id.
// Runs through the service layer so validation and change signals apply.
func applySeed(ctx context.Context, seed config.SeedConfig, stores *store.Stores, bus *registry.Bus, warnings *services.WarningsService) error {
	if seed.Empty() {
		return nil
	}

	instanceSvc := services.NewInstanceService(stores.Instances, stores.Listeners, bus)
	platformSvc := services.NewPlatformService(stores.Platforms, bus)
	ruleSvc := services.NewRuleService(stores.Rules, stores.Platforms, bus, warnings)

	for _, si := range seed.Instances {
		input := services.InstanceInput{
			InstanceID: si.InstanceID,
			Name:       si.Name,
			BaseURL:    si.BaseURL,
			APIKey:     si.APIKey,
			Enabled:    si.Enabled,
			Config:     &si.Config,
		}
		if _, err := instanceSvc.Create(ctx, input); err != nil {
			if !errors.Is(err, services.ErrAlreadyExists) {
				return fmt.Errorf("seed instance %s: %w", si.InstanceID, err)
			}
			if _, err := instanceSvc.Update(ctx, si.InstanceID, input); err != nil {
				return fmt.Errorf("seed instance %s: %w", si.InstanceID, err)
			}
		}
	}

	for _, sp := range seed.Platforms {
		input := services.PlatformInput{
			PlatformID: sp.PlatformID,
			Name:       sp.Name,
			Kind:       models.PlatformKind(sp.Kind),
			Config:     sp.Config,
			Enabled:    sp.Enabled,
		}
		if _, err := platformSvc.Create(ctx, input); err != nil {
			if !errors.Is(err, services.ErrAlreadyExists) {
				return fmt.Errorf("seed platform %s: %w", sp.PlatformID, err)
			}
			if _, err := platformSvc.Update(ctx, sp.PlatformID, input); err != nil {
				return fmt.Errorf("seed platform %s: %w", sp.PlatformID, err)
			}
		}
	}

	for _, sr := range seed.Rules {
		prio := sr.Priority
		input := services.RuleInput{
			RuleID:         sr.RuleID,
			Name:           sr.Name,
			InstanceID:     sr.InstanceID,
			ChatPattern:    sr.ChatPattern,
			PlatformID:     sr.PlatformID,
			Priority:       &prio,
			Enabled:        sr.Enabled,
			OnlyAtMessages: &sr.OnlyAtMessages,
		}
		if _, _, err := ruleSvc.Create(ctx, input); err != nil {
			if !errors.Is(err, services.ErrAlreadyExists) {
				return fmt.Errorf("seed rule %s: %w", sr.RuleID, err)
			}
			if _, _, err := ruleSvc.Update(ctx, sr.RuleID, input); err != nil {
				return fmt.Errorf("seed rule %s: %w", sr.RuleID, err)
			}
		}
	}

	slog.Info("Seed applied",
		"instances", len(seed.Instances),
		"platforms", len(seed.Platforms),
		"rules", len(seed.Rules))
	return nil
}
