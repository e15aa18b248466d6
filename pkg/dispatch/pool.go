package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/wxgate/wxgate/pkg/metrics"
)

// Config tunes the dispatcher. Zero values take defaults.
type Config struct {
	// Workers is the number of concurrent queue drainers. Default 4.
	Workers int

	// MaxAttempts caps delivery attempts per message. Default 3.
	MaxAttempts int

	// PollInterval is the idle re-poll base interval. Default 1s; each
	// sleep is jittered to spread workers out.
	PollInterval time.Duration

	// PlatformTimeout bounds one ProcessMessage call. Default 60s.
	PlatformTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PlatformTimeout <= 0 {
		c.PlatformTimeout = 60 * time.Second
	}
	return c
}

// jitteredPollInterval spreads idle workers over [interval, 1.5×interval).
func (c Config) jitteredPollInterval() time.Duration {
	return c.PollInterval + rand.N(c.PollInterval/2)
}

// Pool manages the dispatch workers.
type Pool struct {
	queue     MessageQueue
	ledger    AttemptLedger
	rules     RuleMatcher
	platforms PlatformResolver
	sender    ReplySender
	publisher EventPublisher
	metrics   *metrics.Metrics
	cfg       Config

	workers []*Worker
	started bool
}

// NewPool creates a dispatch pool. ledger, publisher, and m may be nil.
func NewPool(queue MessageQueue, ledger AttemptLedger, rules RuleMatcher, platforms PlatformResolver, sender ReplySender, publisher EventPublisher, m *metrics.Metrics, cfg Config) *Pool {
	return &Pool{
		queue:     queue,
		ledger:    ledger,
		rules:     rules,
		platforms: platforms,
		sender:    sender,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg.normalize(),
	}
}

// Start spawns the worker goroutines. Safe to call once.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Dispatch pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	slog.Info("Starting dispatch pool", "worker_count", p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		w := newWorker(fmt.Sprintf("dispatch-%d", i), p)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
	return nil
}

// Stop signals all workers and waits; in-flight deliveries finish first.
func (p *Pool) Stop() {
	slog.Info("Stopping dispatch pool")
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("Dispatch pool stopped")
}
