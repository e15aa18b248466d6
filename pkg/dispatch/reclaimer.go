package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// DefaultLease is how long a DELIVERING claim stays valid.
	DefaultLease = 5 * time.Minute

	defaultReclaimInterval = time.Minute
)

// StaleReclaimer is the store operation the reclaimer drives.
type StaleReclaimer interface {
	ReclaimStale(ctx context.Context, lease time.Duration, now time.Time) (int, error)
}

// Reclaimer returns expired DELIVERING claims to PENDING so messages
// orphaned by a crashed or hung worker get redelivered.
type Reclaimer struct {
	store    StaleReclaimer
	lease    time.Duration
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReclaimer creates a Reclaimer. Zero lease/interval take defaults.
func NewReclaimer(store StaleReclaimer, lease, interval time.Duration) *Reclaimer {
	if lease <= 0 {
		lease = DefaultLease
	}
	if interval <= 0 {
		interval = defaultReclaimInterval
	}
	return &Reclaimer{
		store:    store,
		lease:    lease,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Start runs one immediate pass (crash recovery before workers claim
// anything) and then launches the periodic loop.
func (r *Reclaimer) Start(ctx context.Context) error {
	if r.cancel != nil {
		return errors.New("reclaimer already started")
	}

	if err := r.RunOnce(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx)
	return nil
}

// Stop cancels the loop and waits for it to finish.
func (r *Reclaimer) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("Reclaimer stopped")
}

// RunOnce performs a single reclaim pass.
func (r *Reclaimer) RunOnce(ctx context.Context) error {
	n, err := r.store.ReclaimStale(ctx, r.lease, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Warn("Reclaimed stale deliveries", "count", n, "lease", r.lease)
	}
	return nil
}

func (r *Reclaimer) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Reclaimer started", "lease", r.lease, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Reclaim pass failed", "error", err)
			}
		}
	}
}
