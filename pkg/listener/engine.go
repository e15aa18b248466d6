// Package listener discovers chats via the main-window scan, polls each
// registered chat for new messages, and retires idle listeners. All harvested
// messages flow through a shared ingest path that dedups and persists them.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wxgate/wxgate/pkg/agent"
	"github.com/wxgate/wxgate/pkg/metrics"
	"github.com/wxgate/wxgate/pkg/models"
)

const (
	// Consecutive-error thresholds before a loop stretches its wait.
	scanErrorThreshold    = 5
	pollErrorThreshold    = 5
	cleanupErrorThreshold = 3

	// errorWaitFactor multiplies a loop's wait once its threshold is hit.
	errorWaitFactor = 3

	// maxParallelInstances bounds the per-tick fan-out across instances.
	maxParallelInstances = 16

	// backpressureCap bounds how far a saturated queue can stretch the
	// poll interval.
	backpressureCap = 5
)

// AgentPool is the slice of the agent client pool the engine needs.
type AgentPool interface {
	Instances() []*models.Instance
	Healthy(instanceID string) bool
	AddListener(ctx context.Context, instanceID, chat string, opts agent.ListenOptions) error
	RemoveListener(ctx context.Context, instanceID, chat string) error
	MainWindowMessages(ctx context.Context, instanceID string, opts agent.ListenOptions) (map[string][]agent.AgentMessage, error)
	ListenerMessages(ctx context.Context, instanceID, chat string) ([]agent.AgentMessage, error)
}

// ListenerStore is the persistence the engine needs for the listener set.
type ListenerStore interface {
	List(ctx context.Context) ([]*models.Listener, error)
	Create(ctx context.Context, l *models.Listener) error
	Touch(ctx context.Context, instanceID, chatName string, lastMessage time.Time, state models.ListenerState, conversationStarted bool) error
	SetState(ctx context.Context, instanceID, chatName string, state models.ListenerState) error
	MarkForRemoval(ctx context.Context, instanceID, chatName string) error
	Delete(ctx context.Context, instanceID, chatName string) error
}

// PendingCounter reports delivery-queue depth for backpressure.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// Options tunes the engine's loops. Zero values take defaults. Instances
// with their own poll_interval_s or cleanup_interval_s are visited on that
// cadence instead of every tick.
type Options struct {
	// PollInterval is the base tick for the main-window scan and the
	// per-listener poll. Default 5s.
	PollInterval time.Duration

	// CleanupInterval is the idle-eviction scan tick. Default 60s.
	CleanupInterval time.Duration

	// HighWatermark is the pending-queue depth at which polling starts to
	// slow down. Default 1000.
	HighWatermark int

	// MaxParallel caps the per-tick fan-out across instances. Default 16.
	MaxParallel int

	// Listen selects which attachment types agents save to disk.
	Listen agent.ListenOptions
}

func (o Options) normalize() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 60 * time.Second
	}
	if o.HighWatermark <= 0 {
		o.HighWatermark = 1000
	}
	if o.MaxParallel <= 0 {
		o.MaxParallel = maxParallelInstances
	}
	return o
}

// Engine runs the three listener loops: main-window scan (discovery),
// per-listener poll (harvest), and cleanup (idle eviction).
type Engine struct {
	pool      AgentPool
	listeners ListenerStore
	pending   PendingCounter
	registry  *Registry
	ingestor  *Ingestor
	opts      Options
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// Per-instance next-due times for instances with their own intervals.
	schedMu     sync.Mutex
	nextScan    map[string]time.Time
	nextPoll    map[string]time.Time
	nextCleanup map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a listener engine. publisher and m may be nil.
func NewEngine(pool AgentPool, listeners ListenerStore, messages MessageSink, pending PendingCounter, publisher EventPublisher, m *metrics.Metrics, opts Options) *Engine {
	registry := NewRegistry()
	return &Engine{
		pool:        pool,
		listeners:   listeners,
		pending:     pending,
		registry:    registry,
		ingestor:    NewIngestor(messages, listeners, registry, publisher, m),
		opts:        opts.normalize(),
		metrics:     m,
		logger:      slog.Default(),
		nextScan:    make(map[string]time.Time),
		nextPoll:    make(map[string]time.Time),
		nextCleanup: make(map[string]time.Time),
	}
}

// Registry exposes the in-memory listener set for the management surface.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Start restores the listener set from the store and launches the loops.
func (e *Engine) Start(ctx context.Context) error {
	if e.cancel != nil {
		return errors.New("listener engine already started")
	}

	stored, err := e.listeners.List(ctx)
	if err != nil {
		return err
	}
	for _, l := range stored {
		e.registry.Add(l)
	}
	e.updateListenerGauges()
	e.logger.Info("Listener engine starting", "restored_listeners", len(stored))

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(3)
	go e.runMainScan(ctx)
	go e.runListenerPoll(ctx)
	go e.runCleanup(ctx)
	return nil
}

// Stop cancels the loops and waits for them to finish.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.logger.Info("Listener engine stopped")
}

// AddListener registers a chat for polling: agent first, then row, then
// registry, so a failed agent call leaves no half-registered listener.
func (e *Engine) AddListener(ctx context.Context, instanceID, chatName string, manual, fixed bool) error {
	if e.registry.Has(instanceID, chatName) {
		return nil
	}
	if err := e.pool.AddListener(ctx, instanceID, chatName, e.opts.Listen); err != nil {
		return err
	}

	now := time.Now()
	l := &models.Listener{
		InstanceID:    instanceID,
		ChatName:      chatName,
		State:         models.ListenerStateInactive,
		AddedAt:       now,
		LastMessageAt: now,
		Manual:        manual,
		Fixed:         fixed,
	}
	if err := e.listeners.Create(ctx, l); err != nil {
		return err
	}
	e.registry.Add(l)
	e.updateListenerGauges()
	e.logger.Info("Listener added", "instance_id", instanceID, "chat", chatName, "manual", manual)
	return nil
}

// RemoveListener unregisters a chat immediately: agent, row, registry.
func (e *Engine) RemoveListener(ctx context.Context, instanceID, chatName string) error {
	if err := e.pool.RemoveListener(ctx, instanceID, chatName); err != nil {
		return err
	}
	if err := e.listeners.Delete(ctx, instanceID, chatName); err != nil {
		return err
	}
	e.registry.Remove(instanceID, chatName)
	e.updateListenerGauges()
	e.logger.Info("Listener removed", "instance_id", instanceID, "chat", chatName)
	return nil
}

// runMainScan is L1: discover new chats from each instance's main window
// and ingest whatever arrived there.
func (e *Engine) runMainScan(ctx context.Context) {
	defer e.wg.Done()
	errCount := 0
	for {
		wait := e.scaledWait(ctx, e.opts.PollInterval, errCount, scanErrorThreshold)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := e.forEachHealthyInstance(ctx, func(ctx context.Context, inst *models.Instance) error {
			if !e.instanceDue(e.nextScan, inst.InstanceID, inst.Config.PollInterval(), time.Now()) {
				return nil
			}
			return e.scanInstance(ctx, inst)
		}); err != nil {
			if ctx.Err() != nil {
				return
			}
			errCount++
			e.logger.Error("Main-window scan failed", "consecutive_errors", errCount, "error", err)
		} else {
			errCount = 0
		}
	}
}

// runListenerPoll is L2: harvest new messages from every registered chat.
func (e *Engine) runListenerPoll(ctx context.Context) {
	defer e.wg.Done()
	errCount := 0
	for {
		wait := e.scaledWait(ctx, e.opts.PollInterval, errCount, pollErrorThreshold)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := e.forEachHealthyInstance(ctx, func(ctx context.Context, inst *models.Instance) error {
			if !e.instanceDue(e.nextPoll, inst.InstanceID, inst.Config.PollInterval(), time.Now()) {
				return nil
			}
			return e.pollInstance(ctx, inst)
		}); err != nil {
			if ctx.Err() != nil {
				return
			}
			errCount++
			e.logger.Error("Listener poll failed", "consecutive_errors", errCount, "error", err)
		} else {
			errCount = 0
		}
	}
}

// runCleanup is L3: move idle listeners through IDLE and out.
func (e *Engine) runCleanup(ctx context.Context) {
	defer e.wg.Done()
	errCount := 0
	for {
		wait := e.opts.CleanupInterval
		if errCount >= cleanupErrorThreshold {
			wait *= errorWaitFactor
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := e.cleanupPass(ctx, time.Now()); err != nil {
			if ctx.Err() != nil {
				return
			}
			errCount++
			e.logger.Error("Listener cleanup failed", "consecutive_errors", errCount, "error", err)
		} else {
			errCount = 0
		}
	}
}

// forEachHealthyInstance runs fn for every enabled healthy instance,
// parallel across instances but sequential within each.
func (e *Engine) forEachHealthyInstance(ctx context.Context, fn func(ctx context.Context, inst *models.Instance) error) error {
	instances := e.pool.Instances()
	if len(instances) == 0 {
		return nil
	}

	weight := int64(len(instances))
	if weight > int64(e.opts.MaxParallel) {
		weight = int64(e.opts.MaxParallel)
	}
	sem := semaphore.NewWeighted(weight)

	var (
		mu       sync.Mutex
		firstErr error
	)
	for _, inst := range instances {
		if !e.pool.Healthy(inst.InstanceID) {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func(inst *models.Instance) {
			defer sem.Release(1)
			if err := fn(ctx, inst); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(inst)
	}

	// Draining the full weight joins all workers.
	if err := sem.Acquire(ctx, weight); err != nil {
		return err
	}
	sem.Release(weight)
	return firstErr
}

// scanInstance handles one instance's main window: register unseen chats
// (capacity permitting) and ingest everything that arrived.
func (e *Engine) scanInstance(ctx context.Context, inst *models.Instance) error {
	byChat, err := e.pool.MainWindowMessages(ctx, inst.InstanceID, e.opts.Listen)
	if err != nil {
		return err
	}

	cfg := inst.Config.Normalize()
	for chatName, msgs := range byChat {
		if !e.registry.Has(inst.InstanceID, chatName) {
			if e.registry.Count(inst.InstanceID) >= cfg.MaxListeners {
				e.logger.Warn("Listener capacity reached, chat not registered",
					"instance_id", inst.InstanceID, "chat", chatName,
					"max_listeners", cfg.MaxListeners)
			} else if err := e.AddListener(ctx, inst.InstanceID, chatName, false, false); err != nil {
				e.logger.Error("Failed to register discovered chat",
					"instance_id", inst.InstanceID, "chat", chatName, "error", err)
			}
		}
		if err := e.ingestor.IngestBatch(ctx, inst, chatName, msgs); err != nil {
			return err
		}
	}
	return nil
}

// pollInstance handles one instance's registered chats.
func (e *Engine) pollInstance(ctx context.Context, inst *models.Instance) error {
	for _, l := range e.registry.SnapshotInstance(inst.InstanceID) {
		if l.MarkedForRemoval {
			continue
		}
		msgs, err := e.pool.ListenerMessages(ctx, inst.InstanceID, l.ChatName)
		if err != nil {
			return err
		}
		if err := e.ingestor.IngestBatch(ctx, inst, l.ChatName, msgs); err != nil {
			return err
		}
	}
	return nil
}

// cleanupPass walks the listener set once. Idle listeners step ACTIVE→IDLE
// on one pass and IDLE→removed on a later one, so a chat gets a full extra
// cleanup interval to come back before its window closes. Listeners of
// unhealthy instances are left alone entirely: a down agent must not cost
// its chats their registrations, so recovery resumes where it left off.
func (e *Engine) cleanupPass(ctx context.Context, now time.Time) error {
	var firstErr error
	configs := make(map[string]models.InstanceConfig)
	due := make(map[string]bool)
	for _, inst := range e.pool.Instances() {
		configs[inst.InstanceID] = inst.Config.Normalize()
		due[inst.InstanceID] = e.instanceDue(e.nextCleanup, inst.InstanceID, inst.Config.CleanupInterval(), now)
	}

	for _, l := range e.registry.Snapshot() {
		if !l.Evictable() {
			continue
		}
		cfg, ok := configs[l.InstanceID]
		if !ok {
			continue
		}
		if !due[l.InstanceID] || !e.pool.Healthy(l.InstanceID) {
			continue
		}

		switch {
		case l.State == models.ListenerStateMarkedForRemoval:
			if err := e.finishRemoval(ctx, l); err != nil && firstErr == nil {
				firstErr = err
			}
		case now.Sub(l.LastMessageAt) <= cfg.ListenerIdleTimeout():
			// Still active.
		case l.State == models.ListenerStateActive:
			e.registry.SetState(l.InstanceID, l.ChatName, models.ListenerStateIdle)
			if err := e.listeners.SetState(ctx, l.InstanceID, l.ChatName, models.ListenerStateIdle); err != nil && firstErr == nil {
				firstErr = err
			}
		case l.State == models.ListenerStateIdle || l.State == models.ListenerStateInactive:
			e.registry.SetState(l.InstanceID, l.ChatName, models.ListenerStateMarkedForRemoval)
			if err := e.listeners.MarkForRemoval(ctx, l.InstanceID, l.ChatName); err != nil && firstErr == nil {
				firstErr = err
				continue
			}
			l.State = models.ListenerStateMarkedForRemoval
			if err := e.finishRemoval(ctx, l); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// finishRemoval confirms removal with the agent before the row goes away.
// On agent failure the listener stays marked and the next pass retries.
func (e *Engine) finishRemoval(ctx context.Context, l *models.Listener) error {
	if err := e.pool.RemoveListener(ctx, l.InstanceID, l.ChatName); err != nil {
		e.logger.Warn("Agent listener removal failed, will retry",
			"instance_id", l.InstanceID, "chat", l.ChatName, "error", err)
		return err
	}
	if err := e.listeners.Delete(ctx, l.InstanceID, l.ChatName); err != nil {
		return err
	}
	e.registry.Remove(l.InstanceID, l.ChatName)
	e.updateListenerGauges()
	e.logger.Info("Idle listener evicted", "instance_id", l.InstanceID, "chat", l.ChatName)
	return nil
}

// instanceDue reports whether one instance's own interval has elapsed,
// advancing its next-due time when it has. Instances without an explicit
// interval (zero) follow the loop's base tick.
func (e *Engine) instanceDue(sched map[string]time.Time, instanceID string, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return true
	}
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if next, ok := sched[instanceID]; ok && now.Before(next) {
		return false
	}
	sched[instanceID] = now.Add(interval)
	return true
}

// scaledWait applies error backoff and queue backpressure to a loop's base
// interval.
func (e *Engine) scaledWait(ctx context.Context, base time.Duration, errCount, threshold int) time.Duration {
	wait := base
	if errCount >= threshold {
		wait *= errorWaitFactor
	}

	pending, err := e.pending.CountPending(ctx)
	if err != nil {
		return wait
	}
	if e.metrics != nil {
		e.metrics.PendingDepth.Set(float64(pending))
	}
	if pending >= e.opts.HighWatermark {
		factor := pending / e.opts.HighWatermark
		if factor > backpressureCap {
			factor = backpressureCap
		}
		wait *= time.Duration(factor)
	}
	return wait
}

func (e *Engine) updateListenerGauges() {
	if e.metrics == nil {
		return
	}
	counts := make(map[string]int)
	for _, l := range e.registry.Snapshot() {
		counts[l.InstanceID]++
	}
	e.metrics.ActiveListeners.Reset()
	for instanceID, n := range counts {
		e.metrics.ActiveListeners.WithLabelValues(instanceID).Set(float64(n))
	}
}
