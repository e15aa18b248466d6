package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/redact"
	"github.com/wxgate/wxgate/pkg/registry"
	"github.com/wxgate/wxgate/pkg/store"
)

// InstanceSource is the slice of the instance store the pool needs.
type InstanceSource interface {
	Get(ctx context.Context, instanceID string) (*models.Instance, error)
	ListEnabled(ctx context.Context) ([]*models.Instance, error)
	UpdateStatus(ctx context.Context, instanceID string, status models.InstanceStatus, lastError string, lastActive *time.Time) error
}

// StatusHook observes instance status transitions. Used by the event
// publisher; called outside any pool lock.
type StatusHook func(instanceID string, status models.InstanceStatus, lastError string)

// entry is one managed instance: its client, its health loop, and the mutex
// that serializes session-mutating calls.
type entry struct {
	mu     sync.Mutex
	client *Client
	inst   *models.Instance

	initialized bool
	healthy     atomic.Bool
	lastStatus  models.InstanceStatus

	cancel context.CancelFunc
	done   chan struct{}
}

// config returns the instance tunables without holding the mutex across the
// caller's work.
func (e *entry) config() models.InstanceConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inst.Config
}

// Pool holds one managed client per enabled instance. Session-mutating
// calls (Initialize, AddListener, RemoveListener) serialize per instance;
// reads run concurrently. A health loop per instance drives status and
// re-initialization, and instance change signals rebuild or drop clients.
type Pool struct {
	source  InstanceSource
	bus     *registry.Bus
	timeout time.Duration
	hook    StatusHook
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	subDone chan struct{}
}

// NewPool creates a Pool. timeout bounds each agent HTTP call; hook may be
// nil.
func NewPool(source InstanceSource, bus *registry.Bus, timeout time.Duration, hook StatusHook) *Pool {
	return &Pool{
		source:  source,
		bus:     bus,
		timeout: timeout,
		hook:    hook,
		logger:  slog.Default(),
		entries: make(map[string]*entry),
	}
}

// Start builds clients for every enabled instance and launches their health
// loops plus the change-signal subscriber.
func (p *Pool) Start(ctx context.Context) error {
	if p.cancel != nil {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	instances, err := p.source.ListEnabled(p.ctx)
	if err != nil {
		return NewError(KindStoreError, "failed to load instances", err)
	}
	for _, inst := range instances {
		p.add(inst)
	}

	p.subDone = make(chan struct{})
	go p.watchChanges()

	p.logger.Info("Agent pool started", "instances", len(instances))
	return nil
}

// Stop tears down every health loop and the change subscriber.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.bus.Unsubscribe("agent-pool")
	<-p.subDone

	p.mu.Lock()
	for id, e := range p.entries {
		e.cancel()
		<-e.done
		delete(p.entries, id)
	}
	p.mu.Unlock()
	p.logger.Info("Agent pool stopped")
}

// Instances returns a snapshot of the managed instances.
func (p *Pool) Instances() []*models.Instance {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Instance, 0, len(p.entries))
	for _, e := range p.entries {
		e.mu.Lock()
		inst := *e.inst
		e.mu.Unlock()
		out = append(out, &inst)
	}
	return out
}

// Healthy reports whether an instance is initialized and passing health
// checks. Unknown instances are unhealthy.
func (p *Pool) Healthy(instanceID string) bool {
	p.mu.RLock()
	e, ok := p.entries[instanceID]
	p.mu.RUnlock()
	return ok && e.healthy.Load()
}

// Initialize (re)establishes an instance's agent session.
func (p *Pool) Initialize(ctx context.Context, instanceID string) error {
	e, err := p.entry(instanceID)
	if err != nil {
		return err
	}
	return p.initialize(ctx, e)
}

// AddListener registers a chat on the instance's agent. Serialized with
// other session-mutating calls on the same instance.
func (p *Pool) AddListener(ctx context.Context, instanceID, chat string, opts ListenOptions) error {
	e, err := p.entry(instanceID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.AddListener(ctx, chat, opts)
}

// RemoveListener deregisters a chat on the instance's agent.
func (p *Pool) RemoveListener(ctx context.Context, instanceID, chat string) error {
	e, err := p.entry(instanceID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.RemoveListener(ctx, chat)
}

// MainWindowMessages harvests the instance's unread main-window messages.
func (p *Pool) MainWindowMessages(ctx context.Context, instanceID string, opts ListenOptions) (map[string][]AgentMessage, error) {
	e, err := p.entry(instanceID)
	if err != nil {
		return nil, err
	}
	return e.client.GetUnreadMainWindowMessages(ctx, opts)
}

// ListenerMessages polls one listened chat on the instance.
func (p *Pool) ListenerMessages(ctx context.Context, instanceID, chat string) ([]AgentMessage, error) {
	e, err := p.entry(instanceID)
	if err != nil {
		return nil, err
	}
	return e.client.GetListenerMessages(ctx, chat)
}

// SendText sends a reply into a chat on the instance.
func (p *Pool) SendText(ctx context.Context, instanceID, chat, text string, atList []string) error {
	e, err := p.entry(instanceID)
	if err != nil {
		return err
	}
	return e.client.SendText(ctx, chat, text, atList)
}

// SendFile sends files into a chat on the instance.
func (p *Pool) SendFile(ctx context.Context, instanceID, chat string, filePaths []string) error {
	e, err := p.entry(instanceID)
	if err != nil {
		return err
	}
	return e.client.SendFile(ctx, chat, filePaths)
}

// AtAll sends an @-everyone message into a group chat on the instance.
func (p *Pool) AtAll(ctx context.Context, instanceID, chat, text string) error {
	e, err := p.entry(instanceID)
	if err != nil {
		return err
	}
	return e.client.AtAll(ctx, chat, text)
}

// GetChatInfo returns chat metadata from the instance.
func (p *Pool) GetChatInfo(ctx context.Context, instanceID, chat string) (*ChatInfo, error) {
	e, err := p.entry(instanceID)
	if err != nil {
		return nil, err
	}
	return e.client.GetChatInfo(ctx, chat)
}

func (p *Pool) entry(instanceID string) (*entry, error) {
	p.mu.RLock()
	e, ok := p.entries[instanceID]
	p.mu.RUnlock()
	if !ok {
		return nil, NewError(KindConfigError, "unknown instance "+instanceID, nil)
	}
	return e, nil
}

// add builds an entry and launches its health loop. Caller must not hold
// p.mu.
func (p *Pool) add(inst *models.Instance) {
	inst.Config = inst.Config.Normalize()
	e := &entry{
		client: NewClient(inst.BaseURL, inst.APIKey, p.timeout),
		inst:   inst,
		done:   make(chan struct{}),
	}
	var hctx context.Context
	hctx, e.cancel = context.WithCancel(p.ctx)

	p.mu.Lock()
	p.entries[inst.InstanceID] = e
	p.mu.Unlock()

	go p.healthLoop(hctx, e)
}

// remove stops an instance's health loop and drops its client.
func (p *Pool) remove(instanceID string) {
	p.mu.Lock()
	e, ok := p.entries[instanceID]
	if ok {
		delete(p.entries, instanceID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	<-e.done
	p.logger.Info("Agent client removed", "instance_id", instanceID)
}

// watchChanges rebuilds or drops clients when instance rows change.
func (p *Pool) watchChanges() {
	defer close(p.subDone)

	ch := p.bus.Subscribe("agent-pool")
	for {
		select {
		case <-p.ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			if change.Kind != registry.ChangeKindInstance {
				continue
			}
			p.reconcile(change.ID)
		}
	}
}

func (p *Pool) reconcile(instanceID string) {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	inst, err := p.source.Get(ctx, instanceID)
	cancel()

	switch {
	case errors.Is(err, store.ErrNotFound):
		p.remove(instanceID)
		return
	case err != nil:
		p.logger.Error("Failed to reload instance", "instance_id", instanceID,
			"error", redact.Error(err))
		return
	case !inst.Enabled:
		p.remove(instanceID)
		return
	}

	// Rebuild: the base URL, key, or tunables may have changed.
	p.remove(instanceID)
	p.add(inst)
	p.logger.Info("Agent client rebuilt", "instance_id", instanceID)
}

// initialize establishes the agent session under the entry mutex.
func (p *Pool) initialize(ctx context.Context, e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.Initialize(ctx); err != nil {
		e.initialized = false
		e.healthy.Store(false)
		return err
	}
	e.initialized = true
	e.healthy.Store(true)
	return nil
}
