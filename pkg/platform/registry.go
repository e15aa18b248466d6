package platform

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wxgate/wxgate/pkg/agent"
	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/registry"
)

// PlatformSource is the slice of the platform store the registry needs.
// Rows arrive with their config already decrypted.
type PlatformSource interface {
	Get(ctx context.Context, platformID string) (*models.Platform, error)
}

// Registry builds and caches initialized platforms by platform_id. A change
// signal invalidates the affected entry; the next resolve rebuilds it from
// the stored row.
type Registry struct {
	source PlatformSource
	bus    *registry.Bus
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Platform

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates a platform registry.
func NewRegistry(source PlatformSource, bus *registry.Bus) *Registry {
	return &Registry{
		source: source,
		bus:    bus,
		logger: slog.Default(),
		cache:  make(map[string]Platform),
	}
}

// Start subscribes to platform change signals.
func (r *Registry) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	ch := r.bus.Subscribe("platform-registry")
	go r.watchChanges(ctx, ch)
}

// Stop unsubscribes and joins the change watcher.
func (r *Registry) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.bus.Unsubscribe("platform-registry")
	<-r.done
}

// Resolve returns the initialized platform for platform_id, building it on
// first use. Disabled or unknown platforms yield a ConfigError.
func (r *Registry) Resolve(ctx context.Context, platformID string) (Platform, error) {
	r.mu.Lock()
	if p, ok := r.cache[platformID]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	row, err := r.source.Get(ctx, platformID)
	if err != nil {
		return nil, agent.NewError(agent.KindConfigError, "platform "+platformID+" not found", err)
	}
	if !row.Enabled {
		return nil, agent.NewError(agent.KindConfigError, "platform "+platformID+" is disabled", nil)
	}

	p, err := Build(row.Kind)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(ctx, row.Config); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[platformID] = p
	r.mu.Unlock()

	r.logger.Debug("Platform initialized", "platform_id", platformID, "kind", row.Kind)
	return p, nil
}

// Build returns an uninitialized platform of the given kind.
func Build(kind models.PlatformKind) (Platform, error) {
	switch kind {
	case models.PlatformKindDify:
		return NewDify(), nil
	case models.PlatformKindOpenAI:
		return NewOpenAI(), nil
	case models.PlatformKindKeyword:
		return NewKeyword(), nil
	default:
		return nil, agent.NewError(agent.KindConfigError, "unknown platform kind "+string(kind), nil)
	}
}

// Invalidate drops a cached platform so the next resolve rebuilds it.
func (r *Registry) Invalidate(platformID string) {
	r.mu.Lock()
	delete(r.cache, platformID)
	r.mu.Unlock()
}

func (r *Registry) watchChanges(ctx context.Context, ch <-chan registry.Change) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			if change.Kind != registry.ChangeKindPlatform {
				continue
			}
			r.Invalidate(change.ID)
		}
	}
}
