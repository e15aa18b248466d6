// Package registry provides the process-wide configuration registry: an
// in-process change-signal bus plus a typed key/value store with
// encrypted-at-rest values.
package registry

import (
	"log/slog"
	"sync"
)

// ChangeKind identifies which entity family was mutated.
type ChangeKind string

const (
	ChangeKindInstance ChangeKind = "instance"
	ChangeKindPlatform ChangeKind = "platform"
	ChangeKindRule     ChangeKind = "rule"
	ChangeKindListener ChangeKind = "listener"
	ChangeKindConfig   ChangeKind = "config"
)

// Change is one mutation signal. ID is the entity id, or empty for bulk
// changes where subscribers should refresh everything.
type Change struct {
	Kind ChangeKind
	ID   string
}

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind loses signals and must do a full refresh on the next one,
// which every subscriber in this codebase does anyway.
const subscriberBuffer = 16

// Bus fans change signals out to subscribers. Sends never block: a full
// subscriber channel drops the signal and logs.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]chan Change)}
}

// Subscribe registers a named subscriber and returns its signal channel.
// Re-subscribing under the same name replaces the previous channel.
func (b *Bus) Subscribe(name string) <-chan Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[name]; ok {
		close(old)
	}
	ch := make(chan Change, subscriberBuffer)
	b.subscribers[name] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[name]; ok {
		close(ch)
		delete(b.subscribers, name)
	}
}

// Publish delivers a change signal to every subscriber.
func (b *Bus) Publish(change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for name, ch := range b.subscribers {
		select {
		case ch <- change:
		default:
			slog.Warn("Change signal dropped for slow subscriber",
				"subscriber", name, "kind", change.Kind, "id", change.ID)
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, name)
	}
}
