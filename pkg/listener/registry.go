package listener

import (
	"sync"
	"time"

	"github.com/wxgate/wxgate/pkg/models"
)

// Registry is the engine's in-memory view of the active listener set,
// keyed by instance then chat. The persistent rows exist only so restarts
// resume where they left off; between restarts this map is authoritative.
type Registry struct {
	mu         sync.RWMutex
	byInstance map[string]map[string]*models.Listener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byInstance: make(map[string]map[string]*models.Listener)}
}

// Add inserts or replaces a listener. The registry stores its own copy.
func (r *Registry) Add(l *models.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chats, ok := r.byInstance[l.InstanceID]
	if !ok {
		chats = make(map[string]*models.Listener)
		r.byInstance[l.InstanceID] = chats
	}
	cp := *l
	chats[l.ChatName] = &cp
}

// Remove deletes a listener if present.
func (r *Registry) Remove(instanceID, chatName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chats, ok := r.byInstance[instanceID]; ok {
		delete(chats, chatName)
		if len(chats) == 0 {
			delete(r.byInstance, instanceID)
		}
	}
}

// Get returns a copy of one listener.
func (r *Registry) Get(instanceID, chatName string) (*models.Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byInstance[instanceID][chatName]
	if !ok {
		return nil, false
	}
	cp := *l
	return &cp, true
}

// Has reports whether a listener exists for the chat.
func (r *Registry) Has(instanceID, chatName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byInstance[instanceID][chatName]
	return ok
}

// Count returns the listener count for one instance.
func (r *Registry) Count(instanceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byInstance[instanceID])
}

// Snapshot returns copies of all listeners. The poll and cleanup loops
// iterate over a snapshot so registry mutations never race a tick.
func (r *Registry) Snapshot() []*models.Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Listener
	for _, chats := range r.byInstance {
		for _, l := range chats {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out
}

// SnapshotInstance returns copies of one instance's listeners.
func (r *Registry) SnapshotInstance(instanceID string) []*models.Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chats := r.byInstance[instanceID]
	out := make([]*models.Listener, 0, len(chats))
	for _, l := range chats {
		cp := *l
		out = append(out, &cp)
	}
	return out
}

// SetState updates one listener's lifecycle state.
func (r *Registry) SetState(instanceID, chatName string, state models.ListenerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.byInstance[instanceID][chatName]; ok {
		l.State = state
		if state == models.ListenerStateMarkedForRemoval {
			l.MarkedForRemoval = true
		}
	}
}

// TouchActivity records message activity on a listener.
func (r *Registry) TouchActivity(instanceID, chatName string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.byInstance[instanceID][chatName]; ok {
		l.LastMessageAt = at
		l.State = models.ListenerStateActive
		l.ConversationStarted = true
	}
}
