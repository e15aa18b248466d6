package models

import "time"

// ListenerState tracks a listener through its lifecycle. A removed listener
// has no row; removal is observable only through events.
type ListenerState string

const (
	ListenerStateInactive         ListenerState = "inactive"
	ListenerStateActive           ListenerState = "active"
	ListenerStateIdle             ListenerState = "idle"
	ListenerStateMarkedForRemoval ListenerState = "marked_for_removal"
	ListenerStateRemoved          ListenerState = "removed"
)

// IsValid checks if the listener state is a known value.
func (s ListenerState) IsValid() bool {
	switch s {
	case ListenerStateInactive, ListenerStateActive, ListenerStateIdle,
		ListenerStateMarkedForRemoval, ListenerStateRemoved:
		return true
	default:
		return false
	}
}

// Listener is one actively polled (instance, chat) pair.
type Listener struct {
	InstanceID          string        `json:"instance_id"`
	ChatName            string        `json:"chat_name"`
	State               ListenerState `json:"state"`
	AddedAt             time.Time     `json:"added_at"`
	LastMessageAt       time.Time     `json:"last_message_at"`
	MarkedForRemoval    bool          `json:"marked_for_removal"`
	Manual              bool          `json:"manual"`
	ConversationStarted bool          `json:"conversation_started"`
	Fixed               bool          `json:"fixed"`
}

// Evictable reports whether the cleanup loop may idle-evict this listener.
// Manually added and pinned listeners are never evicted.
func (l *Listener) Evictable() bool {
	return !l.Manual && !l.Fixed
}
