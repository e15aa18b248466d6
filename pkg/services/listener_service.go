package services

import (
	"context"
	"errors"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/store"
)

// ListenerEngine is what the service needs from the listener engine: the
// engine owns the add/remove invariants (agent call before row before
// registry).
type ListenerEngine interface {
	AddListener(ctx context.Context, instanceID, chatName string, manual, fixed bool) error
	RemoveListener(ctx context.Context, instanceID, chatName string) error
}

// ListenerInput is the domain-level data for manually adding a listener.
type ListenerInput struct {
	InstanceID string
	ChatName   string
	Fixed      bool
}

// ListenerService exposes the listener set to the management surface.
type ListenerService struct {
	listeners *store.ListenerStore
	instances *store.InstanceStore
	engine    ListenerEngine
}

// NewListenerService creates a ListenerService.
func NewListenerService(listeners *store.ListenerStore, instances *store.InstanceStore, engine ListenerEngine) *ListenerService {
	if listeners == nil {
		panic("NewListenerService: listeners must not be nil")
	}
	if engine == nil {
		panic("NewListenerService: engine must not be nil")
	}
	return &ListenerService{listeners: listeners, instances: instances, engine: engine}
}

// List returns all listeners, optionally filtered by instance.
func (s *ListenerService) List(ctx context.Context, instanceID string) ([]*models.Listener, error) {
	if instanceID != "" {
		return s.listeners.ListByInstance(ctx, instanceID)
	}
	return s.listeners.List(ctx)
}

// Add manually registers a listener. Manual listeners are never
// idle-evicted.
func (s *ListenerService) Add(ctx context.Context, input ListenerInput) (*models.Listener, error) {
	if input.InstanceID == "" {
		return nil, NewValidationError("instance_id", "instance_id is required")
	}
	if input.ChatName == "" {
		return nil, NewValidationError("chat_name", "chat_name is required")
	}
	if s.instances != nil {
		if _, err := s.instances.Get(ctx, input.InstanceID); errors.Is(err, store.ErrNotFound) {
			return nil, NewValidationError("instance_id", "instance does not exist")
		} else if err != nil {
			return nil, err
		}
	}
	if _, err := s.listeners.Get(ctx, input.InstanceID, input.ChatName); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := s.engine.AddListener(ctx, input.InstanceID, input.ChatName, true, input.Fixed); err != nil {
		return nil, err
	}
	l, err := s.listeners.Get(ctx, input.InstanceID, input.ChatName)
	return l, mapStoreErr(err)
}

// Remove unregisters a listener immediately, bypassing idle eviction.
func (s *ListenerService) Remove(ctx context.Context, instanceID, chatName string) error {
	if _, err := s.listeners.Get(ctx, instanceID, chatName); err != nil {
		return mapStoreErr(err)
	}
	return s.engine.RemoveListener(ctx, instanceID, chatName)
}
