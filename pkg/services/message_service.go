package services

import (
	"context"

	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/store"
)

const defaultMessageListLimit = 50

// MessageService exposes the message log and the attempt ledger to the
// management surface.
type MessageService struct {
	messages *store.MessageStore
	attempts *store.AttemptStore
}

// NewMessageService creates a MessageService.
func NewMessageService(messages *store.MessageStore, attempts *store.AttemptStore) *MessageService {
	if messages == nil {
		panic("NewMessageService: messages must not be nil")
	}
	return &MessageService{messages: messages, attempts: attempts}
}

// List returns messages matching the filters, newest first.
func (s *MessageService) List(ctx context.Context, f models.MessageFilters) ([]*models.Message, error) {
	if f.Limit <= 0 {
		f.Limit = defaultMessageListLimit
	}
	if f.Status != "" && !f.Status.IsValid() {
		return nil, NewValidationError("status", "unknown delivery status")
	}
	return s.messages.List(ctx, f)
}

// Get returns one message.
func (s *MessageService) Get(ctx context.Context, messageID string) (*models.Message, error) {
	m, err := s.messages.Get(ctx, messageID)
	return m, mapStoreErr(err)
}

// Attempts returns the delivery attempt ledger for one message.
func (s *MessageService) Attempts(ctx context.Context, messageID string) ([]*models.DeliveryAttempt, error) {
	if _, err := s.messages.Get(ctx, messageID); err != nil {
		return nil, mapStoreErr(err)
	}
	if s.attempts == nil {
		return nil, nil
	}
	return s.attempts.ListByMessage(ctx, messageID)
}

// Redeliver returns a terminal message to PENDING for another delivery
// round with a fresh attempt budget.
func (s *MessageService) Redeliver(ctx context.Context, messageID string) error {
	m, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return mapStoreErr(err)
	}
	if !m.DeliveryStatus.IsTerminal() {
		return ErrConflict
	}
	return s.messages.Requeue(ctx, messageID)
}

// PendingCount returns the delivery-queue depth.
func (s *MessageService) PendingCount(ctx context.Context) (int, error) {
	return s.messages.CountPending(ctx)
}
