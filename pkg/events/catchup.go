package events

import (
	"context"

	"github.com/wxgate/wxgate/pkg/models"
)

// MessageSource is the slice of the message store catch-up needs.
type MessageSource interface {
	ListSince(ctx context.Context, sinceSeq int64, limit int) ([]*models.Message, error)
}

// MessageCatchup replays messages-channel events from the persisted message
// log.
type MessageCatchup struct {
	source MessageSource
}

// NewMessageCatchup creates a CatchupQuerier over the message store.
func NewMessageCatchup(source MessageSource) *MessageCatchup {
	return &MessageCatchup{source: source}
}

// GetCatchupEvents returns one message.status event per message with seq
// greater than sinceID, in sequence order. The current delivery status
// stands in for the individual transitions the client missed.
func (c *MessageCatchup) GetCatchupEvents(ctx context.Context, sinceID int64, limit int) ([]CatchupEvent, error) {
	messages, err := c.source.ListSince(ctx, sinceID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]CatchupEvent, len(messages))
	for i, msg := range messages {
		out[i] = CatchupEvent{
			ID:      msg.Seq,
			Payload: messagePayload(EventTypeMessageStatus, msg),
		}
	}
	return out, nil
}
