package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/wxgate/wxgate/pkg/models"
)

// Publisher builds typed event payloads and broadcasts them through the
// connection manager. All publishes are fire-and-forget.
type Publisher struct {
	manager *ConnectionManager
	logger  *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(manager *ConnectionManager) *Publisher {
	return &Publisher{manager: manager, logger: slog.Default()}
}

// PublishMessageIngested announces a newly persisted message.
func (p *Publisher) PublishMessageIngested(msg *models.Message) {
	p.broadcast(ChannelMessages, messagePayload(EventTypeMessageIngested, msg))
}

// PublishMessageStatus announces a delivery-status transition.
func (p *Publisher) PublishMessageStatus(msg *models.Message) {
	p.broadcast(ChannelMessages, messagePayload(EventTypeMessageStatus, msg))
}

// PublishInstanceStatus announces an instance status transition.
func (p *Publisher) PublishInstanceStatus(instanceID string, status models.InstanceStatus, lastError string) {
	p.broadcast(ChannelStatus, map[string]any{
		"type":        EventTypeInstanceStatus,
		"instance_id": instanceID,
		"status":      string(status),
		"last_error":  lastError,
		"at":          time.Now().UnixMilli(),
	})
}

// PublishWarning announces an operator-facing system warning.
func (p *Publisher) PublishWarning(category, message string) {
	p.broadcast(ChannelStatus, map[string]any{
		"type":     EventTypeSystemWarning,
		"category": category,
		"message":  message,
		"at":       time.Now().UnixMilli(),
	})
}

func (p *Publisher) broadcast(channel string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("Failed to marshal event", "channel", channel, "error", err)
		return
	}
	p.manager.Broadcast(channel, data)
}

// messagePayload is the wire shape shared by live broadcasts and catch-up
// replay. seq doubles as the client's catch-up cursor.
func messagePayload(eventType string, msg *models.Message) map[string]any {
	payload := map[string]any{
		"type":            eventType,
		"seq":             msg.Seq,
		"message_id":      msg.MessageID,
		"instance_id":     msg.InstanceID,
		"chat_name":       msg.ChatName,
		"sender":          msg.Sender,
		"mtype":           string(msg.MType),
		"delivery_status": string(msg.DeliveryStatus),
		"received_at":     msg.ReceivedAt.UnixMilli(),
	}
	if msg.LastError != "" {
		payload["last_error"] = msg.LastError
	}
	if msg.ReplyContent != nil {
		payload["reply_content"] = *msg.ReplyContent
	}
	return payload
}
