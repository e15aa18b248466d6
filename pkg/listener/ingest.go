package listener

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/wxgate/wxgate/pkg/agent"
	"github.com/wxgate/wxgate/pkg/metrics"
	"github.com/wxgate/wxgate/pkg/models"
)

// MessageSink is the slice of the message store ingest needs.
type MessageSink interface {
	Ingest(ctx context.Context, m *models.Message) (duplicate bool, err error)
}

// EventPublisher announces ingested messages to WebSocket clients.
type EventPublisher interface {
	PublishMessageIngested(msg *models.Message)
}

// Ingestor converts raw agent messages into persisted messages. Shared by
// the main-window scan and the per-listener poll so both paths dedup and
// flip listener state the same way.
type Ingestor struct {
	messages  MessageSink
	listeners ListenerStore
	registry  *Registry
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewIngestor creates an Ingestor. publisher and m may be nil.
func NewIngestor(messages MessageSink, listeners ListenerStore, registry *Registry, publisher EventPublisher, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		messages:  messages,
		listeners: listeners,
		registry:  registry,
		publisher: publisher,
		metrics:   m,
		logger:    slog.Default(),
	}
}

// IngestBatch persists a batch of harvested messages for one chat.
func (in *Ingestor) IngestBatch(ctx context.Context, inst *models.Instance, chatName string, msgs []agent.AgentMessage) error {
	for i := range msgs {
		if err := in.ingest(ctx, inst, chatName, &msgs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (in *Ingestor) ingest(ctx context.Context, inst *models.Instance, chatName string, am *agent.AgentMessage) error {
	// Clock markers carry no content worth keeping.
	if am.Type == agent.SenderTypeTime {
		return nil
	}

	content := normalizeContent(am.Content)
	receivedAt := time.Now()
	if am.TimestampMS > 0 {
		receivedAt = time.UnixMilli(am.TimestampMS)
	}

	msg := &models.Message{
		MessageID:    "msg-" + shortuuid.New(),
		InstanceID:   inst.InstanceID,
		ChatName:     chatName,
		Sender:       am.Sender,
		SenderRemark: am.SenderRemark,
		Content:      am.Content,
		MType:        parseMType(am.MType),
		ContentHash:  contentHash(am.Sender, content),
		ReceivedAt:   receivedAt,
		AtMe:         atMentions(inst.Name, am.Content),
	}
	if am.FilePath != "" {
		msg.LocalFilePath = &am.FilePath
	}

	// Only friend messages enter the delivery pipeline. Our own echoes and
	// system notices are kept for the audit trail but never delivered.
	if !am.FromFriend() {
		msg.DeliveryStatus = models.DeliveryStatusSkipped
		msg.LastError = "sender_type:" + am.Type
	}

	duplicate, err := in.messages.Ingest(ctx, msg)
	if err != nil {
		return err
	}
	if duplicate {
		if in.metrics != nil {
			in.metrics.MessagesDeduped.WithLabelValues(inst.InstanceID).Inc()
		}
		return nil
	}

	if in.metrics != nil {
		in.metrics.MessagesIngested.WithLabelValues(inst.InstanceID).Inc()
		if msg.DeliveryStatus == models.DeliveryStatusSkipped {
			in.metrics.MessagesSkipped.WithLabelValues("sender_type").Inc()
		}
	}
	if in.publisher != nil {
		in.publisher.PublishMessageIngested(msg)
	}

	in.touchListener(ctx, inst.InstanceID, chatName, receivedAt)
	return nil
}

// touchListener flips INACTIVE and IDLE listeners back to ACTIVE on message
// activity and advances last_message_ts.
func (in *Ingestor) touchListener(ctx context.Context, instanceID, chatName string, at time.Time) {
	l, ok := in.registry.Get(instanceID, chatName)
	if !ok {
		return
	}
	if l.State == models.ListenerStateMarkedForRemoval {
		return
	}
	in.registry.TouchActivity(instanceID, chatName, at)
	if err := in.listeners.Touch(ctx, instanceID, chatName, at, models.ListenerStateActive, true); err != nil {
		in.logger.Warn("Failed to persist listener activity",
			"instance_id", instanceID, "chat", chatName, "error", err)
	}
}

// contentHash fingerprints a message for dedup: same sender saying the same
// thing (after whitespace normalization) within the window is one message.
func contentHash(sender, normalizedContent string) string {
	h := sha256.Sum256([]byte(sender + "\n" + normalizedContent))
	return hex.EncodeToString(h[:])
}

// normalizeContent trims and collapses runs of whitespace to single spaces.
func normalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// atMentions reports whether the content @-mentions the instance's bot name.
func atMentions(botName, content string) bool {
	if botName == "" {
		return false
	}
	return strings.Contains(content, "@"+botName)
}

func parseMType(s string) models.MType {
	mt := models.MType(s)
	if mt.IsValid() {
		return mt
	}
	return models.MTypeText
}
