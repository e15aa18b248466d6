package models

import "time"

// MType classifies message content as reported by the agent.
type MType string

const (
	MTypeText   MType = "text"
	MTypeImage  MType = "image"
	MTypeFile   MType = "file"
	MTypeVoice  MType = "voice"
	MTypeVideo  MType = "video"
	MTypeSystem MType = "system"
)

// IsValid checks if the message type is a known value.
func (m MType) IsValid() bool {
	switch m {
	case MTypeText, MTypeImage, MTypeFile, MTypeVoice, MTypeVideo, MTypeSystem:
		return true
	default:
		return false
	}
}

// DeliveryStatus tracks a message through the delivery pipeline.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusDelivering DeliveryStatus = "delivering"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusFailed     DeliveryStatus = "failed"
	DeliveryStatusSkipped    DeliveryStatus = "skipped"
)

// IsValid checks if the delivery status is a known value.
func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusDelivering, DeliveryStatusDelivered,
		DeliveryStatusFailed, DeliveryStatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further delivery work happens for this status.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusSkipped:
		return true
	default:
		return false
	}
}

// Message is one harvested chat message and its delivery state.
type Message struct {
	MessageID        string         `json:"message_id"`
	Seq              int64          `json:"seq"`
	InstanceID       string         `json:"instance_id"`
	ChatName         string         `json:"chat_name"`
	Sender           string         `json:"sender"`
	SenderRemark     string         `json:"sender_remark,omitempty"`
	Content          string         `json:"content"`
	MType            MType          `json:"mtype"`
	ContentHash      string         `json:"content_hash"`
	LocalFilePath    *string        `json:"local_file_path,omitempty"`
	ReceivedAt       time.Time      `json:"received_at"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status"`
	DeliveryAttempts int            `json:"delivery_attempts"`
	NextAttemptAt    time.Time      `json:"next_attempt_at,omitempty"`
	DeliveringSince  *time.Time     `json:"delivering_since,omitempty"`
	ReplyContent     *string        `json:"reply_content,omitempty"`
	ReplyStatus      string         `json:"reply_status,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	AtMe             bool           `json:"at_me,omitempty"`
}

// MessageFilters contains filtering options for listing messages.
type MessageFilters struct {
	InstanceID string         `json:"instance_id,omitempty"`
	ChatName   string         `json:"chat,omitempty"`
	Since      *time.Time     `json:"since,omitempty"`
	Status     DeliveryStatus `json:"status,omitempty"`
	Limit      int            `json:"limit,omitempty"`
	Offset     int            `json:"offset,omitempty"`
}
