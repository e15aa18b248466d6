// Package events provides real-time event delivery to management clients
// over WebSocket. Events are broadcast in-process; the messages channel is
// additionally replayable from the persisted message log by sequence.
package events

// Channels clients may subscribe to.
const (
	// ChannelMessages carries message ingest and delivery-status events.
	// Catch-up replays from the message log by sequence number.
	ChannelMessages = "messages"

	// ChannelStatus carries instance status transitions and system
	// warnings. Transient: no catch-up.
	ChannelStatus = "status"
)

// Event types sent to clients.
const (
	EventTypeMessageIngested = "message.ingested"
	EventTypeMessageStatus   = "message.status"
	EventTypeInstanceStatus  = "instance.status"
	EventTypeSystemWarning   = "system.warning"
)

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // "messages" or "status"
	LastEventID *int64 `json:"last_event_id,omitempty"` // message seq, for catchup
}

// knownChannel rejects subscriptions to channels that will never see a
// broadcast.
func knownChannel(channel string) bool {
	return channel == ChannelMessages || channel == ChannelStatus
}
