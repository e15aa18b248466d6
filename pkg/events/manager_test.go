package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCatchupQuerier implements CatchupQuerier for tests.
type mockCatchupQuerier struct {
	events []CatchupEvent
	err    error
}

func (m *mockCatchupQuerier) GetCatchupEvents(_ context.Context, sinceID int64, limit int) ([]CatchupEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []CatchupEvent
	for _, evt := range m.events {
		if evt.ID > sinceID {
			out = append(out, evt)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func setupTestManager(t *testing.T, catchup CatchupQuerier) (*ConnectionManager, *httptest.Server) {
	t.Helper()

	manager := NewConnectionManager(catchup, 5*time.Second, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))

	t.Cleanup(server.Close)
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnectionEstablished(t *testing.T) {
	_, server := setupTestManager(t, nil)
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestSubscribeAndBroadcast(t *testing.T) {
	manager, server := setupTestManager(t, nil)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: ChannelMessages})
	confirm := readJSON(t, conn)
	assert.Equal(t, "subscription.confirmed", confirm["type"])
	assert.Equal(t, ChannelMessages, confirm["channel"])

	require.Eventually(t, func() bool {
		return manager.subscriberCount(ChannelMessages) == 1
	}, 2*time.Second, 10*time.Millisecond)

	manager.Broadcast(ChannelMessages, []byte(`{"type":"message.ingested","seq":1}`))
	got := readJSON(t, conn)
	assert.Equal(t, "message.ingested", got["type"])

	// Events on other channels are not delivered to this subscriber.
	manager.Broadcast(ChannelStatus, []byte(`{"type":"instance.status"}`))
	manager.Broadcast(ChannelMessages, []byte(`{"type":"message.status","seq":2}`))
	got = readJSON(t, conn)
	assert.Equal(t, "message.status", got["type"])
}

func TestSubscribeUnknownChannel(t *testing.T) {
	_, server := setupTestManager(t, nil)
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "bogus"})
	msg := readJSON(t, conn)
	assert.Equal(t, "subscription.error", msg["type"])
	assert.Equal(t, "bogus", msg["channel"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	manager, server := setupTestManager(t, nil)
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: ChannelStatus})
	readJSON(t, conn)
	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: ChannelStatus})

	require.Eventually(t, func() bool {
		return manager.subscriberCount(ChannelStatus) == 0
	}, 2*time.Second, 10*time.Millisecond)

	manager.Broadcast(ChannelStatus, []byte(`{"type":"instance.status"}`))

	// Ping/pong proves nothing else was queued in between.
	writeJSON(t, conn, ClientMessage{Action: "ping"})
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestCatchup(t *testing.T) {
	catchup := &mockCatchupQuerier{events: []CatchupEvent{
		{ID: 1, Payload: map[string]any{"type": EventTypeMessageStatus, "message_id": "m1"}},
		{ID: 2, Payload: map[string]any{"type": EventTypeMessageStatus, "message_id": "m2"}},
		{ID: 3, Payload: map[string]any{"type": EventTypeMessageStatus, "message_id": "m3"}},
	}}
	_, server := setupTestManager(t, catchup)
	conn := connectWS(t, server)
	readJSON(t, conn)

	since := int64(1)
	writeJSON(t, conn, ClientMessage{Action: "catchup", Channel: ChannelMessages, LastEventID: &since})

	first := readJSON(t, conn)
	assert.Equal(t, "m2", first["message_id"])
	assert.Equal(t, float64(2), first["seq"])
	second := readJSON(t, conn)
	assert.Equal(t, "m3", second["message_id"])
}

func TestCatchupOverflow(t *testing.T) {
	catchup := &mockCatchupQuerier{}
	for i := int64(1); i <= catchupLimit+10; i++ {
		catchup.events = append(catchup.events, CatchupEvent{
			ID:      i,
			Payload: map[string]any{"type": EventTypeMessageStatus},
		})
	}
	_, server := setupTestManager(t, catchup)
	conn := connectWS(t, server)
	readJSON(t, conn)

	since := int64(0)
	writeJSON(t, conn, ClientMessage{Action: "catchup", Channel: ChannelMessages, LastEventID: &since})

	for i := 0; i < catchupLimit; i++ {
		readJSON(t, conn)
	}
	overflow := readJSON(t, conn)
	assert.Equal(t, "catchup.overflow", overflow["type"])
	assert.Equal(t, true, overflow["has_more"])
}

func TestCatchupOnlyOnMessagesChannel(t *testing.T) {
	_, server := setupTestManager(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)
	readJSON(t, conn)

	since := int64(0)
	writeJSON(t, conn, ClientMessage{Action: "catchup", Channel: ChannelStatus, LastEventID: &since})
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestDisconnectCleansUp(t *testing.T) {
	manager, server := setupTestManager(t, nil)
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: ChannelMessages})
	readJSON(t, conn)
	require.Equal(t, 1, manager.ActiveConnections())

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 0 && manager.subscriberCount(ChannelMessages) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
