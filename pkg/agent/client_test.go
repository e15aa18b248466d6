package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, code int, message string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"data":    json.RawMessage(raw),
	}))
}

func TestClientAuthHeaderAndEnvelope(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		assert.Equal(t, "/api/health", r.URL.Path)
		writeEnvelope(t, w, 0, "ok", map[string]any{
			"status":           "ok",
			"wechat_connected": true,
			"uptime_s":         42,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 0)
	info, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)
	assert.True(t, info.WeChatConnected)
	assert.Equal(t, int64(42), info.UptimeS)
}

func TestClientErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      int
		wantKind  Kind
		retryable bool
	}{
		{"auth failure", http.StatusOK, 1001, KindAgentFailure, true},
		{"not initialized", http.StatusOK, 2001, KindNotInitialized, true},
		{"operation failed", http.StatusOK, 3001, KindAgentFailure, true},
		{"http 4xx", http.StatusBadRequest, 0, KindInvalidRequest, false},
		{"http 5xx", http.StatusBadGateway, 0, KindAgentFailure, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != http.StatusOK {
					w.WriteHeader(tt.status)
					return
				}
				writeEnvelope(t, w, tt.code, "nope", map[string]any{})
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "k", 0)
			err := c.Initialize(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))

			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.code, e.Code)
		})
	}
}

func TestClientRetriesIdempotentGets(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeEnvelope(t, w, 0, "ok", map[string]any{"status": "ok", "wechat_connected": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", 0)
	c.retryBase = time.Millisecond

	_, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestClientDoesNotRetryPosts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", 0)
	err := c.SendText(context.Background(), "team chat", "hello", nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, KindAgentFailure, KindOf(err))
}

func TestClientListenerMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/message/listen/get", r.URL.Path)
		assert.Equal(t, "team chat", r.URL.Query().Get("who"))
		writeEnvelope(t, w, 0, "ok", map[string]any{
			"messages": map[string]any{
				"team chat": []map[string]any{
					{"id": "m1", "type": "friend", "mtype": "text",
						"sender": "alice", "content": "hi", "timestamp_ms": 1700000000000},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", 0)
	msgs, err := c.GetListenerMessages(context.Background(), "team chat")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Sender)
	assert.True(t, msgs[0].FromFriend())
	assert.Equal(t, int64(1700000000000), msgs[0].TimestampMS)
}

func TestClientCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, "k", 0)
	err := c.Initialize(ctx)
	require.Error(t, err)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.False(t, IsRetryable(err))
}
