package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgate/wxgate/pkg/config"
	"github.com/wxgate/wxgate/pkg/crypto"
	"github.com/wxgate/wxgate/pkg/database"
	"github.com/wxgate/wxgate/pkg/models"
	"github.com/wxgate/wxgate/pkg/registry"
	"github.com/wxgate/wxgate/pkg/services"
	"github.com/wxgate/wxgate/pkg/store"
)

// stubEngine mirrors the listener engine's store writes on success.
type stubEngine struct {
	listeners *store.ListenerStore
}

func (e *stubEngine) AddListener(ctx context.Context, instanceID, chatName string, manual, fixed bool) error {
	return e.listeners.Create(ctx, &models.Listener{
		InstanceID: instanceID, ChatName: chatName, Manual: manual, Fixed: fixed,
		AddedAt: time.Now(),
	})
}

func (e *stubEngine) RemoveListener(ctx context.Context, instanceID, chatName string) error {
	return e.listeners.Delete(ctx, instanceID, chatName)
}

type testServer struct {
	http   *httptest.Server
	stores *store.Stores
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	codec, err := crypto.NewCodec(key)
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	stores := store.New(client, codec)
	bus := registry.NewBus()
	t.Cleanup(bus.Close)

	warnings := services.NewWarningsService(nil)
	svc := Services{
		Instances: services.NewInstanceService(stores.Instances, stores.Listeners, bus),
		Platforms: services.NewPlatformService(stores.Platforms, bus),
		Rules:     services.NewRuleService(stores.Rules, stores.Platforms, bus, warnings),
		Listeners: services.NewListenerService(stores.Listeners, stores.Instances, &stubEngine{listeners: stores.Listeners}),
		Messages:  services.NewMessageService(stores.Messages, stores.Attempts),
		System:    services.NewSystemService(nil, stores.Messages, "", warnings),
		Warnings:  warnings,
	}

	srv := NewServer(config.ServerConfig{}, client, svc, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{http: ts, stores: stores}
}

// doJSON performs one request and decodes the JSON response into out when
// out is non-nil.
func (ts *testServer) doJSON(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.http.URL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func validInstanceBody(id string) map[string]any {
	return map[string]any{
		"instance_id": id,
		"name":        "bot-" + id,
		"base_url":    "http://agent.local:8090",
		"api_key":     "secret-key-123456",
	}
}

func keywordPlatformBody(id string) map[string]any {
	return map[string]any{
		"platform_id": id,
		"name":        "keyword " + id,
		"kind":        "keyword",
		"config": map[string]any{
			"api_key": "sk-abcdef0123456789",
			"rules": []map[string]any{
				{"keywords": []string{"ping"}, "reply": "pong"},
			},
		},
	}
}

func TestInstanceEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("create redacts api key", func(t *testing.T) {
		var created models.Instance
		code := ts.doJSON(t, http.MethodPost, "/api/instances", validInstanceBody("inst-1"), &created)
		require.Equal(t, http.StatusCreated, code)
		assert.Equal(t, "inst-1", created.InstanceID)
		assert.Equal(t, "***", created.APIKey)
		assert.True(t, created.Enabled)
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		code := ts.doJSON(t, http.MethodPost, "/api/instances", validInstanceBody("inst-1"), nil)
		assert.Equal(t, http.StatusConflict, code)
	})

	t.Run("validation failure", func(t *testing.T) {
		body := validInstanceBody("inst-bad")
		body["base_url"] = "not a url"
		code := ts.doJSON(t, http.MethodPost, "/api/instances", body, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("list and get", func(t *testing.T) {
		var list []models.Instance
		code := ts.doJSON(t, http.MethodGet, "/api/instances", nil, &list)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, list, 1)
		assert.Equal(t, "***", list[0].APIKey)

		var got models.Instance
		code = ts.doJSON(t, http.MethodGet, "/api/instances/inst-1", nil, &got)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "bot-inst-1", got.Name)
	})

	t.Run("update without key keeps stored key", func(t *testing.T) {
		body := map[string]any{"name": "renamed"}
		var updated models.Instance
		code := ts.doJSON(t, http.MethodPut, "/api/instances/inst-1", body, &updated)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "renamed", updated.Name)

		stored, err := ts.stores.Instances.Get(context.Background(), "inst-1")
		require.NoError(t, err)
		assert.Equal(t, "secret-key-123456", stored.APIKey)
	})

	t.Run("disable and enable", func(t *testing.T) {
		code := ts.doJSON(t, http.MethodPost, "/api/instances/inst-1/disable", nil, nil)
		require.Equal(t, http.StatusOK, code)

		var got models.Instance
		ts.doJSON(t, http.MethodGet, "/api/instances/inst-1", nil, &got)
		assert.False(t, got.Enabled)

		code = ts.doJSON(t, http.MethodPost, "/api/instances/inst-1/enable", nil, nil)
		require.Equal(t, http.StatusOK, code)
	})

	t.Run("delete then 404", func(t *testing.T) {
		code := ts.doJSON(t, http.MethodDelete, "/api/instances/inst-1", nil, nil)
		require.Equal(t, http.StatusOK, code)

		code = ts.doJSON(t, http.MethodGet, "/api/instances/inst-1", nil, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestPlatformEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("create redacts secret config keys", func(t *testing.T) {
		var created models.Platform
		code := ts.doJSON(t, http.MethodPost, "/api/platforms", keywordPlatformBody("plat-1"), &created)
		require.Equal(t, http.StatusCreated, code)
		assert.Equal(t, "***", created.Config["api_key"])
		assert.NotNil(t, created.Config["rules"])
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		body := keywordPlatformBody("plat-bad")
		body["config"] = map[string]any{}
		code := ts.doJSON(t, http.MethodPost, "/api/platforms", body, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		body := keywordPlatformBody("plat-bad")
		body["kind"] = "telegraph"
		code := ts.doJSON(t, http.MethodPost, "/api/platforms", body, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("test connection", func(t *testing.T) {
		var result map[string]any
		code := ts.doJSON(t, http.MethodPost, "/api/platforms/plat-1/test", nil, &result)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, result["ok"])

		code = ts.doJSON(t, http.MethodPost, "/api/platforms/no-such/test", nil, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestRuleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	code := ts.doJSON(t, http.MethodPost, "/api/platforms", keywordPlatformBody("plat-1"), nil)
	require.Equal(t, http.StatusCreated, code)

	t.Run("create defaults to wildcard scope", func(t *testing.T) {
		var resp RuleResponse
		body := map[string]any{"rule_id": "rule-1", "name": "all", "platform_id": "plat-1"}
		code := ts.doJSON(t, http.MethodPost, "/api/rules", body, &resp)
		require.Equal(t, http.StatusCreated, code)
		assert.Equal(t, models.WildcardScope, resp.Rule.InstanceID)
		assert.Equal(t, models.WildcardScope, resp.Rule.ChatPattern)
		assert.Empty(t, resp.Conflicts)
	})

	t.Run("conflicting rule reported not blocked", func(t *testing.T) {
		code := ts.doJSON(t, http.MethodPost, "/api/platforms", keywordPlatformBody("plat-2"), nil)
		require.Equal(t, http.StatusCreated, code)

		var resp RuleResponse
		body := map[string]any{"rule_id": "rule-2", "name": "also all", "platform_id": "plat-2"}
		code = ts.doJSON(t, http.MethodPost, "/api/rules", body, &resp)
		require.Equal(t, http.StatusCreated, code)
		assert.NotEmpty(t, resp.Conflicts)

		var warnResp SystemWarningsResponse
		ts.doJSON(t, http.MethodGet, "/api/system/warnings", nil, &warnResp)
		assert.NotEmpty(t, warnResp.Warnings)
	})

	t.Run("invalid regex rejected", func(t *testing.T) {
		body := map[string]any{
			"rule_id": "rule-bad", "name": "bad", "platform_id": "plat-1",
			"chat_pattern": "regex:ops-[",
		}
		code := ts.doJSON(t, http.MethodPost, "/api/rules", body, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("update and delete", func(t *testing.T) {
		prio := 10
		var resp RuleResponse
		body := map[string]any{"priority": prio}
		code := ts.doJSON(t, http.MethodPut, "/api/rules/rule-2", body, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, prio, resp.Rule.Priority)

		code = ts.doJSON(t, http.MethodDelete, "/api/rules/rule-2", nil, nil)
		require.Equal(t, http.StatusOK, code)
		code = ts.doJSON(t, http.MethodGet, "/api/rules/rule-2", nil, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestListenerEndpoints(t *testing.T) {
	ts := newTestServer(t)
	code := ts.doJSON(t, http.MethodPost, "/api/instances", validInstanceBody("inst-1"), nil)
	require.Equal(t, http.StatusCreated, code)

	t.Run("add", func(t *testing.T) {
		var l models.Listener
		body := map[string]any{"instance_id": "inst-1", "chat_name": "ops room"}
		code := ts.doJSON(t, http.MethodPost, "/api/listeners", body, &l)
		require.Equal(t, http.StatusCreated, code)
		assert.True(t, l.Manual)
	})

	t.Run("add for unknown instance", func(t *testing.T) {
		body := map[string]any{"instance_id": "no-such", "chat_name": "ops"}
		code := ts.doJSON(t, http.MethodPost, "/api/listeners", body, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("list", func(t *testing.T) {
		var list []models.Listener
		code := ts.doJSON(t, http.MethodGet, "/api/listeners?instance_id=inst-1", nil, &list)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, list, 1)
		assert.Equal(t, "ops room", list[0].ChatName)
	})

	t.Run("remove escaped chat name", func(t *testing.T) {
		code := ts.doJSON(t, http.MethodDelete, "/api/listeners/inst-1/ops%20room", nil, nil)
		require.Equal(t, http.StatusOK, code)

		var list []models.Listener
		ts.doJSON(t, http.MethodGet, "/api/listeners", nil, &list)
		assert.Empty(t, list)
	})
}

func seedAPIMessage(t *testing.T, ts *testServer, id string, terminal bool) {
	t.Helper()
	ctx := context.Background()
	msg := &models.Message{
		MessageID:      id,
		InstanceID:     "inst-1",
		ChatName:       "ops",
		Sender:         "alice",
		Content:        "content " + id,
		MType:          models.MTypeText,
		ContentHash:    "hash-" + id,
		ReceivedAt:     time.Now(),
		DeliveryStatus: models.DeliveryStatusPending,
	}
	dup, err := ts.stores.Messages.Ingest(ctx, msg)
	require.NoError(t, err)
	require.False(t, dup)

	if terminal {
		require.NoError(t, ts.stores.Messages.MarkDelivering(ctx, id))
		require.NoError(t, ts.stores.Messages.MarkFailed(ctx, id, "platform down"))
	}
}

func TestMessageEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedAPIMessage(t, ts, "msg-1", true)
	seedAPIMessage(t, ts, "msg-2", false)

	t.Run("list with status filter", func(t *testing.T) {
		var list []models.Message
		code := ts.doJSON(t, http.MethodGet, "/api/messages?status=failed", nil, &list)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, list, 1)
		assert.Equal(t, "msg-1", list[0].MessageID)
	})

	t.Run("bad query params rejected", func(t *testing.T) {
		code := ts.doJSON(t, http.MethodGet, "/api/messages?limit=9999", nil, nil)
		assert.Equal(t, http.StatusBadRequest, code)
		code = ts.doJSON(t, http.MethodGet, "/api/messages?since=yesterday", nil, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("get and attempts", func(t *testing.T) {
		var got models.Message
		code := ts.doJSON(t, http.MethodGet, "/api/messages/msg-1", nil, &got)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, models.DeliveryStatusFailed, got.DeliveryStatus)

		var attempts []models.DeliveryAttempt
		code = ts.doJSON(t, http.MethodGet, "/api/messages/msg-1/attempts", nil, &attempts)
		require.Equal(t, http.StatusOK, code)
		assert.Empty(t, attempts)

		code = ts.doJSON(t, http.MethodGet, "/api/messages/no-such/attempts", nil, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("redeliver terminal only", func(t *testing.T) {
		code := ts.doJSON(t, http.MethodPost, "/api/messages/msg-2/redeliver", nil, nil)
		assert.Equal(t, http.StatusConflict, code)

		code = ts.doJSON(t, http.MethodPost, "/api/messages/msg-1/redeliver", nil, nil)
		require.Equal(t, http.StatusOK, code)

		var got models.Message
		ts.doJSON(t, http.MethodGet, "/api/messages/msg-1", nil, &got)
		assert.Equal(t, models.DeliveryStatusPending, got.DeliveryStatus)
	})
}

func TestSystemEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("health", func(t *testing.T) {
		var resp HealthResponse
		code := ts.doJSON(t, http.MethodGet, "/api/health", nil, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, healthStatusHealthy, resp.Status)
		assert.NotEmpty(t, resp.Version)
		assert.Equal(t, healthStatusHealthy, resp.Checks["database"].Status)
	})

	t.Run("resources", func(t *testing.T) {
		var resp services.SystemResources
		code := ts.doJSON(t, http.MethodGet, "/api/system/resources", nil, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Positive(t, resp.Goroutines)
	})

	t.Run("system health", func(t *testing.T) {
		var resp services.SystemHealth
		code := ts.doJSON(t, http.MethodGet, "/api/system/health", nil, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", resp.Status)
	})

	t.Run("websocket unavailable without manager", func(t *testing.T) {
		resp, err := ts.http.Client().Get(ts.http.URL + "/ws/messages")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.http.Client().Get(ts.http.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestSecretConfigKey(t *testing.T) {
	for key, want := range map[string]bool{
		"api_key":  true,
		"token":    true,
		"secret":   true,
		"password": true,
		"base_url": false,
		"model":    false,
	} {
		assert.Equal(t, want, secretConfigKey(key), fmt.Sprintf("key %q", key))
	}
}
