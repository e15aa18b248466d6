// Package agent implements the HTTP client for remote chat agents and the
// pool that manages one client per configured instance.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultTimeout bounds one agent HTTP call.
	DefaultTimeout = 30 * time.Second

	retryMaxAttempts = 3
	retryBaseDelay   = time.Second
	retryMaxDelay    = 30 * time.Second
)

// Client talks to one remote agent over its HTTP API. All calls carry the
// X-API-Key header and decode the {code, message, data} envelope.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	retryBase  time.Duration
}

// NewClient creates a client for one agent endpoint. timeout <= 0 selects
// DefaultTimeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		retryBase:  retryBaseDelay,
	}
}

// OverrideHTTPClientForTest replaces the underlying HTTP client.
// For testing only.
func (c *Client) OverrideHTTPClientForTest(httpClient *http.Client) {
	c.httpClient = httpClient
}

// Initialize establishes the agent's client session. Must succeed before
// any other operation.
func (c *Client) Initialize(ctx context.Context) error {
	return c.post(ctx, "/api/wechat/initialize", map[string]any{}, nil)
}

// HealthCheck returns the agent's health report.
func (c *Client) HealthCheck(ctx context.Context) (*HealthInfo, error) {
	var info HealthInfo
	if err := c.get(ctx, "/api/health", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetUnreadMainWindowMessages harvests unread messages from the agent's main
// window, keyed by chat name. Reading consumes the unread state upstream.
func (c *Client) GetUnreadMainWindowMessages(ctx context.Context, opts ListenOptions) (map[string][]AgentMessage, error) {
	q := url.Values{}
	q.Set("savepic", strconv.FormatBool(opts.SavePic))
	q.Set("savefile", strconv.FormatBool(opts.SaveFile))
	q.Set("savevoice", strconv.FormatBool(opts.SaveVoice))

	var data struct {
		Messages map[string][]AgentMessage `json:"messages"`
	}
	if err := c.get(ctx, "/api/message/get-next-new", q, &data); err != nil {
		return nil, err
	}
	return data.Messages, nil
}

// AddListener registers a chat for dedicated polling.
func (c *Client) AddListener(ctx context.Context, chat string, opts ListenOptions) error {
	return c.post(ctx, "/api/message/listen/add", map[string]any{
		"who":       chat,
		"savepic":   opts.SavePic,
		"savefile":  opts.SaveFile,
		"savevoice": opts.SaveVoice,
	}, nil)
}

// RemoveListener deregisters a chat.
func (c *Client) RemoveListener(ctx context.Context, chat string) error {
	return c.post(ctx, "/api/message/listen/remove", map[string]any{"who": chat}, nil)
}

// GetListenerMessages returns new messages for one listened chat since the
// previous poll.
func (c *Client) GetListenerMessages(ctx context.Context, chat string) ([]AgentMessage, error) {
	q := url.Values{}
	q.Set("who", chat)

	var data struct {
		Messages map[string][]AgentMessage `json:"messages"`
	}
	if err := c.get(ctx, "/api/message/listen/get", q, &data); err != nil {
		return nil, err
	}
	return data.Messages[chat], nil
}

// SendText sends a text reply into a listened chat's window.
func (c *Client) SendText(ctx context.Context, chat, text string, atList []string) error {
	return c.post(ctx, "/api/chat-window/message/send", map[string]any{
		"who":     chat,
		"message": text,
		"at_list": atList,
		"clear":   true,
	}, nil)
}

// SendTypingText sends a reply simulating keystrokes. Supports @mentions
// inline.
func (c *Client) SendTypingText(ctx context.Context, chat, text string, atList []string) error {
	return c.post(ctx, "/api/chat-window/message/send-typing", map[string]any{
		"who":     chat,
		"message": text,
		"at_list": atList,
		"clear":   true,
	}, nil)
}

// SendFile sends local files into a listened chat's window. Paths are local
// to the agent host.
func (c *Client) SendFile(ctx context.Context, chat string, filePaths []string) error {
	return c.post(ctx, "/api/chat-window/message/send-file", map[string]any{
		"who":        chat,
		"file_paths": filePaths,
	}, nil)
}

// AtAll sends a message @-mentioning everyone in a group chat.
func (c *Client) AtAll(ctx context.Context, chat, text string) error {
	return c.post(ctx, "/api/chat-window/at-all", map[string]any{
		"who":     chat,
		"message": text,
	}, nil)
}

// SendToMain sends a text message through the main window search, for chats
// without an open window.
func (c *Client) SendToMain(ctx context.Context, receiver, text string, atList []string) error {
	return c.post(ctx, "/api/message/send", map[string]any{
		"receiver": receiver,
		"message":  text,
		"at_list":  atList,
		"clear":    true,
	}, nil)
}

// SendTypingToMain is the main-window variant of SendTypingText.
func (c *Client) SendTypingToMain(ctx context.Context, receiver, text string, atList []string) error {
	return c.post(ctx, "/api/message/send-typing", map[string]any{
		"receiver": receiver,
		"message":  text,
		"at_list":  atList,
		"clear":    true,
	}, nil)
}

// SendFileToMain is the main-window variant of SendFile.
func (c *Client) SendFileToMain(ctx context.Context, receiver string, filePaths []string) error {
	return c.post(ctx, "/api/message/send-file", map[string]any{
		"receiver":   receiver,
		"file_paths": filePaths,
	}, nil)
}

// GetChatInfo returns name, type, and member count for one chat.
func (c *Client) GetChatInfo(ctx context.Context, chat string) (*ChatInfo, error) {
	q := url.Values{}
	q.Set("who", chat)

	var info ChatInfo
	if err := c.get(ctx, "/api/chat-window/info", q, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// get performs a GET with retries. GETs are idempotent upstream, so
// transient failures back off exponentially from retryBaseDelay for up to
// retryMaxAttempts tries.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	delay := c.retryBase
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		lastErr = c.do(ctx, http.MethodGet, path, query, nil, out)
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == retryMaxAttempts {
			break
		}

		c.logger.Debug("Agent GET failed, retrying",
			"path", path, "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			return NewError(KindCancelled, "request cancelled", ctx.Err())
		case <-time.After(delay):
		}
		if delay *= 2; delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return lastErr
}

// post performs a POST with no retries; redelivery of non-idempotent
// operations belongs to the dispatcher.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return NewError(KindInvalidRequest, "failed to encode request body", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return NewError(KindInvalidRequest, fmt.Sprintf("failed to build request for %s", path), err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return NewError(KindCancelled, "request cancelled", ctx.Err())
		}
		return NewError(KindUnavailable, fmt.Sprintf("agent unreachable at %s", path), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return NewError(KindAgentFailure, fmt.Sprintf("agent returned HTTP %d for %s", resp.StatusCode, path), nil)
	case resp.StatusCode >= 400:
		return NewError(KindInvalidRequest, fmt.Sprintf("agent returned HTTP %d for %s", resp.StatusCode, path), nil)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return NewError(KindAgentFailure, fmt.Sprintf("failed to decode response from %s", path), err)
	}
	if err := c.checkEnvelope(&env, path); err != nil {
		return err
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return NewError(KindAgentFailure, fmt.Sprintf("failed to decode data from %s", path), err)
		}
	}
	return nil
}

func (c *Client) checkEnvelope(env *envelope, path string) error {
	switch {
	case env.Code == 0:
		return nil
	case env.Code >= 1000 && env.Code < 2000:
		c.logger.Warn("Agent rejected API key", "path", path, "code", env.Code)
		return &Error{Kind: KindAgentFailure, Code: env.Code, Message: env.Message}
	case env.Code >= 2000 && env.Code < 3000:
		return &Error{Kind: KindNotInitialized, Code: env.Code, Message: env.Message}
	default:
		return &Error{Kind: KindAgentFailure, Code: env.Code, Message: env.Message}
	}
}
