package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wxgate/wxgate/pkg/agent"
	"github.com/wxgate/wxgate/pkg/models"
)

// Dify talks to a Dify application in blocking chat mode. When conversation
// tracking is on, each (instance, chat) pair keeps its Dify conversation_id
// so context carries across messages.
type Dify struct {
	baseURL    string
	apiKey     string
	track      bool
	httpClient *http.Client

	mu            sync.Mutex
	conversations map[string]string
}

// NewDify creates an uninitialized Dify platform.
func NewDify() *Dify {
	return &Dify{
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		conversations: make(map[string]string),
	}
}

func (d *Dify) Kind() models.PlatformKind {
	return models.PlatformKindDify
}

// Initialize validates and applies the platform config.
// Recognized keys: base_url, api_key, conversation_tracking (default true).
func (d *Dify) Initialize(_ context.Context, config map[string]any) error {
	p := models.Platform{Config: config}
	d.baseURL = p.ConfigString("base_url", "")
	d.apiKey = p.ConfigString("api_key", "")
	if d.baseURL == "" || d.apiKey == "" {
		return agent.NewError(agent.KindConfigError, "dify platform requires base_url and api_key", nil)
	}

	d.track = true
	if v, ok := config["conversation_tracking"].(bool); ok {
		d.track = v
	}
	return nil
}

type difyChatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Files          []difyFile     `json:"files,omitempty"`
}

type difyFile struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	UploadFileID   string `json:"upload_file_id"`
}

type difyChatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
}

// ProcessMessage sends the message to the Dify app and returns its answer.
// Image attachments are uploaded first and referenced in the chat request.
func (d *Dify) ProcessMessage(ctx context.Context, env *Envelope) (*Reply, error) {
	user := env.InstanceID + ":" + env.ChatName
	req := difyChatRequest{
		Inputs:       map[string]any{},
		Query:        env.Content,
		ResponseMode: "blocking",
		User:         user,
	}

	if env.MType == models.MTypeImage {
		for _, path := range env.Attachments {
			id, err := d.uploadFile(ctx, path, user)
			if err != nil {
				return nil, err
			}
			req.Files = append(req.Files, difyFile{
				Type:           "image",
				TransferMethod: "local_file",
				UploadFileID:   id,
			})
		}
	}

	convKey := env.InstanceID + "\x00" + env.ChatName
	if d.track {
		d.mu.Lock()
		req.ConversationID = d.conversations[convKey]
		d.mu.Unlock()
	}

	var resp difyChatResponse
	if err := d.postJSON(ctx, "/chat-messages", req, &resp); err != nil {
		// A stale conversation id makes Dify reject the request; drop it so
		// the retry starts a fresh conversation.
		if d.track && req.ConversationID != "" && agent.KindOf(err) == agent.KindInvalidRequest {
			d.mu.Lock()
			delete(d.conversations, convKey)
			d.mu.Unlock()
			err = agent.NewError(agent.KindPlatformError, "dify conversation reset", err)
		}
		return nil, err
	}

	if d.track && resp.ConversationID != "" {
		d.mu.Lock()
		d.conversations[convKey] = resp.ConversationID
		d.mu.Unlock()
	}

	if resp.Answer == "" {
		return &Reply{NoReply: true}, nil
	}
	return &Reply{Content: resp.Answer}, nil
}

// TestConnection probes the app with a minimal blocking request.
func (d *Dify) TestConnection(ctx context.Context) error {
	req := difyChatRequest{
		Inputs:       map[string]any{},
		Query:        "ping",
		ResponseMode: "blocking",
		User:         "wxgate-connection-test",
	}
	var resp difyChatResponse
	return d.postJSON(ctx, "/chat-messages", req, &resp)
}

func (d *Dify) postJSON(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return agent.NewError(agent.KindPlatformError, "failed to encode dify request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return agent.NewError(agent.KindPlatformError, "failed to build dify request", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return agent.NewError(agent.KindCancelled, "dify request cancelled", ctx.Err())
		}
		return agent.NewError(agent.KindPlatformError, "dify unreachable", err)
	}
	defer resp.Body.Close()

	if err := difyStatusError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return agent.NewError(agent.KindPlatformError, "failed to decode dify response", err)
	}
	return nil
}

// uploadFile pushes one local file to Dify and returns its upload id.
func (d *Dify) uploadFile(ctx context.Context, path, user string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", agent.NewError(agent.KindPlatformError, "failed to open attachment "+path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err == nil {
		_, err = io.Copy(part, f)
	}
	if err == nil {
		err = w.WriteField("user", user)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		return "", agent.NewError(agent.KindPlatformError, "failed to build upload request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/files/upload", &body)
	if err != nil {
		return "", agent.NewError(agent.KindPlatformError, "failed to build upload request", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", agent.NewError(agent.KindPlatformError, "dify upload failed", err)
	}
	defer resp.Body.Close()

	if err := difyStatusError(resp); err != nil {
		return "", err
	}
	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", agent.NewError(agent.KindPlatformError, "failed to decode upload response", err)
	}
	return uploaded.ID, nil
}

func difyStatusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 500:
		return agent.NewError(agent.KindPlatformError,
			fmt.Sprintf("dify returned HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return agent.NewError(agent.KindInvalidRequest,
			fmt.Sprintf("dify rejected the request with HTTP %d", resp.StatusCode), nil)
	}
	return nil
}
