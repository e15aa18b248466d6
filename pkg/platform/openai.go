package platform

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wxgate/wxgate/pkg/agent"
	"github.com/wxgate/wxgate/pkg/models"
)

// OpenAI routes messages to any OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client       *openai.Client
	model        string
	systemPrompt string
	temperature  float32
	maxTokens    int
}

// NewOpenAI creates an uninitialized OpenAI platform.
func NewOpenAI() *OpenAI {
	return &OpenAI{}
}

func (o *OpenAI) Kind() models.PlatformKind {
	return models.PlatformKindOpenAI
}

// Initialize validates and applies the platform config.
// Recognized keys: api_key, model, base_url, system_prompt, temperature,
// max_tokens.
func (o *OpenAI) Initialize(_ context.Context, config map[string]any) error {
	p := models.Platform{Config: config}
	apiKey := p.ConfigString("api_key", "")
	o.model = p.ConfigString("model", "")
	if apiKey == "" || o.model == "" {
		return agent.NewError(agent.KindConfigError, "openai platform requires api_key and model", nil)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := p.ConfigString("base_url", ""); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	o.client = openai.NewClientWithConfig(cfg)

	o.systemPrompt = p.ConfigString("system_prompt", "")
	o.temperature = float32(p.ConfigFloat("temperature", 0))
	o.maxTokens = int(p.ConfigFloat("max_tokens", 0))
	return nil
}

// ProcessMessage sends one chat completion request. Each message is its own
// completion; chat history is not carried.
func (o *OpenAI) ProcessMessage(ctx context.Context, env *Envelope) (*Reply, error) {
	var messages []openai.ChatCompletionMessage
	if o.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: env.Content,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		return nil, translateOpenAIError(ctx, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return &Reply{NoReply: true}, nil
	}
	return &Reply{Content: resp.Choices[0].Message.Content}, nil
}

// TestConnection lists models as a cheap auth and reachability probe.
func (o *OpenAI) TestConnection(ctx context.Context) error {
	if o.client == nil {
		return agent.NewError(agent.KindConfigError, "openai platform not initialized", nil)
	}
	if _, err := o.client.ListModels(ctx); err != nil {
		return translateOpenAIError(ctx, err)
	}
	return nil
}

func translateOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return agent.NewError(agent.KindCancelled, "completion cancelled", ctx.Err())
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("completion failed with HTTP %d", apiErr.HTTPStatusCode)
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return agent.NewError(agent.KindConfigError, msg, err)
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429:
			return agent.NewError(agent.KindInvalidRequest, msg, err)
		default:
			// 429 and 5xx are worth retrying.
			return agent.NewError(agent.KindPlatformError, msg, err)
		}
	}
	return agent.NewError(agent.KindPlatformError, "completion request failed", err)
}
