// Package genai provides the text-generation call contract backed by the
// OpenAI API.
//
// The core treats generation as an opaque capability: callers pass assembled
// messages and receive text or an error. Unavailability is an expected
// outcome, surfaced as models.ErrUpstreamUnavailable so callers can degrade
// to fallback utterances.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/attunelab/trtflow/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ClientInterface is the generation contract used by the response composer.
type ClientInterface interface {
	// GeneratePrompt generates a completion from a system and user prompt pair.
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// GenerateWithMessages generates a completion from a full message list.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key explicitly.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an alternate API endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	client openai.Client
	model  string
}

// NewClient initializes a GenAI client. Without WithAPIKey the client falls
// back to the OPENAI_API_KEY environment variable handled by the SDK.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}

	var reqOpts []option.RequestOption
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Debug("genai.NewClient: creating client", "model", cfg.Model, "api_key_set", cfg.APIKey != "", "base_url_set", cfg.BaseURL != "")
	return &Client{client: openai.NewClient(reqOpts...), model: cfg.Model}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

// GenerateWithMessages generates a response from a full message list.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("Client.GenerateWithMessages: completion request failed", "error", err, "model", c.model)
		return "", fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("Client.GenerateWithMessages: no choices returned", "model", c.model)
		return "", fmt.Errorf("%w: no choices returned", models.ErrUpstreamUnavailable)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		// Degenerate output is treated the same as an unavailable backend.
		slog.Warn("Client.GenerateWithMessages: empty completion returned", "model", c.model)
		return "", fmt.Errorf("%w: empty completion", models.ErrUpstreamUnavailable)
	}
	slog.Debug("Client.GenerateWithMessages: completion succeeded", "model", c.model, "length", len(content))
	return content, nil
}
