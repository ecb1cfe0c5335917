package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable is returned by generators that cannot reach a model.
var ErrUnavailable = errors.New("llm: generator unavailable")

const systemPrompt = "You are an assistant for academic examiners. " +
	"Always answer with a single JSON object and nothing else."

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float32
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	timeout     time.Duration
	temperature float32
}

// New creates a new LLM client. A missing API key or model is a configuration error.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("llm: API key is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("llm: model name is required")
	}
	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       opts.Model,
		timeout:     opts.Timeout,
		temperature: opts.Temperature,
	}, nil
}

// Model returns the model identifier used for completions.
func (c *Client) Model() string {
	return c.model
}

// Generate sends a single prompt and returns the raw response text.
// The response is untrusted; callers parse it defensively.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response",
		"model", c.model,
		"elapsed", time.Since(start),
		"prompt_chars", len(prompt),
		"response_chars", len(raw),
	)
	return raw, nil
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Unavailable is a generator for offline runs. Every call fails with
// ErrUnavailable so callers take their deterministic fallback paths.
type Unavailable struct{}

// Generate always fails.
func (Unavailable) Generate(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

// Model reports the offline identifier.
func (Unavailable) Model() string {
	return "offline"
}
