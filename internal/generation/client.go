// Package generation calls the chat model that writes answers.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/config"
	"github.com/fyrsmithlabs/coursechat/internal/rag"
)

var (
	// ErrInvalidConfig indicates the generation configuration is unusable.
	ErrInvalidConfig = errors.New("invalid generation config")

	// ErrEmptyResponse indicates the model returned no choices.
	ErrEmptyResponse = errors.New("model returned no choices")

	// ErrCircuitOpen indicates calls are being rejected after repeated failures.
	ErrCircuitOpen = errors.New("generation circuit open")
)

// Client sends grounded prompts to a chat model through langchaingo.
type Client struct {
	model       llms.Model
	name        string
	temperature float64
	maxTokens   int
	breaker     *gobreaker.CircuitBreaker
	logger      *zap.Logger
}

// New builds a Client for cfg.Provider ("openai" or "ollama").
func New(cfg config.GenerationConfig, logger *zap.Logger) (*Client, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "", "openai":
		model, err = newOpenAI(cfg)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}
	return NewWithModel(model, cfg, logger)
}

func newOpenAI(cfg config.GenerationConfig) (llms.Model, error) {
	token := cfg.APIKey.Value()
	if token == "" {
		token = "unused"
	}
	opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(opts...)
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(model llms.Model, cfg config.GenerationConfig, logger *zap.Logger) (*Client, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens must not be negative", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		model:       model,
		name:        cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.Named("generation"),
	}
	c.breaker = newBreaker(cfg.Breaker, c.logger)
	return c, nil
}

// Generate sends p as a system turn followed by a user turn and returns the
// first choice's text.
func (c *Client) Generate(ctx context.Context, p rag.Prompt) (string, error) {
	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generate(ctx, p)
	})
	result := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
		err = fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	case err != nil:
		result = "error"
	}
	RequestsTotal.WithLabelValues(result).Inc()
	RequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Debug("generation call failed", zap.String("model", c.name), zap.Error(err))
		return "", err
	}
	return out.(string), nil
}

func (c *Client) generate(ctx context.Context, p rag.Prompt) (string, error) {
	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextContent{Text: p.System}}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextContent{Text: p.User}}},
	}
	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// State reports the breaker state: "closed", "half-open" or "open".
func (c *Client) State() string {
	return c.breaker.State().String()
}

var _ rag.Generator = (*Client)(nil)
