// Package agent runs individual analysis stages against an external
// reasoning capability.
//
// A stage gets its input context assembled from the session's prior
// records, invokes the capability exactly once, validates the output,
// and records it in the context store. The capability call is the only
// long-latency operation in the pipeline and is never retried: it is
// non-idempotent and billed per invocation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"

	"github.com/othentic-ai/ideationd/internal/config"
)

var (
	// ErrCapabilityFailed indicates the reasoning capability returned
	// an error or an empty completion.
	ErrCapabilityFailed = errors.New("reasoning capability failed")

	// ErrInvalidOutput indicates the capability's output did not match
	// the stage's required structure.
	ErrInvalidOutput = errors.New("stage output failed validation")
)

// Request is one prompt for the reasoning capability.
type Request struct {
	// System sets the stage's role instructions.
	System string

	// Prompt is the assembled task input.
	Prompt string
}

// Capability is the external reasoning service consumed by stages.
// Invoke is single-shot: implementations must not retry internally.
type Capability interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// LLMCapability implements Capability over an OpenAI-compatible chat
// endpoint via langchaingo, with client-side rate limiting.
type LLMCapability struct {
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
}

// NewLLMCapability creates a capability client from configuration.
func NewLLMCapability(cfg config.CapabilityConfig) (*LLMCapability, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("capability base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("capability model is required")
	}

	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
	}
	if cfg.APIKey.IsSet() {
		opts = append(opts, openai.WithToken(cfg.APIKey.Value()))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating capability client: %w", err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &LLMCapability{
		llm:         llm,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}, nil
}

// Invoke sends one prompt and returns the completion text.
func (c *LLMCapability) Invoke(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, req.System),
		llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt),
	}

	resp, err := c.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCapabilityFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrCapabilityFailed)
	}

	return resp.Choices[0].Content, nil
}
