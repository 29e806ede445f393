// Package llmgateway implements the LLM Gateway: per-agent model selection,
// prompt assembly, retry on transient failures, and token accounting.
package llmgateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/raphaelgruber/memcp-go/internal/config"
	"github.com/raphaelgruber/memcp-go/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Role names one of the agent roles the pipeline calls into, each with
// its own model selection.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleWriter   Role = "writer"
	RoleReviewer Role = "reviewer"
	RoleRFP      Role = "rfp"
)

// Request is one prompt-assembly unit passed to Generate.
type Request struct {
	Role         Role
	SystemPrompt string
	UserPrompt   string
}

// Response is the Gateway's normalized result.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// Gateway is the LLM Gateway contract every pipeline stage calls through.
type Gateway interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// retryConfig bounds the exponential backoff with jitter the Gateway
// applies to transient failures before giving up.
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

var defaultRetry = retryConfig{
	maxAttempts: 4,
	baseDelay:   500 * time.Millisecond,
	maxDelay:    20 * time.Second,
}

// LangchainGateway wraps langchaingo llms.Model providers, one per Role,
// selection built once at startup from config.
type LangchainGateway struct {
	models    map[Role]llms.Model
	names     map[Role]string
	collector *metrics.Collector
	retry     retryConfig
}

// NewLangchainGateway builds one provider client per Role using cfg's
// per-agent model names, all against the same provider/endpoint.
func NewLangchainGateway(cfg config.Config, collector *metrics.Collector) (*LangchainGateway, error) {
	byRole := map[Role]string{
		RolePlanner:  cfg.Models.Planner,
		RoleWriter:   cfg.Models.Writer,
		RoleReviewer: cfg.Models.Reviewer,
		RoleRFP:      cfg.Models.RFP,
	}

	models := make(map[Role]llms.Model, len(byRole))
	for role, modelName := range byRole {
		m, err := newProviderModel(cfg, modelName)
		if err != nil {
			return nil, fmt.Errorf("llmgateway: build model for role %s: %w", role, err)
		}
		models[role] = m
	}

	return &LangchainGateway{
		models:    models,
		names:     byRole,
		collector: collector,
		retry:     defaultRetry,
	}, nil
}

func newProviderModel(cfg config.Config, modelName string) (llms.Model, error) {
	switch cfg.LLMProvider {
	case "ollama":
		return ollama.New(
			ollama.WithModel(modelName),
			ollama.WithServerURL(cfg.OllamaHost),
		)
	case "openai":
		if cfg.LLMAPIKey == "" {
			return nil, errors.New("llmgateway: openai api key required")
		}
		return openai.New(
			openai.WithToken(cfg.LLMAPIKey),
			openai.WithModel(modelName),
		)
	case "anthropic":
		if cfg.LLMAPIKey == "" {
			return nil, errors.New("llmgateway: anthropic api key required")
		}
		return anthropic.New(
			anthropic.WithToken(cfg.LLMAPIKey),
			anthropic.WithModel(modelName),
		)
	default:
		return nil, fmt.Errorf("llmgateway: unsupported provider %q", cfg.LLMProvider)
	}
}

// Generate assembles req's system/user prompts, dispatches to the model
// selected for req.Role, retries transient failures with backoff+jitter,
// and records token usage against the collector.
func (g *LangchainGateway) Generate(ctx context.Context, req Request) (Response, error) {
	model, ok := g.models[req.Role]
	if !ok {
		return Response{}, fmt.Errorf("llmgateway: no model configured for role %q", req.Role)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, req.UserPrompt),
	}

	var lastErr error
	for attempt := 0; attempt < g.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, g.retry, attempt); err != nil {
				return Response{}, err
			}
		}

		start := time.Now()
		completion, err := model.GenerateContent(ctx, messages)
		duration := time.Since(start)

		if err == nil {
			if len(completion.Choices) == 0 {
				lastErr = errors.New("llmgateway: no response choices")
				continue
			}
			choice := completion.Choices[0]
			promptTokens, completionTokens := extractUsage(choice)
			if g.collector != nil {
				g.collector.RecordLLMUsage(metrics.OpLLMGenerate, duration, int64(promptTokens), int64(completionTokens))
			}
			return Response{
				Text:             choice.Content,
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				Model:            g.names[req.Role],
			}, nil
		}

		wrapped := wrapFatalError(err)
		if errors.Is(wrapped, ErrFatalAPI) {
			return Response{}, wrapped
		}
		lastErr = wrapped
	}

	return Response{}, fmt.Errorf("llmgateway: exhausted retries: %w", lastErr)
}

// extractUsage reads token counts off a langchaingo choice's GenerationInfo,
// which providers populate with keys like "PromptTokens"/"CompletionTokens".
func extractUsage(choice *llms.ContentChoice) (prompt, completion int) {
	if choice.GenerationInfo == nil {
		return 0, 0
	}
	if v, ok := choice.GenerationInfo["PromptTokens"].(int); ok {
		prompt = v
	}
	if v, ok := choice.GenerationInfo["CompletionTokens"].(int); ok {
		completion = v
	}
	return prompt, completion
}

// sleepBackoff waits an exponentially increasing, jittered delay before
// retry attempt number attempt (1-indexed relative to the first retry).
func sleepBackoff(ctx context.Context, cfg retryConfig, attempt int) error {
	delay := cfg.baseDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	select {
	case <-time.After(delay + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Gateway = (*LangchainGateway)(nil)
