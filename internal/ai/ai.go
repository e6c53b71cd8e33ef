package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gemini-backend/internal/config"
	"gemini-backend/internal/metrics"
)

// Generator produces a response for raw input text.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

// Adapter guards a provider so its failures never escape the worker: any
// error is converted into a descriptive response string. Retries, if wanted,
// belong to the caller.
type Adapter struct {
	provider Generator
	name     string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New selects a provider from configuration and wraps it in an Adapter.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Adapter, error) {
	var provider Generator
	switch cfg.AIProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
		provider = NewGemini(GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Timeout: cfg.AITimeout,
		}, logger)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		provider = NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.AIProvider)
	}

	return NewAdapter(provider, cfg.AIProvider, logger, m), nil
}

// NewAdapter wraps an arbitrary Generator.
func NewAdapter(provider Generator, name string, logger *slog.Logger, m *metrics.Metrics) *Adapter {
	return &Adapter{
		provider: provider,
		name:     name,
		logger:   logger.With("component", "ai"),
		metrics:  m,
	}
}

// Generate returns the provider's response, or a descriptive failure string
// when the provider errs. It never returns an error.
func (a *Adapter) Generate(ctx context.Context, text string) string {
	start := time.Now()
	response, err := a.provider.Generate(ctx, text)

	status := "ok"
	if err != nil {
		status = "error"
		a.logger.Warn("ai request failed", "provider", a.name, "error", err)
		response = fmt.Sprintf("Sorry, I couldn't process your request. Error: %v", err)
	}
	if a.metrics != nil {
		a.metrics.AIRequests.WithLabelValues(a.name, status).Inc()
		a.metrics.AILatency.WithLabelValues(a.name, status).Observe(time.Since(start).Seconds())
	}
	return response
}
