package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	config "moim/app/configs"
	"moim/app/pkg/logger"
)

// Generator is the single contract the rest of the system depends on.
// Implementations never fail hard: on error the returned string is the
// error text, and callers treat anything that does not parse as JSON as
// a degraded response.
type Generator interface {
	Generate(ctx context.Context, prompt string, jsonMode bool) string
}

// Provider is one concrete LLM API.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, jsonMode bool) (string, error)
}

type Backend struct {
	provider   Provider
	maxRetries int
	retryDelay time.Duration
}

type Keys struct {
	Gemini string
	Groq   string
}

// New selects a provider from configuration. A missing key for the
// configured provider falls back to the other one; with no keys at all
// the backend still exists but every call degrades.
func New(cfg config.Config, keys Keys) *Backend {
	var provider Provider
	switch cfg.AIProvider {
	case "groq":
		if strings.TrimSpace(keys.Groq) != "" {
			provider = NewGroq(keys.Groq, cfg.GroqModel)
		} else if strings.TrimSpace(keys.Gemini) != "" {
			logger.Error("[LLM] groq selected but GROQ_API_KEY missing, falling back to gemini")
			provider = NewGemini(keys.Gemini, cfg.AIModel)
		}
	default:
		if strings.TrimSpace(keys.Gemini) != "" {
			provider = NewGemini(keys.Gemini, cfg.AIModel)
		} else if strings.TrimSpace(keys.Groq) != "" {
			logger.Error("[LLM] gemini selected but GEMINI_API_KEY missing, falling back to groq")
			provider = NewGroq(keys.Groq, cfg.GroqModel)
		}
	}
	if provider == nil {
		logger.Error("[LLM] no API key configured, responses will degrade")
		provider = disabledProvider{}
	}
	return &Backend{
		provider:   provider,
		maxRetries: 1,
		retryDelay: 2 * time.Second,
	}
}

// NewWithProvider is the test seam.
func NewWithProvider(p Provider) *Backend {
	return &Backend{provider: p}
}

func (b *Backend) Generate(ctx context.Context, prompt string, jsonMode bool) string {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err().Error()
			case <-time.After(b.retryDelay):
			}
		}
		out, err := b.provider.Generate(ctx, prompt, jsonMode)
		if err == nil && strings.TrimSpace(out) != "" {
			return out
		}
		if err == nil {
			err = fmt.Errorf("empty response")
		}
		lastErr = err
		logger.Error("[LLM] %s generate failed (attempt %d): %v", b.provider.Name(), attempt+1, err)
	}
	return lastErr.Error()
}

type disabledProvider struct{}

func (disabledProvider) Name() string { return "disabled" }

func (disabledProvider) Generate(context.Context, string, bool) (string, error) {
	return "", fmt.Errorf("llm backend disabled: no API key configured")
}
