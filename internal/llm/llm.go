// Package llm provides chat-completion providers for the assistant kernel.
//
// A provider is selected by a "provider:model" identifier string
// ("openai:gpt-4o-mini", "ollama:qwen3:8b", or "noop"). Provider failure
// surfaces as ErrUnavailable so the planner and executor can degrade to
// their rule-based paths instead of failing the request.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable wraps any provider failure: network errors, timeouts,
// non-2xx responses, and the noop provider. Callers check with errors.Is.
var ErrUnavailable = errors.New("llm: provider unavailable")

// Provider generates a completion for a system/user prompt pair.
type Provider interface {
	// Complete returns the model's text response. Blocking; honors ctx.
	Complete(ctx context.Context, system, prompt string) (string, error)

	// Name returns the model identifier for audit trails ("openai:gpt-4o-mini").
	Name() string
}

// Config carries provider credentials and the per-call timeout.
type Config struct {
	OpenAIAPIKey string
	OllamaURL    string
	Timeout      time.Duration
}

// New builds a provider from a "provider:model" identifier.
// Unknown providers are an error; "noop" always fails with ErrUnavailable,
// which forces the kernel onto its rule-based paths.
func New(identifier string, cfg Config) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	name, modelID, _ := strings.Cut(identifier, ":")
	switch name {
	case "noop", "":
		return NoopProvider{}, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm: OPENAI_API_KEY required for %q", identifier)
		}
		if modelID == "" {
			modelID = "gpt-4o-mini"
		}
		return NewOpenAIProvider(cfg.OpenAIAPIKey, modelID, cfg.Timeout), nil
	case "ollama":
		if modelID == "" {
			return nil, fmt.Errorf("llm: model required in %q (use ollama:<model>)", identifier)
		}
		return NewOllamaProvider(cfg.OllamaURL, modelID, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
}

// NoopProvider never answers. Used when no model is configured.
type NoopProvider struct{}

// Complete always reports the provider as unavailable.
func (NoopProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	return "", fmt.Errorf("llm: noop: %w", ErrUnavailable)
}

// Name identifies the noop provider.
func (NoopProvider) Name() string { return "noop" }
