// ABOUTME: Model invoker abstraction over hosted text generation APIs
// ABOUTME: Selects the Gemini (genkit) or Anthropic backend from configuration

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crewdeck/crewdeck-gateway/internal/config"
)

// ErrMissingAPIKey is returned when the selected provider has no API key.
var ErrMissingAPIKey = errors.New("model API key is not configured")

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Invoker sends one prompt to a model and returns its text.
// Implementations must honor ctx cancellation where the underlying client allows it.
type Invoker interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Name identifies the provider and model, e.g. "googleai/gemini-2.5-flash".
	Name() string
}

// Default model per provider.
const (
	DefaultGoogleModel    = "gemini-2.5-flash"
	DefaultAnthropicModel = "claude-sonnet-4-5"
)

// New builds the invoker selected by cfg.Provider.
func New(ctx context.Context, cfg config.ModelConfig, logger *slog.Logger) (Invoker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, ErrMissingAPIKey)
	}

	switch cfg.Provider {
	case "google", "":
		return NewGeminiInvoker(ctx, cfg, logger), nil
	case "anthropic":
		return NewAnthropicInvoker(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

// Unconfigured is used when no API key is present so the server can still
// start. Every call fails with ErrMissingAPIKey.
type Unconfigured struct {
	Provider string
}

// Generate always fails.
func (u Unconfigured) Generate(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("%s: %w", u.Provider, ErrMissingAPIKey)
}

// Name reports the provider with no model.
func (u Unconfigured) Name() string {
	return u.Provider + "/unconfigured"
}

// Configured reports whether inv can reach a model.
func Configured(inv Invoker) bool {
	_, unconfigured := inv.(Unconfigured)
	return inv != nil && !unconfigured
}
