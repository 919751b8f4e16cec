// ABOUTME: Gemini invoker built on firebase genkit with the googlegenai plugin
// ABOUTME: One genkit instance per process; each Generate call is a single prompt

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/crewdeck/crewdeck-gateway/internal/config"
)

// GeminiInvoker calls Google Gemini through genkit.
type GeminiInvoker struct {
	g         *genkit.Genkit
	modelName string
	logger    *slog.Logger
}

// NewGeminiInvoker initializes genkit with the Google AI plugin.
func NewGeminiInvoker(ctx context.Context, cfg config.ModelConfig, logger *slog.Logger) *GeminiInvoker {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGoogleModel
	}
	modelName := "googleai/" + model

	g := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.APIKey}),
		genkit.WithDefaultModel(modelName),
	)

	logger.Info("model invoker initialized", "provider", "google", "model", modelName)

	return &GeminiInvoker{
		g:         g,
		modelName: modelName,
		logger:    logger.With("component", "gemini"),
	}
}

// Name returns the genkit model name.
func (i *GeminiInvoker) Name() string {
	return i.modelName
}

// Generate sends prompt and returns the response text.
func (i *GeminiInvoker) Generate(ctx context.Context, prompt string) (string, error) {
	// WithPrompt formats its argument, so literal percent signs must be escaped
	escaped := strings.ReplaceAll(prompt, "%", "%%")

	resp, err := genkit.Generate(ctx, i.g,
		ai.WithModelName(i.modelName),
		ai.WithPrompt(escaped),
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}

	i.logger.Debug("gemini response received", "chars", len(text))
	return text, nil
}

var _ Invoker = (*GeminiInvoker)(nil)
