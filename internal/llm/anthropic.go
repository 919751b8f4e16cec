// ABOUTME: Anthropic invoker using the official anthropic-sdk-go Messages API
// ABOUTME: Concatenates text blocks from a single non-streaming response

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/crewdeck/crewdeck-gateway/internal/config"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicInvoker calls the Anthropic Messages API.
type AnthropicInvoker struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropicInvoker builds a client from cfg. Extra request options are
// appended after the configured ones.
func NewAnthropicInvoker(cfg config.ModelConfig, logger *slog.Logger, extra ...anthropicoption.RequestOption) *AnthropicInvoker {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, anthropicoption.WithBaseURL(normalizeBaseURL(base)))
	}
	opts = append(opts, extra...)

	logger.Info("model invoker initialized", "provider", "anthropic", "model", model)

	return &AnthropicInvoker{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With("component", "anthropic"),
	}
}

// normalizeBaseURL strips a trailing /v1 since the SDK appends versioned paths itself.
func normalizeBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	base = strings.TrimSuffix(base, "/v1")
	return strings.TrimRight(base, "/") + "/"
}

// Name returns the provider-qualified model name.
func (i *AnthropicInvoker) Name() string {
	return "anthropic/" + i.model
}

// Generate sends prompt as a single user message.
func (i *AnthropicInvoker) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := i.client.Messages.New(ctx, anthropic.MessageNewParams{
		MaxTokens: i.maxTokens,
		Model:     anthropic.Model(i.model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}

	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}

	i.logger.Debug("anthropic response received",
		"chars", len(text),
		"stop_reason", string(msg.StopReason),
	)
	return text, nil
}

var _ Invoker = (*AnthropicInvoker)(nil)
