package compose

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/gemini"
)

// BuildGenerator returns the configured generator, or nil when generative
// composition is off or uncredentialed. The Gemini credential, when set, only
// serves requests Anthropic blocks.
func BuildGenerator(ctx context.Context, cfg config.ComposeConfig) (Generator, error) {
	if !cfg.Generative || cfg.Anthropic.Key == "" {
		return nil, nil
	}
	primary := &AnthropicGenerator{
		Client:    anthropic.NewClient(cfg.Anthropic.Key),
		Model:     cfg.Anthropic.Model,
		MaxTokens: int64(cfg.Anthropic.MaxTokens),
	}
	if cfg.Gemini.Key == "" {
		return primary, nil
	}
	gc, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:    cfg.Gemini.Key,
		Model:     cfg.Gemini.Model,
		MaxTokens: int32(cfg.Anthropic.MaxTokens),
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("compose: gemini safety fallback enabled", zap.String("model", cfg.Gemini.Model))
	return &SafetyFallback{Primary: primary, Fallback: &GeminiGenerator{Client: gc}}, nil
}

// NewFromConfig builds an Engine from configuration.
func NewFromConfig(ctx context.Context, cfg config.ComposeConfig) (*Engine, error) {
	gen, err := BuildGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mode := model.ComposeTemplate
	if gen != nil {
		mode = model.ComposeGenerative
	}
	return New(gen, Options{
		Mode:              mode,
		Concurrency:       cfg.Concurrency,
		FallbackThreshold: cfg.FallbackThreshold,
	}), nil
}
