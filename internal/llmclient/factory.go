package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// NewClient builds the tier router for the configured provider. Provider
// "none" returns a nil client, which selects the rule-based reasoner.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderGemini:
		fast, err := NewGeminiClient(ctx, cfg.ModelConfig(cfg.FastModel), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create fast tier client: %w", err)
		}
		powerful, err := NewGeminiClient(ctx, cfg.ModelConfig(cfg.PowerfulModel), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
		}
		return NewLLMRouter(logger, fast, powerful)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]", cfg.Provider, config.ProviderNone, config.ProviderGemini)
	}
}
