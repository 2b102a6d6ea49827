// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/checkpoint"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/safety"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// InitializeStore opens the configured session store. Commands that only
// inspect sessions use it without building the rest of the components.
func InitializeStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch strings.ToLower(cfg.Type) {
	case config.StoreTypeMemory:
		logger.Warn("Using the in-memory session store. Sessions and checkpoints will be lost on exit.")
		return store.NewMemoryStore(), nil
	case config.StoreTypeFile, "":
		logger.Debug("Initializing file session store.", zap.String("dir", cfg.Dir))
		fs, err := store.NewFileStore(logger, cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file store: %w", err)
		}
		return fs, nil
	case config.StoreTypePostgres:
		logger.Info("Initializing PostgreSQL session store.", zap.String("table", cfg.Postgres.Table))
		pg, err := store.OpenPostgres(ctx, logger, cfg.Postgres.URL, cfg.Postgres.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

// InitializeLLMClient creates the model client. A nil client with a nil
// error means no provider is configured and the rule-based reasoner is used.
func InitializeLLMClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	client, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if client == nil {
		logger.Info("No LLM provider configured. Using the rule-based reasoner.")
	}
	return client, nil
}

// CheckpointConfig maps the application settings onto the manager's.
func CheckpointConfig(cfg config.CheckpointConfig) checkpoint.Config {
	return checkpoint.Config{
		AutoSaveEnabled: cfg.Enabled,
		Interval:        cfg.Interval,
		MaxAutoSaves:    cfg.MaxAutoSaves,
		CleanupKeep:     cfg.CleanupKeep,
	}
}

// safetyConfig maps the application settings onto the detector's. Unknown
// category names are dropped with a warning.
func safetyConfig(cfg config.SafetyConfig, logger *zap.Logger) safety.Config {
	cats := safety.ParseCategories(cfg.AlwaysConfirm)
	if len(cats) != len(cfg.AlwaysConfirm) {
		logger.Warn("Ignoring unknown categories in safety.always_confirm.", zap.Strings("configured", cfg.AlwaysConfirm))
	}
	return safety.Config{
		Enabled:           cfg.Enabled,
		AlwaysConfirm:     cats,
		NeverConfirmTools: cfg.NeverConfirmTools,
	}
}
