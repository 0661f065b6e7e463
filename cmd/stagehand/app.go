package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"stagehand/internal/carousel"
	"stagehand/internal/commands"
	"stagehand/internal/config"
	"stagehand/internal/engine"
	"stagehand/internal/llm"
	"stagehand/internal/media"
	"stagehand/internal/narrative"
	"stagehand/internal/store"
	"stagehand/internal/tables"
	"stagehand/internal/usage"
)

// app bundles the wired engine and everything that needs shutdown.
type app struct {
	cfg      *config.Config
	library  *narrative.Library
	store    *store.SQLStore
	tracker  *usage.Tracker
	executor *engine.Executor
	limiter  *carousel.Limiter
}

// buildApp loads config and wires the full engine stack. Call close when
// done.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	library, err := narrative.NewLibrary(resolvePath(cfg.Library.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open narrative library: %w", err)
	}

	contentStore, err := store.Open(resolvePath(cfg.Storage.DatabasePath), cfg.Storage.MaxOpenConns)
	if err != nil {
		library.Stop()
		return nil, err
	}

	mediaStore, err := media.NewLocalStorage(resolvePath(cfg.Media.Path))
	if err != nil {
		library.Stop()
		contentStore.Close()
		return nil, err
	}

	tracker, err := usage.NewTracker(workspace)
	if err != nil {
		library.Stop()
		contentStore.Close()
		return nil, err
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		library.Stop()
		contentStore.Close()
		return nil, err
	}

	limiter := carousel.NewLimiter(carousel.Budget{
		RequestsPerMinute: cfg.Limits.RequestsPerMinute,
		TokensPerMinute:   cfg.Limits.TokensPerMinute,
		RequestsPerDay:    cfg.Limits.RequestsPerDay,
		TokensPerDay:      cfg.Limits.TokensPerDay,
	})

	executor := engine.NewExecutor(engine.Config{
		Library:       library,
		Backend:       backend,
		Store:         contentStore,
		Commands:      commands.NewDefaultRegistry(),
		Tables:        tables.NewSQLiteRegistry(contentStore.DB()),
		Media:         mediaStore,
		Limiter:       limiter,
		Usage:         tracker,
		Separator:     cfg.Execution.InputSeparator,
		MaxDepth:      cfg.Execution.MaxDepth,
		DefaultPolicy: narrative.FailurePolicy(cfg.Execution.FailurePolicy),
	})

	if cfg.Library.Watch {
		if err := library.Watch(); err != nil {
			logger.Warn("narrative hot-reload unavailable", zap.Error(err))
		}
	}

	return &app{
		cfg:      cfg,
		library:  library,
		store:    contentStore,
		tracker:  tracker,
		executor: executor,
		limiter:  limiter,
	}, nil
}

func (a *app) close() {
	a.library.Stop()
	if err := a.tracker.Save(); err != nil {
		logger.Warn("failed to flush usage ledger", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close store", zap.Error(err))
	}
}

// buildBackend selects the generation backend from config and wraps it with
// retry behavior.
func buildBackend(ctx context.Context, cfg *config.Config) (llm.GenerationBackend, error) {
	var backend llm.GenerationBackend
	var err error

	switch cfg.LLM.Provider {
	case "gemini":
		backend, err = llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey: cfg.LLM.APIKey,
			Model:  cfg.LLM.Model,
		})
	case "openai":
		backend = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.GetLLMTimeout(),
		})
	default:
		err = fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}

	return llm.NewRetryBackend(backend, cfg.LLM.MaxRetries), nil
}

func applyFlagOverrides(cfg *config.Config) {
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if model != "" {
		cfg.LLM.Model = model
	}
}

// resolvePath anchors relative config paths at the workspace.
func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}

// execContext applies the --timeout flag when set.
func execContext(parent context.Context) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}
