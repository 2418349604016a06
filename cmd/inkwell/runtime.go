package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/inkwell/internal/composer"
	"github.com/kalambet/inkwell/internal/config"
	"github.com/kalambet/inkwell/internal/engine"
	"github.com/kalambet/inkwell/internal/jobqueue"
	"github.com/kalambet/inkwell/internal/quality"
	"github.com/kalambet/inkwell/internal/storage"
	"github.com/kalambet/inkwell/internal/tracking"
	"github.com/kalambet/inkwell/internal/worker"
	"github.com/kalambet/inkwell/internal/writer"
)

// runtime is the wired set of components shared by serve, write and mcp.
type runtime struct {
	cfg      config.Config
	store    *storage.Store
	queue    *jobqueue.Queue
	tracking *tracking.Service
	gen      engine.Generator
	scorer   quality.Scorer
	writer   *writer.Orchestrator
	handlers *worker.Handlers
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// openRuntime opens the store and builds every component from cfg. When
// checkModels is set, the local Ollama models in use are pulled if missing;
// progress goes to out.
func openRuntime(ctx context.Context, cfg config.Config, checkModels bool, out io.Writer) (*runtime, error) {
	gen, err := engine.New(engine.Config{
		Provider:         cfg.Generation.Provider,
		Model:            cfg.Generation.Model,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		OpenRouterAPIKey: cfg.Proxy.OpenRouterAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	llmScoring := cfg.Quality.LLMEnabled
	local := engine.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.ScorerModel)
	if checkModels {
		var models []string
		if cfg.Generation.Provider == config.ProviderOllama {
			models = append(models, cfg.Generation.Model)
		}
		if llmScoring {
			models = append(models, cfg.Ollama.ScorerModel)
		}
		if len(models) > 0 {
			if err := engine.EnsureReady(ctx, local, models, out); err != nil {
				if cfg.Generation.Provider == config.ProviderOllama {
					return nil, err
				}
				slog.Warn("local scorer unavailable, using heuristic scoring", "error", err)
				llmScoring = false
			}
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	trk, err := newTrackingService(store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		store:    store,
		queue:    jobqueue.New(store),
		tracking: trk,
		gen:      gen,
	}
	rt.scorer = quality.NewScorer(local, cfg.Ollama.ScorerModel, llmScoring, cfg.Quality.Timeout)
	rt.writer = writer.New(store, gen, rt.scorer, rt.tracking, composer.New(0), writer.Config{
		BatchSize:          cfg.Writer.BatchSize,
		MinQuality:         cfg.Writer.MinQuality,
		MaxRewriteAttempts: cfg.Writer.MaxRewriteAttempts,
		InterTaskDelay:     cfg.Writer.InterTaskDelay,
		TaskLease:          cfg.Writer.TaskLease,
		QualityWindow:      cfg.Writer.QualityWindow,
		RecentChapters:     3,
		TargetWords:        cfg.Writer.TargetWords,
		Model:              cfg.Generation.Model,
		Temperature:        cfg.Generation.Temperature,
		MaxTokens:          cfg.Generation.MaxTokens,
	})
	rt.handlers = &worker.Handlers{
		Writer:    rt.writer,
		Store:     store,
		Scorer:    rt.scorer,
		Generator: gen,
		ExportDir: cfg.Export.Dir,
	}
	return rt, nil
}

func newTrackingService(store *storage.Store, cfg config.Config) (*tracking.Service, error) {
	ladders, err := tracking.LoadLadders(cfg.Tracker.LadderFile)
	if err != nil {
		return nil, err
	}
	return tracking.NewService(store, tracking.Settings{
		Ladders:              ladders,
		DefaultTotalChapters: cfg.Tracker.DefaultTotalChapters,
		TooFastRatio:         cfg.Tracker.TooFastRatio,
		ForgottenWindow:      cfg.Tracker.ForgottenWindow,
		ReminderThreshold:    cfg.Tracker.ReminderThreshold,
	}), nil
}

func (rt *runtime) Close() {
	rt.queue.Close()
	if err := rt.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}
