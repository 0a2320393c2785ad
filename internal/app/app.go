// Package app wires configuration to concrete adapters and use cases.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"contenthub/internal/collector"
	"contenthub/internal/collector/scraper"
	"contenthub/internal/collector/youtube"
	"contenthub/internal/config"
	"contenthub/internal/domain"
	"contenthub/internal/infrastructure/browser"
	"contenthub/internal/infrastructure/captions"
	"contenthub/internal/infrastructure/llm"
	"contenthub/internal/infrastructure/scheduler"
	"contenthub/internal/infrastructure/slack"
	"contenthub/internal/infrastructure/storage"
	"contenthub/internal/infrastructure/stt"
	"contenthub/internal/logging"
	"contenthub/internal/ports"
	"contenthub/internal/usecase"
)

// Application owns the pipeline lifecycle: one Start spawns scheduled
// cycles, one Shutdown tears everything down.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	renderer *browser.Renderer
	pipeline *usecase.Pipeline
	digests  *usecase.DigestService
	sched    ports.Scheduler
}

// New builds the application graph.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}

	contents := storage.NewContentStore(db)
	sources := storage.NewSourceStore(db)
	digestStore := storage.NewDigestStore(db)
	subscriptions := storage.NewSubscriptionStore(db)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	renderer := browser.NewRenderer()
	delayer := scraper.NewHostDelayer(
		time.Duration(cfg.Scraping.MinRequestDelayMillis)*time.Millisecond,
		time.Duration(cfg.Scraping.MaxRequestDelayMillis)*time.Millisecond,
	)
	webScraper := scraper.New(
		httpClient,
		renderer,
		delayer,
		cfg.Scraping.MinContentLength,
		cfg.Scraping.TotalTimeout(),
		baseLogger.With("component", "scraper"),
	)

	videoCollector := youtube.New(
		captions.NewClient(),
		stt.NewYtDlp(cfg.STT.YtDlpBinary),
		stt.NewWhisper(cfg.STT.WhisperBinary, cfg.STT.ModelSize, cfg.STT.ComputeType),
		cfg.STT,
		baseLogger.With("component", "youtube"),
	)

	feeds := collector.NewFeedCollector(httpClient, cfg.Collector.FeedEntryLimit, baseLogger.With("component", "feeds"))

	router := collector.NewRouter(feeds, webScraper, videoCollector, contents, baseLogger.With("component", "router"))

	pipeline := usecase.NewPipeline(
		router, sources, contents,
		llm.NewClient(cfg.LLM),
		usecase.PipelineOptions{
			WorkerLimit:    cfg.Collector.WorkerLimit,
			MaxAttempts:    cfg.Collector.MaxAttempts,
			ProcessTimeout: time.Duration(cfg.Collector.ProcessTimeoutSeconds) * time.Second,
		},
		baseLogger.With("component", "pipeline"),
	)

	digests := usecase.NewDigestService(
		contents, digestStore, subscriptions,
		slack.NewNotifier(cfg.Delivery.SlackBotToken, baseLogger.With("component", "slack")),
		usecase.FilterDefaults{
			SimilarityThreshold: cfg.Filter.SimilarityThreshold,
			MaxAgeDays:          cfg.Filter.MaxAgeDays,
			MinBodyLength:       cfg.Filter.MinBodyLength,
			RequireTitle:        cfg.Filter.RequireTitle,
			MaxItems:            cfg.Filter.MaxItems,
			SortBy:              sortMode(cfg.Filter.SortBy),
		},
		cfg.Scheduler.Location(),
		baseLogger.With("component", "digest"),
	)

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		renderer: renderer,
		pipeline: pipeline,
		digests:  digests,
		sched:    scheduler.NewTickerScheduler(cfg.Scheduler.Interval()),
	}, nil
}

// Start launches scheduled cycles. Each cycle collects, processes, and
// distributes; stage failures are logged and never stop the schedule.
func (a *Application) Start(ctx context.Context) error {
	return a.sched.Start(ctx, func(t time.Time) {
		a.logger.Info("cycle started", "at", t)
		if err := a.RunCycle(ctx); err != nil {
			a.logger.Error("cycle failed", "error", err)
		}
	})
}

// RunCycle executes one full pass.
func (a *Application) RunCycle(ctx context.Context) error {
	if err := a.pipeline.Collect(ctx); err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	if err := a.pipeline.ProcessPending(ctx); err != nil {
		return fmt.Errorf("process: %w", err)
	}
	if err := a.digests.Distribute(ctx); err != nil {
		return fmt.Errorf("distribute: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler and releases resources.
func (a *Application) Shutdown(ctx context.Context) error {
	if err := a.sched.Stop(ctx); err != nil {
		return err
	}
	a.renderer.Close()
	return a.db.Close()
}

func sortMode(s string) domain.SortMode {
	if mode := domain.SortMode(s); mode == domain.SortByRecency {
		return mode
	}
	return domain.SortByRelevance
}
