// Package server builds the application's dependencies from configuration
// and runs the long-lived service.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/cache"
	"github.com/JakeFAU/compintel-monitor/internal/captcha"
	"github.com/JakeFAU/compintel-monitor/internal/change"
	"github.com/JakeFAU/compintel-monitor/internal/clock/system"
	"github.com/JakeFAU/compintel-monitor/internal/config"
	"github.com/JakeFAU/compintel-monitor/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/compintel-monitor/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/compintel-monitor/internal/fetcher/headless"
	"github.com/JakeFAU/compintel-monitor/internal/hash/sha256"
	"github.com/JakeFAU/compintel-monitor/internal/headless/detector"
	"github.com/JakeFAU/compintel-monitor/internal/llm"
	"github.com/JakeFAU/compintel-monitor/internal/llm/anthropic"
	"github.com/JakeFAU/compintel-monitor/internal/llm/gemini"
	"github.com/JakeFAU/compintel-monitor/internal/llm/groq"
	"github.com/JakeFAU/compintel-monitor/internal/logging"
	"github.com/JakeFAU/compintel-monitor/internal/markdown"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/pipeline"
	"github.com/JakeFAU/compintel-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/compintel-monitor/internal/progress"
	progresssinks "github.com/JakeFAU/compintel-monitor/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/compintel-monitor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/compintel-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/compintel-monitor/internal/scraper"
	"github.com/JakeFAU/compintel-monitor/internal/static"
	gcsstorage "github.com/JakeFAU/compintel-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/compintel-monitor/internal/storage/local"
	memoryStorage "github.com/JakeFAU/compintel-monitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/compintel-monitor/internal/storage/postgres"
	"github.com/JakeFAU/compintel-monitor/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  monitor.Clock

	store     *pgstore.Store
	llm       llm.Client
	runner    *pipeline.Runner
	generator *static.Generator

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Build creates the application's dependencies. The database is required;
// the analyze and baseline stages are only wired when an LLM key is set.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	tp, mp, err := telemetry.InitTelemetry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.onClose("telemetry", func(ctx context.Context) error { return telemetry.Shutdown(ctx, tp, mp) })

	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	app.store, err = pgstore.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}
	app.onClose("database", func(context.Context) error { app.store.Close(); return nil })
	logger.Info("database connected", zap.Int32("max_conns", cfg.Database.MaxConns))

	gcs, err := app.gcsClient(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := app.blobStore(cfg.Storage.Backend, cfg.Storage.Bucket, cfg.Storage.Local.BaseDir, gcs)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}
	output, err := app.blobStore(cfg.Output.Backend, cfg.Output.Bucket, cfg.Output.Dir, gcs)
	if err != nil {
		return nil, fmt.Errorf("output store init failed: %w", err)
	}

	app.llm, err = newLLM(ctx, cfg.LLM, logger.Named("llm"))
	if err != nil {
		return nil, err
	}
	analysisCache, err := app.analysisCache(ctx)
	if err != nil {
		return nil, err
	}

	scr, err := app.buildScraper(ctx, archive)
	if err != nil {
		return nil, err
	}

	app.generator, err = static.New(app.store, output, app.clock, logger.Named("static"), static.Options{
		Prefix: cfg.Output.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("static generator init failed: %w", err)
	}

	stages := pipeline.Stages{
		Scraper:   scr,
		Converter: markdown.NewService(app.store, markdown.NewConverter(), app.clock, logger.Named("markdown")),
		Generator: app.generator,
	}
	if app.llm != nil {
		stages.Changes = analyzer.NewChangeAnalyzer(app.store, app.llm, output, analysisCache, app.clock, analyzer.ChangeOptions{
			Model:         cfg.LLM.Model,
			Temperature:   cfg.LLM.Temperature,
			MaxTokens:     cfg.LLM.MaxTokens,
			RecentWindow:  cfg.Analyzer.RecentWindow,
			Limit:         cfg.Analyzer.Limit,
			ContentLimit:  cfg.Analyzer.ContentLimit,
			ReportWindow:  cfg.Analyzer.ReportWindow,
			ReportTop:     cfg.Analyzer.ReportTop,
			ModelLabel:    cfg.Analyzer.ModelLabel,
			ReportsPrefix: cfg.Output.ReportsPrefix,
			CacheTTL:      cfg.Cache.TTL,
		}, logger.Named("change_analyzer"))
		stages.Baseline = analyzer.NewBaselineAnalyzer(app.store, app.llm, output, analysisCache, app.clock, analyzer.BaselineOptions{
			Model:         cfg.LLM.Model,
			MaxTokens:     cfg.LLM.BaselineMaxTokens,
			ContentLimit:  cfg.Baseline.ContentLimit,
			MinContent:    cfg.Baseline.MinContent,
			ModelLabel:    cfg.Analyzer.ModelLabel,
			ReportsPrefix: cfg.Output.ReportsPrefix,
			CacheTTL:      cfg.Cache.TTL,
		}, logger.Named("baseline_analyzer"))
	} else {
		logger.Warn("no LLM API key configured; analyze and baseline stages are disabled")
	}
	app.runner = pipeline.New(stages, logger.Named("pipeline"))

	logger.Info("application built",
		zap.String("fetch_mode", cfg.Scraper.FetchMode),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("output_backend", cfg.Output.Backend),
	)
	return app, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner returns the stage runner.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// RunStage runs a single stage in the foreground.
func (a *App) RunStage(ctx context.Context, stage monitor.JobStage, params monitor.JobParams) (any, error) {
	start := time.Now()
	out, err := a.runner.Run(ctx, stage, params)
	status := monitor.JobStatusSucceeded
	if err != nil {
		status = monitor.JobStatusFailed
	}
	telemetry.ObserveJob(string(stage), string(status))
	a.logger.Info("stage finished",
		zap.String("stage", string(stage)),
		zap.String("status", string(status)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, err
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) gcsClient(ctx context.Context) (*storage.Client, error) {
	if a.cfg.Storage.Backend != "gcs" && a.cfg.Output.Backend != "gcs" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.onClose("gcs", func(context.Context) error { return client.Close() })
	return client, nil
}

func (a *App) blobStore(backend, bucket, dir string, gcs *storage.Client) (monitor.BlobStore, error) {
	switch backend {
	case "gcs":
		a.logger.Debug("gcs blob store", zap.String("bucket", bucket))
		return gcsstorage.New(gcs, bucket, "")
	case "local":
		a.logger.Debug("local blob store", zap.String("dir", dir))
		return localstorage.New(dir)
	default:
		return memoryStorage.NewBlobStore(), nil
	}
}

func newLLM(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	var base llm.Client
	switch cfg.Provider {
	case "anthropic":
		base = anthropic.New(cfg.APIKey, cfg.BaseURL)
	case "gemini":
		c, err := gemini.New(ctx, cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("gemini client init failed: %w", err)
		}
		base = c
	default:
		base = groq.New(cfg.APIKey, cfg.BaseURL, cfg.Timeout, logger)
	}
	return llm.NewRetrying(base, cfg.MaxRetries, cfg.BaseDelay, cfg.MaxDelay, logger), nil
}

func (a *App) analysisCache(ctx context.Context) (cache.AnalysisCache, error) {
	if a.cfg.Cache.RedisAddr == "" {
		return cache.Noop{}, nil
	}
	r, err := cache.NewRedis(ctx, a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("analysis cache init failed: %w", err)
	}
	a.onClose("redis", func(context.Context) error { return r.Close() })
	a.logger.Info("analysis cache enabled", zap.String("addr", a.cfg.Cache.RedisAddr))
	return r, nil
}

func (a *App) buildScraper(ctx context.Context, archive monitor.BlobStore) (*scraper.Scraper, error) {
	cfg := a.cfg
	fetcher, err := a.buildFetcher()
	if err != nil {
		return nil, err
	}

	var limiter monitor.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
		a.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	}

	publisher, err := a.publisher(ctx)
	if err != nil {
		return nil, err
	}

	var assessor scraper.Assessor
	if a.llm != nil {
		assessor = analyzer.NewAssessor(a.llm, cfg.LLM.QuickModel, a.logger.Named("assessor"))
	}

	return scraper.New(scraper.Deps{
		Store:     a.store,
		Fetcher:   fetcher,
		Limiter:   limiter,
		Captcha:   captcha.NewDetector(a.logger.Named("captcha")),
		Changes:   change.NewDetector(sha256.New()),
		Assessor:  assessor,
		Archive:   archive,
		Publisher: publisher,
		Progress:  a.progress(ctx),
		Clock:     a.clock,
	}, scraper.Options{
		BatchSize:     cfg.Scraper.BatchSize,
		PageTimeout:   cfg.Scraper.PageTimeout,
		BatchDelay:    cfg.Scraper.BatchDelay,
		MaxRetries:    cfg.Scraper.MaxRetries,
		RetryDelay:    cfg.Scraper.RetryDelay,
		RespectRobots: cfg.Scraper.RespectRobots,
		ArchiveHTML:   cfg.Storage.ArchiveHTML,
		ArchivePrefix: cfg.Storage.Prefix,
	}, a.logger)
}

func (a *App) buildFetcher() (monitor.Fetcher, error) {
	cfg := a.cfg
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Scraper.UserAgent,
		RespectRobots: cfg.Scraper.RespectRobots,
		Timeout:       cfg.Scraper.PageTimeout,
		MaxBodySize:   int(cfg.Scraper.MaxBodyBytes),
	})
	mode := auto.Mode(cfg.Scraper.FetchMode)
	if !cfg.Headless.Enabled {
		return auto.New(mode, plain, nil, nil, a.logger.Named("fetcher"))
	}
	rendered, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Scraper.UserAgent,
		NavigationTimeout: cfg.Headless.NavTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.onClose("headless", func(context.Context) error { rendered.Close(); return nil })
	a.logger.Info("headless fetcher enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	return auto.New(mode, plain, rendered, detector.NewHeuristic(cfg.Headless.PromotionThresh), a.logger.Named("fetcher"))
}

func (a *App) publisher(ctx context.Context) (monitor.Publisher, error) {
	cfg := a.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	pub := client.Publisher(cfg.TopicName)
	a.onClose("pubsub", func(context.Context) error {
		pub.Stop()
		return client.Close()
	})
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return gcppublisher.New(pub), nil
}

func (a *App) progress(ctx context.Context) progress.Emitter {
	cfg := a.cfg.Progress
	if !cfg.Enabled {
		return progress.Nop{}
	}
	var sinks []progress.Sink
	if cfg.LogEnabled {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if cfg.PrometheusEnabled {
		sink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			a.logger.Warn("progress prometheus sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		return progress.Nop{}
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.Batch.MaxEvents,
		MaxBatchWait:   cfg.Batch.MaxWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}, sinks...)
	a.onClose("progress", hub.Close)
	return hub
}
