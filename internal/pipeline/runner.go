// Package pipeline maps job stages onto the services that implement them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/markdown"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/scraper"
	"github.com/JakeFAU/compintel-monitor/internal/static"
)

// ErrStageUnavailable is returned when a stage has no service wired.
var ErrStageUnavailable = errors.New("stage not configured")

// Scraper runs one scrape of every tracked URL.
type Scraper interface {
	Run(ctx context.Context) (scraper.RunSummary, error)
}

// Converter converts raw snapshots into markdown.
type Converter interface {
	Run(ctx context.Context) (markdown.Result, error)
}

// ChangeAnalyzer analyzes detected changes and reports on them.
type ChangeAnalyzer interface {
	Run(ctx context.Context, mode string) (analyzer.Report, error)
	GenerateReport(ctx context.Context) (analyzer.ChangeReport, error)
}

// BaselineAnalyzer extracts baseline intelligence for every page.
type BaselineAnalyzer interface {
	Run(ctx context.Context, force bool) (analyzer.BaselineResult, error)
}

// Generator writes the static dashboard data.
type Generator interface {
	Generate(ctx context.Context) (static.Status, error)
}

// Stages holds the service behind each stage. Nil entries make the stage
// unavailable.
type Stages struct {
	Scraper   Scraper
	Converter Converter
	Changes   ChangeAnalyzer
	Baseline  BaselineAnalyzer
	Generator Generator
}

// AnalyzeSummary is the outcome of the analyze stage.
type AnalyzeSummary struct {
	Mode       string                 `json:"mode"`
	ReportOnly bool                   `json:"report_only"`
	Analysis   *analyzer.Report       `json:"analysis,omitempty"`
	Report     *analyzer.ChangeReport `json:"report,omitempty"`
}

// StageTiming records how long a pipeline step took.
type StageTiming struct {
	Stage    monitor.JobStage `json:"stage"`
	Duration time.Duration    `json:"duration_ns"`
}

// PipelineSummary collects the outcome of each step of a full pipeline run.
type PipelineSummary struct {
	Scrape   *scraper.RunSummary `json:"scrape,omitempty"`
	Convert  *markdown.Result    `json:"convert,omitempty"`
	Analyze  *AnalyzeSummary     `json:"analyze,omitempty"`
	Generate *static.Status      `json:"generate,omitempty"`
	Timings  []StageTiming       `json:"timings"`
}

// Runner dispatches stages to their services.
type Runner struct {
	stages Stages
	logger *zap.Logger
}

// New creates a Runner.
func New(stages Stages, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{stages: stages, logger: logger}
}

// Run executes stage with params and returns its summary.
func (r *Runner) Run(ctx context.Context, stage monitor.JobStage, params monitor.JobParams) (any, error) {
	switch stage {
	case monitor.StageScrape:
		return r.scrape(ctx)
	case monitor.StageConvert:
		return r.convert(ctx)
	case monitor.StageAnalyze:
		return r.analyze(ctx, params.Mode, params.ReportOnly)
	case monitor.StageBaseline:
		return r.baseline(ctx, params.Force)
	case monitor.StageGenerate:
		return r.generate(ctx)
	case monitor.StagePipeline:
		return r.pipeline(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", monitor.ErrUnknownStage, stage)
	}
}

func unavailable(stage monitor.JobStage) error {
	return fmt.Errorf("%s: %w", stage, ErrStageUnavailable)
}

func (r *Runner) scrape(ctx context.Context) (*scraper.RunSummary, error) {
	if r.stages.Scraper == nil {
		return nil, unavailable(monitor.StageScrape)
	}
	sum, err := r.stages.Scraper.Run(ctx)
	if err != nil {
		return &sum, fmt.Errorf("scrape: %w", err)
	}
	return &sum, nil
}

func (r *Runner) convert(ctx context.Context) (*markdown.Result, error) {
	if r.stages.Converter == nil {
		return nil, unavailable(monitor.StageConvert)
	}
	res, err := r.stages.Converter.Run(ctx)
	if err != nil {
		return &res, fmt.Errorf("convert: %w", err)
	}
	return &res, nil
}

func (r *Runner) analyze(ctx context.Context, mode string, reportOnly bool) (*AnalyzeSummary, error) {
	if r.stages.Changes == nil {
		return nil, unavailable(monitor.StageAnalyze)
	}
	if mode == "" {
		mode = analyzer.ModeRecent
	}
	sum := &AnalyzeSummary{Mode: mode, ReportOnly: reportOnly}
	if !reportOnly {
		// Per-change failures live in the report; only listing errors surface.
		rep, err := r.stages.Changes.Run(ctx, mode)
		sum.Analysis = &rep
		if err != nil {
			return sum, fmt.Errorf("analyze: %w", err)
		}
		if rep.Failed > 0 {
			r.logger.Warn("some changes failed analysis",
				zap.Int("failed", rep.Failed),
				zap.Int("successful", rep.Successful),
			)
		}
	}
	report, err := r.stages.Changes.GenerateReport(ctx)
	if err != nil {
		return sum, fmt.Errorf("analysis report: %w", err)
	}
	sum.Report = &report
	return sum, nil
}

func (r *Runner) baseline(ctx context.Context, force bool) (*analyzer.BaselineResult, error) {
	if r.stages.Baseline == nil {
		return nil, unavailable(monitor.StageBaseline)
	}
	res, err := r.stages.Baseline.Run(ctx, force)
	if err != nil {
		return &res, fmt.Errorf("baseline: %w", err)
	}
	return &res, nil
}

func (r *Runner) generate(ctx context.Context) (*static.Status, error) {
	if r.stages.Generator == nil {
		return nil, unavailable(monitor.StageGenerate)
	}
	status, err := r.stages.Generator.Generate(ctx)
	if err != nil {
		return &status, fmt.Errorf("generate: %w", err)
	}
	if !status.OK() {
		r.logger.Warn("static generation partial", zap.Int("errors", len(status.Errors)))
	}
	return &status, nil
}

// pipeline runs scrape, convert, recent analysis and generation in order,
// stopping at the first failing step.
func (r *Runner) pipeline(ctx context.Context) (*PipelineSummary, error) {
	sum := &PipelineSummary{}
	step := func(stage monitor.JobStage, fn func() error) error {
		start := time.Now()
		r.logger.Info("pipeline step started", zap.String("stage", string(stage)))
		err := fn()
		d := time.Since(start)
		sum.Timings = append(sum.Timings, StageTiming{Stage: stage, Duration: d})
		if err != nil {
			r.logger.Error("pipeline step failed", zap.String("stage", string(stage)), zap.Error(err))
			return err
		}
		r.logger.Info("pipeline step finished", zap.String("stage", string(stage)), zap.Duration("duration", d))
		return nil
	}

	var err error
	if err = step(monitor.StageScrape, func() error {
		sum.Scrape, err = r.scrape(ctx)
		return err
	}); err != nil {
		return sum, err
	}
	if err = step(monitor.StageConvert, func() error {
		sum.Convert, err = r.convert(ctx)
		return err
	}); err != nil {
		return sum, err
	}
	if r.stages.Changes == nil {
		r.logger.Warn("pipeline skipping analyze, no LLM configured")
	} else if err = step(monitor.StageAnalyze, func() error {
		sum.Analyze, err = r.analyze(ctx, analyzer.ModeRecent, false)
		return err
	}); err != nil {
		return sum, err
	}
	if err = step(monitor.StageGenerate, func() error {
		sum.Generate, err = r.generate(ctx)
		return err
	}); err != nil {
		return sum, err
	}
	return sum, nil
}
