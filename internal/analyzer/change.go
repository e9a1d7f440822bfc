// Package analyzer runs the LLM-backed change and baseline analyses and
// writes their reports.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/cache"
	"github.com/JakeFAU/compintel-monitor/internal/hash/sha256"
	"github.com/JakeFAU/compintel-monitor/internal/llm"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// Modes accepted by ChangeAnalyzer.Run.
const (
	ModeRecent = "recent"
	ModeFull   = "full"
)

// ChangeReportFile is the report name under the reports prefix.
const ChangeReportFile = "enhanced-analysis-report.json"

const (
	snippetLength     = 1000
	defaultConfidence = 0.8
	defaultInterest   = 5
	progressEvery     = 10
)

// DetectedChange is a change_detection row awaiting deep analysis.
type DetectedChange struct {
	ID              int64
	Company         string
	URL             string
	URLName         string
	ChangeType      string
	OldHash         *string
	NewHash         string
	DetectedAt      time.Time
	InitialInterest *int
}

// ChangeRecord is everything persisted for one analyzed change.
type ChangeRecord struct {
	Change                  DetectedChange
	BeforeSnippet           string
	AfterSnippet            string
	MarkdownBefore          *string
	MarkdownAfter           string
	Analysis                json.RawMessage
	InterestLevel           int
	Confidence              float64
	KeyInsights             json.RawMessage
	BusinessImpact          string
	CompetitiveImplications string
	MarketSignals           json.RawMessage
	RiskAssessment          json.RawMessage
	Model                   string
}

// ReportCounts aggregates intelligence.changes over the report window.
type ReportCounts struct {
	Total   int
	High    int
	Medium  int
	Low     int
	Average *float64
}

// TopChange is one of the highest-interest analyzed changes.
type TopChange struct {
	Company       string          `json:"company"`
	URL           string          `json:"url"`
	InterestLevel int             `json:"interest_level"`
	Type          string          `json:"type"`
	Impact        string          `json:"impact"`
	Insights      json.RawMessage `json:"insights"`
}

// ChangeStore is the persistence the change analyzer needs.
type ChangeStore interface {
	ListChanges(ctx context.Context, since *time.Time, skipAnalyzed bool, limit int) ([]DetectedChange, error)
	MarkdownBySourceHash(ctx context.Context, hash string) (string, bool, error)
	SaveChangeAnalysis(ctx context.Context, rec ChangeRecord) (int64, error)
	ChangeReportCounts(ctx context.Context, since time.Time) (ReportCounts, error)
	TopChanges(ctx context.Context, since time.Time, limit int) ([]TopChange, error)
}

// ChangeOptions tunes the change analyzer.
type ChangeOptions struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	RecentWindow  time.Duration
	Limit         int
	ContentLimit  int
	ReportWindow  time.Duration
	ReportTop     int
	ModelLabel    string
	ReportsPrefix string
	CacheTTL      time.Duration
}

// ChangeReport is written as ChangeReportFile.
type ChangeReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Period      string        `json:"period"`
	Summary     ReportSummary `json:"summary"`
	TopChanges  []TopChange   `json:"top_changes"`
}

// ReportSummary is the interest breakdown in ChangeReport.
type ReportSummary struct {
	TotalChanges    int     `json:"total_changes"`
	HighInterest    int     `json:"high_interest"`
	MediumInterest  int     `json:"medium_interest"`
	LowInterest     int     `json:"low_interest"`
	AverageInterest float64 `json:"average_interest"`
}

// ChangeAnalyzer performs deep before/after analysis of detected changes.
type ChangeAnalyzer struct {
	store  ChangeStore
	client llm.Client
	output monitor.BlobStore
	cache  cache.AnalysisCache
	clock  monitor.Clock
	opts   ChangeOptions
	logger *zap.Logger
}

// NewChangeAnalyzer wires a ChangeAnalyzer. A nil cache disables caching.
func NewChangeAnalyzer(
	store ChangeStore,
	client llm.Client,
	output monitor.BlobStore,
	analysisCache cache.AnalysisCache,
	clock monitor.Clock,
	opts ChangeOptions,
	logger *zap.Logger,
) *ChangeAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if analysisCache == nil {
		analysisCache = cache.Noop{}
	}
	return &ChangeAnalyzer{
		store:  store,
		client: client,
		output: output,
		cache:  analysisCache,
		clock:  clock,
		opts:   opts,
		logger: logger,
	}
}

// changeAnalysis is the subset of the model reply the analyzer reads.
type changeAnalysis struct {
	InterestAssessment struct {
		InterestLevel *float64 `json:"interest_level"`
		Confidence    *float64 `json:"confidence"`
	} `json:"interest_assessment"`
	StrategicAnalysis struct {
		BusinessImpact          string          `json:"business_impact"`
		CompetitiveImplications string          `json:"competitive_implications"`
		MarketSignals           json.RawMessage `json:"market_signals"`
	} `json:"strategic_analysis"`
	Insights struct {
		KeyFindings json.RawMessage `json:"key_findings"`
		Threats     json.RawMessage `json:"threats"`
	} `json:"insights"`
}

// Run analyzes recent (or all) detected changes and returns the tracker
// report. Only a failure to list changes is returned as an error.
func (a *ChangeAnalyzer) Run(ctx context.Context, mode string) (Report, error) {
	tracker := NewErrorTracker(a.clock)
	if mode != ModeRecent && mode != ModeFull {
		return tracker.Report(), fmt.Errorf("unknown analysis mode %q", mode)
	}

	var since *time.Time
	if mode == ModeRecent {
		t := a.clock.Now().Add(-a.opts.RecentWindow)
		since = &t
	}
	changes, err := a.store.ListChanges(ctx, since, mode == ModeRecent, a.opts.Limit)
	if err != nil {
		return tracker.Report(), fmt.Errorf("list changes: %w", err)
	}
	a.logger.Info("change analysis started", zap.String("mode", mode), zap.Int("changes", len(changes)))

	start := a.clock.Now()
	for i, change := range changes {
		if err := ctx.Err(); err != nil {
			return tracker.Report(), err
		}
		if err := a.analyze(ctx, change); err != nil {
			tracker.AddError(ErrorEntry{
				ID:      strconv.FormatInt(change.ID, 10),
				Company: change.Company,
				URL:     change.URL,
			}, err, IsCritical(err))
			a.logger.Warn("change analysis failed",
				zap.Int64("change_id", change.ID),
				zap.String("company", change.Company),
				zap.Error(err),
			)
		} else {
			tracker.AddSuccess()
		}
		if (i+1)%progressEvery == 0 {
			a.logger.Info("change analysis progress",
				zap.Int("processed", i+1),
				zap.Int("total", len(changes)),
				zap.Duration("elapsed", a.clock.Now().Sub(start)),
			)
		}
	}

	report := tracker.Report()
	a.logger.Info("change analysis complete",
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (a *ChangeAnalyzer) analyze(ctx context.Context, change DetectedChange) error {
	var before *string
	if change.OldHash != nil && *change.OldHash != "" {
		content, ok, err := a.store.MarkdownBySourceHash(ctx, *change.OldHash)
		if err != nil {
			return fmt.Errorf("%w: load before markdown: %w", errStore, err)
		}
		if ok {
			before = &content
		}
	}
	after, ok, err := a.store.MarkdownBySourceHash(ctx, change.NewHash)
	if err != nil {
		return fmt.Errorf("%w: load after markdown: %w", errStore, err)
	}
	if !ok || after == "" {
		return fmt.Errorf("no markdown for hash %s: %w", change.NewHash, monitor.ErrNotFound)
	}

	var trimmedBefore *string
	if before != nil {
		t := Truncate(*before, a.opts.ContentLimit)
		trimmedBefore = &t
	}
	trimmedAfter := Truncate(after, a.opts.ContentLimit)

	raw, err := a.complete(ctx, change, trimmedBefore, trimmedAfter)
	if err != nil {
		return err
	}
	var parsed changeAnalysis
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode analysis: %w", err)
	}

	interest := defaultInterest
	switch {
	case parsed.InterestAssessment.InterestLevel != nil && *parsed.InterestAssessment.InterestLevel > 0:
		interest = int(math.Round(*parsed.InterestAssessment.InterestLevel))
	case change.InitialInterest != nil && *change.InitialInterest > 0:
		interest = *change.InitialInterest
	}
	confidence := defaultConfidence
	if c := parsed.InterestAssessment.Confidence; c != nil && *c > 0 {
		confidence = *c
	}

	rec := ChangeRecord{
		Change:                  change,
		AfterSnippet:            Truncate(after, snippetLength),
		MarkdownBefore:          before,
		MarkdownAfter:           after,
		Analysis:                raw,
		InterestLevel:           interest,
		Confidence:              confidence,
		KeyInsights:             jsonOrEmptyArray(parsed.Insights.KeyFindings),
		BusinessImpact:          parsed.StrategicAnalysis.BusinessImpact,
		CompetitiveImplications: parsed.StrategicAnalysis.CompetitiveImplications,
		MarketSignals:           jsonOrEmptyArray(parsed.StrategicAnalysis.MarketSignals),
		RiskAssessment:          jsonOrEmptyArray(parsed.Insights.Threats),
		Model:                   a.opts.ModelLabel,
	}
	if before != nil {
		rec.BeforeSnippet = Truncate(*before, snippetLength)
	}
	id, err := a.store.SaveChangeAnalysis(ctx, rec)
	if err != nil {
		return fmt.Errorf("%w: save analysis: %w", errStore, err)
	}
	a.logger.Debug("change analyzed", zap.Int64("change_row", id), zap.Int("interest", interest))
	return nil
}

// changeCacheKey covers everything the prompt is built from: the page and
// both content hashes.
func changeCacheKey(change DetectedChange) string {
	old := ""
	if change.OldHash != nil {
		old = *change.OldHash
	}
	return "change:" + sha256.Sum(change.Company+"\n"+change.URL+"\n"+old+"\n"+change.NewHash)
}

func (a *ChangeAnalyzer) complete(ctx context.Context, change DetectedChange, before *string, after string) (json.RawMessage, error) {
	key := changeCacheKey(change)
	if cached, ok, err := a.cache.Get(ctx, key); err != nil {
		a.logger.Warn("analysis cache read failed", zap.Error(err))
	} else if ok {
		return cached, nil
	}

	reply, err := a.client.Complete(ctx, llm.Request{
		System:      SystemPrompt,
		Prompt:      ChangePrompt(change.Company, change.URL, before, after),
		Model:       a.opts.Model,
		Temperature: a.opts.Temperature,
		MaxTokens:   a.opts.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze change: %w", err)
	}
	var raw json.RawMessage
	if err := llm.DecodeJSON(reply, &raw); err != nil {
		return nil, err
	}
	if err := a.cache.Set(ctx, key, raw, a.opts.CacheTTL); err != nil {
		a.logger.Warn("analysis cache write failed", zap.Error(err))
	}
	return raw, nil
}

// GenerateReport summarizes the report window and writes ChangeReportFile.
func (a *ChangeAnalyzer) GenerateReport(ctx context.Context) (ChangeReport, error) {
	now := a.clock.Now()
	since := now.Add(-a.opts.ReportWindow)

	counts, err := a.store.ChangeReportCounts(ctx, since)
	if err != nil {
		return ChangeReport{}, fmt.Errorf("report counts: %w", err)
	}
	top, err := a.store.TopChanges(ctx, since, a.opts.ReportTop)
	if err != nil {
		return ChangeReport{}, fmt.Errorf("top changes: %w", err)
	}
	if top == nil {
		top = []TopChange{}
	}

	report := ChangeReport{
		GeneratedAt: now,
		Period:      fmt.Sprintf("last_%d_days", int(a.opts.ReportWindow.Hours()/24)),
		Summary: ReportSummary{
			TotalChanges:   counts.Total,
			HighInterest:   counts.High,
			MediumInterest: counts.Medium,
			LowInterest:    counts.Low,
		},
		TopChanges: top,
	}
	if counts.Average != nil {
		report.Summary.AverageInterest = Round1(*counts.Average)
	}

	uri, err := writeJSON(ctx, a.output, path.Join(a.opts.ReportsPrefix, ChangeReportFile), report)
	if err != nil {
		return report, err
	}
	a.logger.Info("change report written",
		zap.String("uri", uri),
		zap.Int("total_changes", report.Summary.TotalChanges),
		zap.Int("high_interest", report.Summary.HighInterest),
	)
	return report, nil
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func jsonOrEmptyArray(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("[]")
	}
	return raw
}

func writeJSON(ctx context.Context, out monitor.BlobStore, name string, v any) (string, error) {
	if out == nil {
		return "", errors.New("no output store configured")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	uri, err := out.PutObject(ctx, name, "application/json", data)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return uri, nil
}
