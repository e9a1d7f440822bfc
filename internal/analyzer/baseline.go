package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/cache"
	"github.com/JakeFAU/compintel-monitor/internal/hash/sha256"
	"github.com/JakeFAU/compintel-monitor/internal/llm"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// Files written by the baseline analyzer under the reports prefix.
const (
	BaselineReportFile = "baseline-report.json"
	BaselineErrorsFile = "baseline-analysis-errors.json"
)

const (
	baselineTemperature = 0.1
	defaultCompanyType  = "AI Company"
	minSnapshotLength   = 100
)

// Snapshot is the latest markdown for one tracked page.
type Snapshot struct {
	Company      string
	URL          string
	Content      string
	MarkdownHash *string
	CreatedAt    time.Time
}

// BaselineRecord maps an extraction onto intelligence.baseline_analysis.
type BaselineRecord struct {
	Company         string
	URL             string
	Entities        json.RawMessage
	Themes          json.RawMessage
	Sentiment       json.RawMessage
	KeyPoints       json.RawMessage
	Relationships   json.RawMessage
	CompanyType     string
	PagePurpose     string
	KeyTopics       json.RawMessage
	MainMessage     string
	TargetAudience  string
	UniqueValue     string
	TrustElements   json.RawMessage
	Differentiation string
	TechnologyStack json.RawMessage
	ContentHash     *string
	Model           string
}

// BaselineRow is a stored analysis read back for the report.
type BaselineRow struct {
	Company         string
	URL             string
	Entities        json.RawMessage
	Sentiment       json.RawMessage
	KeyTopics       string
	TechnologyStack string
}

// BaselineStore is the persistence the baseline analyzer needs.
type BaselineStore interface {
	CountBaselineAnalyses(ctx context.Context) (int, error)
	LatestSnapshots(ctx context.Context, minLength int) ([]Snapshot, error)
	UpsertBaselineAnalysis(ctx context.Context, rec BaselineRecord) error
	BaselineAnalyses(ctx context.Context) ([]BaselineRow, error)
}

// BaselineOptions tunes the baseline analyzer.
type BaselineOptions struct {
	Model         string
	MaxTokens     int
	ContentLimit  int
	MinContent    int
	ModelLabel    string
	ReportsPrefix string
	CacheTTL      time.Duration
}

// BaselineResult is returned by BaselineAnalyzer.Run.
type BaselineResult struct {
	Skipped bool           `json:"skipped"`
	Errors  Report         `json:"errors"`
	Report  BaselineReport `json:"report"`
}

// BaselineReport is written as BaselineReportFile.
type BaselineReport struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	Statistics   BaselineStatistics `json:"statistics"`
	Companies    []CompanyBaseline  `json:"companies"`
	InterestDist map[string]int     `json:"interest_levels"`
}

// BaselineStatistics totals entity counts across all analyses.
type BaselineStatistics struct {
	Companies         int `json:"companies"`
	URLsAnalyzed      int `json:"urls_analyzed"`
	TotalProducts     int `json:"total_products"`
	TotalTechnologies int `json:"total_technologies"`
	TotalPartnerships int `json:"total_partnerships"`
	TotalIntegrations int `json:"total_integrations"`
}

// CompanyBaseline aggregates every analyzed page of a company.
type CompanyBaseline struct {
	Name             string   `json:"name"`
	URLsAnalyzed     int      `json:"urls_analyzed"`
	Technologies     []string `json:"technologies"`
	KeyTopics        []string `json:"key_topics"`
	AverageRelevance float64  `json:"average_relevance"`
}

// BaselineAnalyzer extracts a structured profile from each page's latest markdown.
type BaselineAnalyzer struct {
	store  BaselineStore
	client llm.Client
	output monitor.BlobStore
	cache  cache.AnalysisCache
	clock  monitor.Clock
	opts   BaselineOptions
	logger *zap.Logger
}

// NewBaselineAnalyzer wires a BaselineAnalyzer. A nil cache disables caching.
func NewBaselineAnalyzer(
	store BaselineStore,
	client llm.Client,
	output monitor.BlobStore,
	analysisCache cache.AnalysisCache,
	clock monitor.Clock,
	opts BaselineOptions,
	logger *zap.Logger,
) *BaselineAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if analysisCache == nil {
		analysisCache = cache.Noop{}
	}
	return &BaselineAnalyzer{
		store:  store,
		client: client,
		output: output,
		cache:  analysisCache,
		clock:  clock,
		opts:   opts,
		logger: logger,
	}
}

// Run analyzes every page unless analyses already exist and force is false,
// then regenerates the report. It returns an error when any page failed.
func (b *BaselineAnalyzer) Run(ctx context.Context, force bool) (BaselineResult, error) {
	var res BaselineResult
	tracker := NewErrorTracker(b.clock)

	existing, err := b.store.CountBaselineAnalyses(ctx)
	if err != nil {
		return res, fmt.Errorf("count baseline analyses: %w", err)
	}
	if existing > 0 && !force {
		b.logger.Info("baseline analysis exists, regenerating report only", zap.Int("rows", existing))
		res.Skipped = true
		res.Report, err = b.GenerateReport(ctx)
		res.Errors = tracker.Report()
		return res, err
	}

	if err := b.client.ValidateKey(ctx); err != nil {
		if !errors.Is(err, llm.ErrInvalidAPIKey) {
			err = fmt.Errorf("%w: %w", llm.ErrInvalidAPIKey, err)
		}
		return res, fmt.Errorf("validate %s api key: %w", b.client.Name(), err)
	}

	snapshots, err := b.store.LatestSnapshots(ctx, minSnapshotLength)
	if err != nil {
		return res, fmt.Errorf("load snapshots: %w", err)
	}
	b.logger.Info("baseline analysis started", zap.Int("pages", len(snapshots)), zap.Bool("force", force))

	for i, snap := range snapshots {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(snap.Content) < b.opts.MinContent {
			b.logger.Debug("skipping short page", zap.String("url", snap.URL))
			continue
		}
		if err := b.analyze(ctx, snap, force); err != nil {
			tracker.AddError(ErrorEntry{Company: snap.Company, URL: snap.URL}, err, IsCritical(err))
			b.logger.Warn("baseline analysis failed",
				zap.String("company", snap.Company),
				zap.String("url", snap.URL),
				zap.Error(err),
			)
			if tracker.ShouldAbort() {
				b.logger.Error("aborting baseline analysis", zap.Int("failed", tracker.Report().Failed))
				break
			}
		} else {
			tracker.AddSuccess()
		}
		if (i+1)%progressEvery == 0 {
			b.logger.Info("baseline analysis progress", zap.Int("processed", i+1), zap.Int("total", len(snapshots)))
		}
	}

	res.Errors = tracker.Report()
	if tracker.HasErrors() {
		if _, err := writeJSON(ctx, b.output, path.Join(b.opts.ReportsPrefix, BaselineErrorsFile), res.Errors); err != nil {
			b.logger.Warn("write baseline error report", zap.Error(err))
		}
	}

	report, reportErr := b.GenerateReport(ctx)
	if reportErr != nil {
		b.logger.Error("baseline report failed", zap.Error(reportErr))
	}
	res.Report = report

	if tracker.HasErrors() {
		return res, fmt.Errorf("baseline analysis completed with %d failures", res.Errors.Failed)
	}
	return res, reportErr
}

// baselineExtraction is the subset of the model reply mapped to columns.
// Models drift between strings, objects and arrays for the same field, so
// every leaf stays raw and is read leniently.
type baselineExtraction struct {
	Entities              json.RawMessage `json:"entities"`
	Relationships         json.RawMessage `json:"relationships"`
	Capabilities          json.RawMessage `json:"capabilities"`
	CurrentState          json.RawMessage `json:"current_state"`
	StrategicIntelligence json.RawMessage `json:"strategic_intelligence"`
	Summary               json.RawMessage `json:"summary"`
}

type currentStateView struct {
	Positioning      json.RawMessage `json:"positioning"`
	ValueProps       json.RawMessage `json:"value_props"`
	CoreCapabilities json.RawMessage `json:"core_capabilities"`
}

type strategicView struct {
	InnovationLevel    json.RawMessage `json:"innovation_level"`
	InterestAssessment json.RawMessage `json:"interest_assessment"`
}

type summaryView struct {
	OneLine     json.RawMessage `json:"one_line"`
	KeyInsights json.RawMessage `json:"key_insights"`
}

type entityView struct {
	Products     json.RawMessage `json:"products"`
	Technologies json.RawMessage `json:"technologies"`
	Partnerships json.RawMessage `json:"partnerships"`
	Integrations json.RawMessage `json:"integrations"`
	Markets      json.RawMessage `json:"markets"`
}

// decodeLoose fills v from raw when raw is an object and leaves v zero
// otherwise.
func decodeLoose(raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}

// looseItems reads a field that should hold an array. A lone value counts as
// one item; null or absent is none.
func looseItems(raw json.RawMessage) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) == nil {
		return items
	}
	return []json.RawMessage{raw}
}

// itemText renders a string or number item as text, or an object item by the
// first of keys that holds one.
func itemText(item json.RawMessage, keys ...string) string {
	if s := scalarText(item); s != "" {
		return s
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(item, &obj) != nil {
		return ""
	}
	for _, k := range keys {
		if s := scalarText(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

// firstField reads key from the first item only when that item is an object.
func firstField(raw json.RawMessage, key string) string {
	items := looseItems(raw)
	if len(items) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(items[0], &obj) != nil {
		return ""
	}
	return scalarText(obj[key])
}

func firstText(raw json.RawMessage, keys ...string) string {
	items := looseItems(raw)
	if len(items) == 0 {
		return ""
	}
	return itemText(items[0], keys...)
}

func (b *BaselineAnalyzer) analyze(ctx context.Context, snap Snapshot, force bool) error {
	content := Truncate(snap.Content, b.opts.ContentLimit)
	raw, err := b.complete(ctx, snap, content, force)
	if err != nil {
		return err
	}
	rec, err := b.record(snap, raw)
	if err != nil {
		return err
	}
	if err := b.store.UpsertBaselineAnalysis(ctx, rec); err != nil {
		return fmt.Errorf("%w: store baseline analysis: %w", errStore, err)
	}
	return nil
}

func (b *BaselineAnalyzer) complete(ctx context.Context, snap Snapshot, content string, force bool) (json.RawMessage, error) {
	key := "baseline:" + sha256.Sum(snap.Company+"\n"+snap.URL+"\n"+content)
	if !force {
		if cached, ok, err := b.cache.Get(ctx, key); err != nil {
			b.logger.Warn("analysis cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}
	reply, err := b.client.Complete(ctx, llm.Request{
		System:      SystemPrompt,
		Prompt:      BaselinePrompt(snap.Company, snap.URL, content),
		Model:       b.opts.Model,
		Temperature: baselineTemperature,
		MaxTokens:   b.opts.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract baseline: %w", err)
	}
	var raw json.RawMessage
	if err := llm.DecodeJSON(reply, &raw); err != nil {
		return nil, err
	}
	if err := b.cache.Set(ctx, key, raw, b.opts.CacheTTL); err != nil {
		b.logger.Warn("analysis cache write failed", zap.Error(err))
	}
	return raw, nil
}

func (b *BaselineAnalyzer) record(snap Snapshot, raw json.RawMessage) (BaselineRecord, error) {
	var ext baselineExtraction
	if err := json.Unmarshal(raw, &ext); err != nil {
		return BaselineRecord{}, fmt.Errorf("decode baseline extraction: %w", err)
	}
	var (
		ents    entityView
		current currentStateView
		strat   strategicView
		summary summaryView
	)
	decodeLoose(ext.Entities, &ents)
	decodeLoose(ext.CurrentState, &current)
	decodeLoose(ext.StrategicIntelligence, &strat)
	decodeLoose(ext.Summary, &summary)

	rec := BaselineRecord{
		Company:         snap.Company,
		URL:             snap.URL,
		Entities:        jsonOrEmptyObject(ext.Entities),
		Themes:          jsonOrEmptyObject(ext.Capabilities),
		Sentiment:       jsonOrEmptyObject(strat.InterestAssessment),
		KeyPoints:       jsonOrEmptyArray(summary.KeyInsights),
		Relationships:   jsonOrEmptyArray(ext.Relationships),
		CompanyType:     firstField(ents.Products, "type"),
		PagePurpose:     scalarText(current.Positioning),
		KeyTopics:       jsonOrEmptyArray(summary.KeyInsights),
		MainMessage:     scalarText(summary.OneLine),
		TargetAudience:  firstText(ents.Markets, "segment"),
		UniqueValue:     firstText(current.ValueProps, "value", "name"),
		TrustElements:   jsonOrEmptyArray(current.CoreCapabilities),
		Differentiation: scalarText(strat.InnovationLevel),
		ContentHash:     snap.MarkdownHash,
		Model:           b.opts.ModelLabel,
	}
	if rec.CompanyType == "" {
		rec.CompanyType = defaultCompanyType
	}

	techs := []string{}
	for _, item := range looseItems(ents.Technologies) {
		if name := itemText(item, "name"); name != "" {
			techs = append(techs, name)
		}
	}
	stack, err := json.Marshal(techs)
	if err != nil {
		return BaselineRecord{}, fmt.Errorf("encode technology stack: %w", err)
	}
	rec.TechnologyStack = stack
	return rec, nil
}

// GenerateReport aggregates stored analyses and writes BaselineReportFile.
func (b *BaselineAnalyzer) GenerateReport(ctx context.Context) (BaselineReport, error) {
	rows, err := b.store.BaselineAnalyses(ctx)
	if err != nil {
		return BaselineReport{}, fmt.Errorf("load baseline analyses: %w", err)
	}
	report := BuildBaselineReport(rows, b.clock.Now())
	uri, err := writeJSON(ctx, b.output, path.Join(b.opts.ReportsPrefix, BaselineReportFile), report)
	if err != nil {
		return report, err
	}
	b.logger.Info("baseline report written",
		zap.String("uri", uri),
		zap.Int("companies", report.Statistics.Companies),
		zap.Int("urls", report.Statistics.URLsAnalyzed),
	)
	return report, nil
}

// BuildBaselineReport aggregates rows per company, sorted by name.
func BuildBaselineReport(rows []BaselineRow, now time.Time) BaselineReport {
	report := BaselineReport{
		GeneratedAt:  now,
		Companies:    []CompanyBaseline{},
		InterestDist: map[string]int{},
	}
	type agg struct {
		urls      int
		techs     []string
		topics    []string
		relevance []float64
	}
	byCompany := map[string]*agg{}

	for _, row := range rows {
		report.Statistics.URLsAnalyzed++
		a := byCompany[row.Company]
		if a == nil {
			a = &agg{}
			byCompany[row.Company] = a
		}
		a.urls++
		a.techs = append(a.techs, textList(row.TechnologyStack)...)
		a.topics = append(a.topics, textList(row.KeyTopics)...)

		var ents entityView
		decodeLoose(row.Entities, &ents)
		report.Statistics.TotalProducts += len(looseItems(ents.Products))
		report.Statistics.TotalTechnologies += len(looseItems(ents.Technologies))
		report.Statistics.TotalPartnerships += len(looseItems(ents.Partnerships))
		report.Statistics.TotalIntegrations += len(looseItems(ents.Integrations))
		var sentiment struct {
			InterestLevel *float64 `json:"interest_level"`
		}
		if len(row.Sentiment) > 0 && json.Unmarshal(row.Sentiment, &sentiment) == nil &&
			sentiment.InterestLevel != nil && *sentiment.InterestLevel > 0 {
			level := *sentiment.InterestLevel
			a.relevance = append(a.relevance, level)
			report.InterestDist[strconv.Itoa(int(level+0.5))]++
		}
	}

	names := make([]string, 0, len(byCompany))
	for name := range byCompany {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := byCompany[name]
		cb := CompanyBaseline{
			Name:         name,
			URLsAnalyzed: a.urls,
			Technologies: dedupe(a.techs),
			KeyTopics:    dedupe(a.topics),
		}
		if len(a.relevance) > 0 {
			var sum float64
			for _, r := range a.relevance {
				sum += r
			}
			cb.AverageRelevance = Round1(sum / float64(len(a.relevance)))
		}
		report.Companies = append(report.Companies, cb)
	}
	report.Statistics.Companies = len(names)
	return report
}

// textList reads a text column holding a JSON array; anything else is one value.
func textList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var items []any
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return []string{s}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case nil:
		default:
			if b, err := json.Marshal(v); err == nil {
				out = append(out, string(b))
			}
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return slices.Clip(out)
}

func jsonOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}
	return raw
}

// scalarText renders a JSON string or non-zero number as text.
func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil && f != 0 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
