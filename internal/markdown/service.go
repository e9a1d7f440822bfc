package markdown

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// Source types recorded on markdown rows.
const (
	SourceScraped  = "scraped_page"
	SourceBaseline = "baseline"
	SourceBackfill = "backfill"
)

// BackfillLimit caps how many change-referenced hashes are converted per run.
const BackfillLimit = 100

// RequiredTables must exist before conversion starts.
var RequiredTables = []string{
	"raw_content.scraped_pages",
	"raw_content.company_pages_baseline",
	"processed_content.markdown_pages",
	"processed_content.change_detection",
}

// SourcePage is an HTML snapshot awaiting conversion.
type SourcePage struct {
	Company     string
	URL         string
	HTML        string
	Title       string
	ContentHash string
}

// Page is a stored markdown document.
type Page struct {
	Company      string
	URL          string
	URLName      string
	Title        string
	Content      string
	MarkdownHash string
	SourceHash   string
	SourceType   string
	CreatedAt    time.Time
}

// Stats summarizes markdown coverage of raw content.
type Stats struct {
	TotalScraped    int     `json:"total_scraped"`
	TotalBaselines  int     `json:"total_baselines"`
	TotalMarkdown   int     `json:"total_markdown"`
	UniqueMarkdown  int     `json:"unique_markdown"`
	FromScraped     int     `json:"markdown_from_scraped"`
	FromBaseline    int     `json:"markdown_from_baseline"`
	FromBackfill    int     `json:"markdown_from_backfill"`
	UniqueContent   int     `json:"total_unique_content"`
	Covered         int     `json:"markdown_coverage"`
	CoveragePercent float64 `json:"coverage_percent"`
}

// Store is the persistence the conversion service needs.
type Store interface {
	MissingTables(ctx context.Context, tables []string) ([]string, error)
	PendingScrapedPages(ctx context.Context) ([]SourcePage, error)
	PendingBaselines(ctx context.Context) ([]SourcePage, error)
	UnconvertedChangeSources(ctx context.Context, limit int) ([]SourcePage, error)
	InsertMarkdown(ctx context.Context, page Page) (bool, error)
	MarkdownStats(ctx context.Context) (Stats, error)
}

// PassResult counts the outcome of one conversion pass.
type PassResult struct {
	Found     int `json:"found"`
	Converted int `json:"converted"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Result is returned by Service.Run.
type Result struct {
	Scraped  PassResult `json:"scraped"`
	Baseline PassResult `json:"baseline"`
	Backfill PassResult `json:"backfill"`
	Stats    Stats      `json:"stats"`
	Warnings int        `json:"warnings"`
}

// Service converts every unconverted snapshot into markdown.
type Service struct {
	store     Store
	converter *Converter
	clock     monitor.Clock
	logger    *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, converter *Converter, clock monitor.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if converter == nil {
		converter = NewConverter()
	}
	return &Service{store: store, converter: converter, clock: clock, logger: logger}
}

// Run verifies the schema, converts scraped pages, baselines and
// change-referenced hashes, then computes coverage statistics.
func (s *Service) Run(ctx context.Context) (Result, error) {
	var res Result

	missing, err := s.store.MissingTables(ctx, RequiredTables)
	if err != nil {
		return res, fmt.Errorf("verify tables: %w", err)
	}
	if len(missing) > 0 {
		return res, fmt.Errorf("%w: %v", monitor.ErrMissingArtifacts, missing)
	}

	passes := []struct {
		name   string
		source string
		load   func(context.Context) ([]SourcePage, error)
		out    *PassResult
	}{
		{"scraped pages", SourceScraped, s.store.PendingScrapedPages, &res.Scraped},
		{"baselines", SourceBaseline, s.store.PendingBaselines, &res.Baseline},
		{"backfill", SourceBackfill, func(ctx context.Context) ([]SourcePage, error) {
			return s.store.UnconvertedChangeSources(ctx, BackfillLimit)
		}, &res.Backfill},
	}
	for _, pass := range passes {
		pages, err := pass.load(ctx)
		if err != nil {
			return res, fmt.Errorf("load %s: %w", pass.name, err)
		}
		*pass.out = s.convertAll(ctx, pages, pass.source)
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("convert %s: %w", pass.name, err)
		}
		s.logger.Info("markdown pass complete",
			zap.String("pass", pass.name),
			zap.Int("found", pass.out.Found),
			zap.Int("converted", pass.out.Converted),
			zap.Int("errors", pass.out.Errors),
		)
	}

	stats, err := s.store.MarkdownStats(ctx)
	if err != nil {
		// Stats are informational; conversion already succeeded.
		s.logger.Warn("markdown stats failed", zap.Error(err))
		res.Warnings++
		return res, nil
	}
	res.Stats = stats
	return res, nil
}

func (s *Service) convertAll(ctx context.Context, pages []SourcePage, sourceType string) PassResult {
	out := PassResult{Found: len(pages)}
	for _, src := range pages {
		if ctx.Err() != nil {
			return out
		}
		page, err := s.build(src, sourceType)
		if err != nil {
			out.Errors++
			s.logger.Warn("convert page", zap.String("url", src.URL), zap.Error(err))
			continue
		}
		inserted, err := s.store.InsertMarkdown(ctx, page)
		switch {
		case err != nil:
			out.Errors++
			s.logger.Warn("store markdown", zap.String("url", src.URL), zap.Error(err))
		case inserted:
			out.Converted++
		default:
			out.Skipped++
		}
	}
	return out
}

func (s *Service) build(src SourcePage, sourceType string) (Page, error) {
	content, err := s.converter.Convert(src.HTML, src.Title)
	if err != nil {
		return Page{}, err
	}
	title := src.Title
	if title == "" {
		title = titleOf(content)
	}
	return Page{
		Company:      src.Company,
		URL:          src.URL,
		URLName:      URLName(src.URL),
		Title:        title,
		Content:      content,
		MarkdownHash: Hash(content),
		SourceHash:   src.ContentHash,
		SourceType:   sourceType,
		CreatedAt:    s.clock.Now(),
	}, nil
}

// URLName is the path component of rawURL, or "/" when it has none.
func URLName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// Coverage returns covered/total as a percentage rounded to one decimal.
func Coverage(covered, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(covered)/float64(total)*1000) / 10
}

func titleOf(markdown string) string {
	rest, ok := strings.CutPrefix(markdown, "# ")
	if !ok {
		return ""
	}
	line, _, _ := strings.Cut(rest, "\n")
	return line
}
