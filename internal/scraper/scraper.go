// Package scraper fetches every active competitor URL, detects content
// changes against the last stored snapshot and records the results.
package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/captcha"
	"github.com/JakeFAU/compintel-monitor/internal/change"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/progress"
	"github.com/JakeFAU/compintel-monitor/internal/retry"
)

// PreviousPage is the latest stored snapshot of a URL.
type PreviousPage struct {
	ContentHash string
	Content     string
}

// PageRecord is one scrape result to persist.
type PageRecord struct {
	Company       string
	URL           string
	URLName       string
	Title         string
	Content       string
	HTML          string
	ContentHash   string
	PreviousHash  *string
	ChangeType    monitor.ChangeType
	InterestLevel int
	Assessment    *analyzer.Assessment
	BlobURI       string
	ScrapedAt     time.Time
}

// PageError is a URL that failed after every retry.
type PageError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// RunRecord is the row written to the scraping run history.
type RunRecord struct {
	StartedAt       time.Time
	CompletedAt     time.Time
	URLsTotal       int
	URLsSucceeded   int
	URLsFailed      int
	ChangesDetected int
	DurationSeconds int
	Errors          []PageError
}

// Store is the persistence the scraper needs.
type Store interface {
	// ActiveCompanies returns active companies ordered by name, each with
	// its active URLs ordered by name.
	ActiveCompanies(ctx context.Context) ([]monitor.Company, error)
	// LatestPage returns nil when the URL has never been stored.
	LatestPage(ctx context.Context, company, url string) (*PreviousPage, error)
	// SavePage writes the snapshot and, for detected changes, the baseline
	// and change rows in one transaction.
	SavePage(ctx context.Context, page PageRecord) error
	RecordRun(ctx context.Context, run RunRecord) error
}

// ChallengeDetector recognizes CAPTCHA and bot-protection pages.
type ChallengeDetector interface {
	Detect(html, pageURL string) captcha.Result
}

// Assessor scores a new or modified page.
type Assessor interface {
	Assess(ctx context.Context, previous *string, current string) analyzer.Assessment
}

// Options mirrors the scraper configuration block.
type Options struct {
	BatchSize     int
	PageTimeout   time.Duration
	BatchDelay    time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	RespectRobots bool
	ArchiveHTML   bool
	ArchivePrefix string
}

// Deps are the collaborators of a Scraper. Archive, Publisher, Limiter and
// Progress are optional.
type Deps struct {
	Store     Store
	Fetcher   monitor.Fetcher
	Limiter   monitor.Limiter
	Captcha   ChallengeDetector
	Changes   *change.Detector
	Assessor  Assessor
	Archive   monitor.BlobStore
	Publisher monitor.Publisher
	Progress  progress.Emitter
	Clock     monitor.Clock
}

// CaptchaStats counts challenge pages seen during one run.
type CaptchaStats struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

// RunSummary is returned by Run.
type RunSummary struct {
	RunID           string       `json:"run_id"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     time.Time    `json:"completed_at"`
	DurationSeconds int          `json:"duration_seconds"`
	Total           int          `json:"total"`
	Processed       int          `json:"processed"`
	Succeeded       int          `json:"succeeded"`
	Failed          int          `json:"failed"`
	New             int          `json:"new"`
	Changed         int          `json:"changed"`
	Unchanged       int          `json:"unchanged"`
	Published       int          `json:"published"`
	Errors          []PageError  `json:"errors"`
	Captcha         CaptchaStats `json:"captcha"`
}

// ChangesDetected is the number of new plus modified pages.
func (s RunSummary) ChangesDetected() int {
	return s.New + s.Changed
}

// Scraper runs scrape passes. It is safe to reuse across runs but not to
// run concurrently with itself.
type Scraper struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	summary RunSummary
	runID   uuid.UUID
}

// New validates deps and fills option defaults.
func New(deps Deps, opts Options, logger *zap.Logger) (*Scraper, error) {
	if deps.Store == nil || deps.Fetcher == nil || deps.Changes == nil {
		return nil, fmt.Errorf("scraper: store, fetcher and change detector are required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("scraper: clock is required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Scraper{deps: deps, opts: opts, logger: logger.Named("scraper")}, nil
}

// Run scrapes every active URL once. Per-URL failures are recorded in the
// summary; only a failure to list companies, to record the run, or
// cancellation is returned as an error.
func (s *Scraper) Run(ctx context.Context) (RunSummary, error) {
	s.reset()
	started := s.summary.StartedAt
	s.emit(progress.Event{Stage: progress.StageRunStart})

	companies, err := s.deps.Store.ActiveCompanies(ctx)
	if err != nil {
		s.emit(progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		return RunSummary{}, fmt.Errorf("load companies: %w", err)
	}
	s.logger.Info("scrape run started", zap.String("run_id", s.runID.String()), zap.Int("companies", len(companies)))

	for _, company := range companies {
		if ctx.Err() != nil {
			break
		}
		if len(company.URLs) == 0 {
			s.logger.Warn("skipping company without urls", zap.String("company", company.Name))
			continue
		}
		s.scrapeCompany(ctx, company)
	}

	summary := s.finish()
	runErr := ctx.Err()

	// The run row is written even when the run was interrupted.
	record := RunRecord{
		StartedAt:       started,
		CompletedAt:     summary.CompletedAt,
		URLsTotal:       summary.Total,
		URLsSucceeded:   summary.Succeeded,
		URLsFailed:      summary.Failed,
		ChangesDetected: summary.ChangesDetected(),
		DurationSeconds: summary.DurationSeconds,
		Errors:          summary.Errors,
	}
	if err := s.deps.Store.RecordRun(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Error("record scraping run", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("record scraping run: %w", err)
		}
	}

	stage := progress.StageRunDone
	if runErr != nil {
		stage = progress.StageRunError
	}
	s.emit(progress.Event{Stage: stage, Dur: time.Duration(summary.DurationSeconds) * time.Second})
	s.logger.Info("scrape run finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("new", summary.New),
		zap.Int("changed", summary.Changed),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("duration_seconds", summary.DurationSeconds),
	)
	return summary, runErr
}

func (s *Scraper) scrapeCompany(ctx context.Context, company monitor.Company) {
	urls := company.URLs
	s.mu.Lock()
	s.summary.Total += len(urls)
	s.mu.Unlock()

	batches := (len(urls) + s.opts.BatchSize - 1) / s.opts.BatchSize
	s.logger.Info("scraping company", zap.String("company", company.Name), zap.Int("urls", len(urls)), zap.Int("batches", batches))

	for start := 0; start < len(urls); start += s.opts.BatchSize {
		if start > 0 {
			if err := retry.Sleep(ctx, s.opts.BatchDelay); err != nil {
				return
			}
		}
		end := min(start+s.opts.BatchSize, len(urls))

		var g errgroup.Group
		for _, u := range urls[start:end] {
			g.Go(func() error {
				s.scrapeWithRetry(ctx, company, u)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (s *Scraper) scrapeWithRetry(ctx context.Context, company monitor.Company, u monitor.TrackedURL) {
	policy := retry.Fixed{
		MaxAttempts: s.opts.MaxRetries + 1,
		Delay:       s.opts.RetryDelay,
		Retryable:   retryable,
	}
	var result pageResult
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		var err error
		result, err = s.scrapePage(ctx, company, u)
		return err
	}, retry.WithNotify(func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("retrying url",
			zap.String("url", u.URL),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Processed++
	if err != nil {
		s.summary.Failed++
		s.summary.Errors = append(s.summary.Errors, PageError{URL: u.URL, Error: err.Error()})
		if kind, ok := challengeKind(err); ok {
			s.summary.Captcha.Total++
			s.summary.Captcha.ByType[string(kind)]++
		}
		s.logger.Error("url failed", zap.String("company", company.Name), zap.String("url", u.URL), zap.Error(err))
		s.emitLocked(progress.Event{Stage: progress.StageFetchError, Company: company.Name, Site: siteOf(u.URL), URL: u.URL, Note: err.Error()})
		return
	}
	s.summary.Succeeded++
	switch result.changeType {
	case monitor.ChangeNew:
		s.summary.New++
	case monitor.ChangeModified:
		s.summary.Changed++
	default:
		s.summary.Unchanged++
	}
	if result.published {
		s.summary.Published++
	}
}

func (s *Scraper) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = uuid.New()
	s.summary = RunSummary{
		RunID:     s.runID.String(),
		StartedAt: s.deps.Clock.Now(),
		Errors:    []PageError{},
		Captcha:   CaptchaStats{ByType: map[string]int{}},
	}
}

func (s *Scraper) finish() RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.CompletedAt = s.deps.Clock.Now()
	s.summary.DurationSeconds = int(s.summary.CompletedAt.Sub(s.summary.StartedAt).Round(time.Second).Seconds())
	out := s.summary
	out.Errors = append([]PageError{}, s.summary.Errors...)
	return out
}

func (s *Scraper) emit(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(evt)
}

func (s *Scraper) emitLocked(evt progress.Event) {
	evt.RunID = s.runID
	if evt.TS.IsZero() {
		evt.TS = s.deps.Clock.Now()
	}
	s.deps.Progress.Emit(evt)
}
