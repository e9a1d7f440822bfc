// Package static renders the dashboard's JSON data files from the database
// into a blob store (local directory, GCS bucket or memory).
package static

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/slug"
)

// Output file names.
const (
	DashboardFile      = "dashboard.json"
	CompaniesFile      = "companies.json"
	ExtractedDataFile  = "extracted-data.json"
	ChangesFile        = "changes.json"
	MonitoringRunsFile = "monitoring-runs.json"
	CompanyDetailsFile = "company-details.json"
	AINewsFile         = "ai-news.json"
	ManifestFile       = "manifest.json"
	StatusFile         = "status.json"
	CompaniesDir       = "companies"
)

// ManifestVersion is written to manifest.json.
const ManifestVersion = "2.0"

// Query windows and limits of the generated files.
const (
	day                = 24 * time.Hour
	highInterest       = 7
	newsMinInterest    = 6
	changesWindow      = 30 * day
	changesLimit       = 500
	newsWindow         = 7 * day
	newsLimit          = 20
	runsLimit          = 50
	topTechnologies    = 5
	defaultInsights    = 5
	defaultConcurrency = 4
)

// Options tunes the generator.
type Options struct {
	// Prefix is prepended to every object path.
	Prefix             string
	Concurrency        int
	InsightsPerCompany int
}

// FileError records a file that could not be generated.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Status is written to status.json and returned by Generate.
type Status struct {
	Status         string      `json:"status"`
	GeneratedAt    time.Time   `json:"generated_at"`
	FilesGenerated int         `json:"files_generated"`
	Errors         []FileError `json:"errors"`
}

// OK reports whether every file was written.
func (s Status) OK() bool { return len(s.Errors) == 0 }

// Manifest lists the files written by the last run.
type Manifest struct {
	Version     string        `json:"version"`
	GeneratedAt time.Time     `json:"generated_at"`
	Files       ManifestFiles `json:"files"`
}

// ManifestFiles groups written files.
type ManifestFiles struct {
	Core      []string `json:"core"`
	Bonus     []string `json:"bonus"`
	Companies []string `json:"companies"`
}

// Generator renders the static data files.
type Generator struct {
	store  Store
	out    monitor.BlobStore
	clock  monitor.Clock
	logger *zap.Logger
	opts   Options
}

// New creates a Generator.
func New(store Store, out monitor.BlobStore, clock monitor.Clock, logger *zap.Logger, opts Options) (*Generator, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if out == nil {
		return nil, errors.New("output store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.InsightsPerCompany <= 0 {
		opts.InsightsPerCompany = defaultInsights
	}
	return &Generator{store: store, out: out, clock: clock, logger: logger, opts: opts}, nil
}

type fileJob struct {
	name  string
	bonus bool
	build func(ctx context.Context, now time.Time) (any, error)
}

// run collects per-file outcomes of one Generate call.
type run struct {
	mu       sync.Mutex
	errs     []FileError
	manifest ManifestFiles
	written  int
}

func (r *run) fail(file string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, FileError{File: file, Error: err.Error()})
}

func (r *run) ok(file string, add func(*ManifestFiles)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written++
	add(&r.manifest)
}

// Generate writes every data file, the manifest and status.json. A failing
// file is recorded in the status and does not stop the others. The returned
// error is set only when the status itself cannot be written or ctx ends.
func (g *Generator) Generate(ctx context.Context) (Status, error) {
	now := g.clock.Now()
	res := &run{}

	var (
		details   []CompanyDetail
		detailsMu sync.Mutex
	)
	jobs := []fileJob{
		{name: DashboardFile, build: func(ctx context.Context, now time.Time) (any, error) {
			return g.dashboardAt(ctx, now)
		}},
		{name: CompaniesFile, build: g.companies},
		{name: ExtractedDataFile, build: g.extractedData},
		{name: ChangesFile, build: g.changes},
		{name: MonitoringRunsFile, build: g.monitoringRuns},
		{name: CompanyDetailsFile, bonus: true, build: func(ctx context.Context, now time.Time) (any, error) {
			d, err := g.companyDetails(ctx, now)
			if err != nil {
				return nil, err
			}
			detailsMu.Lock()
			details = d
			detailsMu.Unlock()
			return map[string]any{"companies": d, "last_updated": now}, nil
		}},
		{name: AINewsFile, bonus: true, build: g.aiNews},
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.opts.Concurrency)
	for _, job := range jobs {
		grp.Go(func() error {
			g.writeFile(gctx, res, job.name, now, job.build, func(m *ManifestFiles) {
				if job.bonus {
					m.Bonus = append(m.Bonus, job.name)
				} else {
					m.Core = append(m.Core, job.name)
				}
			})
			return nil
		})
	}
	_ = grp.Wait()
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	if details == nil {
		res.fail(CompaniesDir, errors.New("company details unavailable"))
	}
	cgrp, cctx := errgroup.WithContext(ctx)
	cgrp.SetLimit(g.opts.Concurrency)
	names := companyFiles(details)
	for i, d := range details {
		name := names[i]
		cgrp.Go(func() error {
			g.writeFile(cctx, res, name, now, func(context.Context, time.Time) (any, error) {
				return d, nil
			}, func(m *ManifestFiles) { m.Companies = append(m.Companies, name) })
			return nil
		})
	}
	_ = cgrp.Wait()
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	sort.Strings(res.manifest.Core)
	sort.Strings(res.manifest.Bonus)
	sort.Strings(res.manifest.Companies)
	manifest := Manifest{Version: ManifestVersion, GeneratedAt: now, Files: res.manifest}
	if err := g.put(ctx, ManifestFile, manifest); err != nil {
		res.fail(ManifestFile, err)
	} else {
		res.written++
	}

	sort.Slice(res.errs, func(i, j int) bool { return res.errs[i].File < res.errs[j].File })
	status := Status{
		Status:         "ok",
		GeneratedAt:    now,
		FilesGenerated: res.written,
		Errors:         res.errs,
	}
	if !status.OK() {
		status.Status = "partial"
	} else {
		status.Errors = []FileError{}
	}
	if err := g.put(ctx, StatusFile, status); err != nil {
		return status, fmt.Errorf("write %s: %w", StatusFile, err)
	}
	g.logger.Info("static data generated",
		zap.String("status", status.Status),
		zap.Int("files", status.FilesGenerated),
		zap.Int("errors", len(status.Errors)),
	)
	return status, nil
}

// companyFiles names one file per company under CompaniesDir. A name with no
// usable slug falls back to the company ID, and a slug already taken gets the
// ID appended, so no two companies share a file.
func companyFiles(details []CompanyDetail) []string {
	names := make([]string, len(details))
	taken := make(map[string]bool, len(details))
	for i, d := range details {
		base := slug.Make(d.Name)
		if base == "" {
			base = fmt.Sprintf("company-%d", d.ID)
		}
		if taken[base] {
			base = fmt.Sprintf("%s-%d", base, d.ID)
		}
		name := base
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		taken[name] = true
		names[i] = path.Join(CompaniesDir, name+".json")
	}
	return names
}

func (g *Generator) writeFile(
	ctx context.Context,
	res *run,
	name string,
	now time.Time,
	build func(context.Context, time.Time) (any, error),
	record func(*ManifestFiles),
) {
	v, err := build(ctx, now)
	if err == nil {
		err = g.put(ctx, name, v)
	}
	if err != nil {
		g.logger.Warn("generate file failed", zap.String("file", name), zap.Error(err))
		res.fail(name, err)
		return
	}
	res.ok(name, record)
}

func (g *Generator) put(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if _, err := g.out.PutObject(ctx, path.Join(g.opts.Prefix, name), "application/json", data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
