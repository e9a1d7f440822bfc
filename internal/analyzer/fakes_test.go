package analyzer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/compintel-monitor/internal/llm"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeLLM struct {
	mu        sync.Mutex
	replies   []string
	errs      []error
	requests  []llm.Request
	keyErr    error
	validated int
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	if len(f.replies) > 0 {
		return f.replies[len(f.replies)-1], nil
	}
	return "", errors.New("no scripted reply")
}

func (f *fakeLLM) ValidateKey(context.Context) error {
	f.validated++
	return f.keyErr
}

func (f *fakeLLM) Name() string { return "fake" }

type fakeChangeStore struct {
	changes     []DetectedChange
	listErr     error
	markdown    map[string]string
	saved       []ChangeRecord
	saveErr     error
	gotSince    *time.Time
	gotSkip     bool
	gotLimit    int
	counts      ReportCounts
	top         []TopChange
	reportSince time.Time
}

func (f *fakeChangeStore) ListChanges(_ context.Context, since *time.Time, skip bool, limit int) ([]DetectedChange, error) {
	f.gotSince, f.gotSkip, f.gotLimit = since, skip, limit
	return f.changes, f.listErr
}

func (f *fakeChangeStore) MarkdownBySourceHash(_ context.Context, hash string) (string, bool, error) {
	md, ok := f.markdown[hash]
	return md, ok, nil
}

func (f *fakeChangeStore) SaveChangeAnalysis(_ context.Context, rec ChangeRecord) (int64, error) {
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.saved = append(f.saved, rec)
	return int64(len(f.saved)), nil
}

func (f *fakeChangeStore) ChangeReportCounts(_ context.Context, since time.Time) (ReportCounts, error) {
	f.reportSince = since
	return f.counts, nil
}

func (f *fakeChangeStore) TopChanges(context.Context, time.Time, int) ([]TopChange, error) {
	return f.top, nil
}

type fakeBaselineStore struct {
	existing  int
	snapshots []Snapshot
	upserted  []BaselineRecord
	rows      []BaselineRow
}

func (f *fakeBaselineStore) CountBaselineAnalyses(context.Context) (int, error) {
	return f.existing, nil
}

func (f *fakeBaselineStore) LatestSnapshots(context.Context, int) ([]Snapshot, error) {
	return f.snapshots, nil
}

func (f *fakeBaselineStore) UpsertBaselineAnalysis(_ context.Context, rec BaselineRecord) error {
	f.upserted = append(f.upserted, rec)
	return nil
}

func (f *fakeBaselineStore) BaselineAnalyses(context.Context) ([]BaselineRow, error) {
	return f.rows, nil
}

func ptr[T any](v T) *T { return &v }
