package analyzer

import (
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/compintel-monitor/internal/llm"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// errStore marks persistence failures so they count as critical.
var errStore = errors.New("database")

// ErrorEntry is one failed item in an analysis run.
type ErrorEntry struct {
	ID        string    `json:"id,omitempty"`
	Company   string    `json:"company"`
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Report summarizes a run for logs and the error file.
type Report struct {
	TotalProcessed int          `json:"total_processed"`
	Successful     int          `json:"successful"`
	Failed         int          `json:"failed"`
	CriticalErrors int          `json:"critical_errors"`
	Errors         []ErrorEntry `json:"errors"`
}

// ErrorTracker counts successes and failures and decides when a run should stop.
type ErrorTracker struct {
	mu        sync.Mutex
	clock     monitor.Clock
	errors    []ErrorEntry
	critical  int
	successes int
}

// NewErrorTracker returns an empty tracker stamping entries with clock.
func NewErrorTracker(clock monitor.Clock) *ErrorTracker {
	return &ErrorTracker{clock: clock}
}

// IsCritical reports errors that make further work pointless.
func IsCritical(err error) bool {
	return llm.IsInvalidKey(err) || errors.Is(err, errStore)
}

// AddError records a failure for the given item.
func (t *ErrorTracker) AddError(entry ErrorEntry, err error, critical bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry.Error = err.Error()
	entry.Timestamp = t.clock.Now()
	t.errors = append(t.errors, entry)
	if critical {
		t.critical++
	}
}

// AddSuccess records a completed item.
func (t *ErrorTracker) AddSuccess() {
	t.mu.Lock()
	t.successes++
	t.mu.Unlock()
}

// HasErrors reports whether any failure was recorded.
func (t *ErrorTracker) HasErrors() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.errors) > 0
}

// ShouldAbort is true after any critical error, or once more than ten items
// failed and failures outnumber half the successes.
func (t *ErrorTracker) ShouldAbort() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.errors)
	return t.critical > 0 || (n > 10 && float64(n) > float64(t.successes)/2)
}

// Report snapshots the tracker.
func (t *ErrorTracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	errs := make([]ErrorEntry, len(t.errors))
	copy(errs, t.errors)
	return Report{
		TotalProcessed: t.successes + len(t.errors),
		Successful:     t.successes,
		Failed:         len(t.errors),
		CriticalErrors: t.critical,
		Errors:         errs,
	}
}
