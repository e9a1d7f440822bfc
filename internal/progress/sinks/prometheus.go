package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/compintel-monitor/internal/progress"
)

// PrometheusSink turns progress events into scrape-run collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchFailures *prometheus.CounterVec
	changes       *prometheus.CounterVec
	interest      prometheus.Histogram

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewPrometheusSink registers the collectors with reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compintel_scrape_runs_started_total",
			Help: "Scrape runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_scrape_runs_completed_total",
			Help: "Scrape runs finished, by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compintel_scrape_runs_active",
			Help: "Scrape runs in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compintel_scrape_run_duration_seconds",
			Help:    "Wall time of finished scrape runs.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_page_fetches_total",
			Help: "Completed page fetches by site and status class.",
		}, []string{"site", "status_class"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compintel_page_fetch_duration_seconds",
			Help:    "Page fetch latency by site.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"site"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_page_failures_total",
			Help: "Pages that failed after all retries, by site.",
		}, []string{"site"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_page_changes_total",
			Help: "Detected page changes by company and type.",
		}, []string{"company", "type"}),
		interest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "compintel_change_interest_level",
			Help:    "Quick interest level assigned to detected changes.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		active: make(map[uuid.UUID]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsActive, s.runDuration,
		s.fetches, s.fetchDuration, s.fetchFailures, s.changes, s.interest,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsActive.Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			}
			s.runsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsActive.Dec()
			}
		case progress.StageFetchDone:
			s.fetches.WithLabelValues(evt.Site, string(evt.StatusClass)).Inc()
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(evt.Site).Observe(evt.Dur.Seconds())
			}
		case progress.StageFetchError:
			s.fetchFailures.WithLabelValues(evt.Site).Inc()
		case progress.StageChange:
			company := evt.Company
			if company == "" {
				company = "unknown"
			}
			s.changes.WithLabelValues(company, string(evt.Change)).Inc()
			if evt.Interest > 0 {
				s.interest.Observe(float64(evt.Interest))
			}
		}
	}
	return nil
}

// track records a run as started or finished and reports whether the
// active set changed.
func (s *PrometheusSink) track(id uuid.UUID, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	if start {
		s.active[id] = struct{}{}
		return !ok
	}
	delete(s.active, id)
	return ok
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
