package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// JobStore keeps stage jobs in memory for the API and workers.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]monitor.Job
	clock monitor.Clock
}

// NewJobStore constructs a JobStore. A nil clock uses wall time.
func NewJobStore(clock monitor.Clock) *JobStore {
	return &JobStore{jobs: make(map[string]monitor.Job), clock: clock}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job monitor.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob moves a job to status, stamping start and finish times.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, status monitor.JobStatus, errText string, summary any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, monitor.ErrNotFound)
	}
	now := s.now()
	job.Status = status
	job.ErrorText = errText
	if summary != nil {
		job.Summary = summary
	}
	if status == monitor.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (monitor.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return monitor.Job{}, fmt.Errorf("job %s: %w", jobID, monitor.ErrNotFound)
	}
	return job, nil
}

func (s *JobStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
