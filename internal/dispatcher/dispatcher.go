// Package dispatcher accepts stage jobs and fans queued work out to workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/telemetry"
	"github.com/JakeFAU/compintel-monitor/internal/worker"
)

// Dispatcher records submitted jobs and runs a pool of workers over the queue.
type Dispatcher struct {
	queue   monitor.Queue
	jobs    monitor.JobStore
	ids     monitor.IDGenerator
	clock   monitor.Clock
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue monitor.Queue,
	jobs monitor.JobStore,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		ids:     ids,
		clock:   clock,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates the stage, records a queued job and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, stage monitor.JobStage, params monitor.JobParams) (monitor.Job, error) {
	if _, err := monitor.ParseStage(string(stage)); err != nil {
		return monitor.Job{}, err
	}
	if d.ids == nil || d.jobs == nil || d.clock == nil {
		return monitor.Job{}, errors.New("dispatcher is not configured for submissions")
	}
	id, err := d.ids.NewID()
	if err != nil {
		return monitor.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := monitor.Job{
		ID:        id,
		Stage:     stage,
		Status:    monitor.JobStatusQueued,
		Params:    params,
		Submitted: d.clock.Now(),
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return monitor.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := d.Enqueue(ctx, monitor.QueueItem{
		JobID:     id,
		Stage:     stage,
		Params:    params,
		Submitted: job.Submitted.Unix(),
	}); err != nil {
		if uerr := d.jobs.UpdateJob(context.WithoutCancel(ctx), id, monitor.JobStatusFailed, err.Error(), nil); uerr != nil {
			d.logger.Error("mark unqueued job failed", zap.String("job_id", id), zap.Error(uerr))
		}
		return monitor.Job{}, err
	}
	telemetry.ObserveJob(string(stage), string(monitor.JobStatusQueued))
	d.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("stage", string(stage)),
		zap.String("trigger", params.Trigger),
	)
	return job, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item monitor.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
