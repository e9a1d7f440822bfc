// Package worker executes queued stage jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/telemetry"
)

// StageRunner runs one pipeline stage and returns its summary.
type StageRunner interface {
	Run(ctx context.Context, stage monitor.JobStage, params monitor.JobParams) (any, error)
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a single job. Zero means no limit.
	JobTimeout time.Duration
}

// Worker consumes queue items and runs them through the StageRunner.
type Worker struct {
	queue  monitor.Queue
	jobs   monitor.JobStore
	runner StageRunner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue monitor.Queue, jobs monitor.JobStore, runner StageRunner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: queue, jobs: jobs, runner: runner, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, monitor.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("stage", string(item.Stage)))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item monitor.QueueItem) {
	log := w.logger.With(zap.String("job_id", item.JobID), zap.String("stage", string(item.Stage)))
	if w.runner == nil {
		log.Error("no stage runner configured")
		w.finish(ctx, log, item, monitor.JobStatusFailed, "no stage runner configured", nil)
		return
	}
	if err := w.jobs.UpdateJob(ctx, item.JobID, monitor.JobStatusRunning, "", nil); err != nil {
		log.Error("update job status failed", zap.Error(err))
		return
	}

	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	started := time.Now()
	summary, err := w.runStage(jobCtx, item)
	status, errText := deriveFinalStatus(ctx, err)
	log.Info("job finished",
		zap.String("status", string(status)),
		zap.Duration("duration", time.Since(started)),
		zap.String("error", errText),
	)
	w.finish(ctx, log, item, status, errText, summary)
}

// runStage converts a panicking stage into a failed job.
func (w *Worker) runStage(ctx context.Context, item monitor.QueueItem) (summary any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", item.Stage, r)
		}
	}()
	return w.runner.Run(ctx, item.Stage, item.Params)
}

func (w *Worker) finish(
	ctx context.Context,
	log *zap.Logger,
	item monitor.QueueItem,
	status monitor.JobStatus,
	errText string,
	summary any,
) {
	telemetry.ObserveJob(string(item.Stage), string(status))
	// The final status must land even when the job was canceled.
	if err := w.jobs.UpdateJob(context.WithoutCancel(ctx), item.JobID, status, errText, summary); err != nil {
		log.Error("final job status update failed", zap.Error(err))
	}
}

func deriveFinalStatus(ctx context.Context, err error) (monitor.JobStatus, string) {
	switch {
	case ctx.Err() != nil:
		text := ctx.Err().Error()
		if err != nil {
			text = err.Error()
		}
		return monitor.JobStatusCanceled, text
	case err != nil:
		return monitor.JobStatusFailed, err.Error()
	default:
		return monitor.JobStatusSucceeded, ""
	}
}
