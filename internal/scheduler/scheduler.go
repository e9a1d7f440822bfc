// Package scheduler submits pipeline and baseline jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// TriggerSchedule marks jobs submitted by the scheduler.
const TriggerSchedule = "schedule"

// Submitter accepts stage jobs.
type Submitter interface {
	Submit(ctx context.Context, stage monitor.JobStage, params monitor.JobParams) (monitor.Job, error)
}

// Entry binds a cron expression to a stage.
type Entry struct {
	Spec   string
	Stage  monitor.JobStage
	Params monitor.JobParams
}

// Scheduler owns a cron instance whose entries submit jobs.
type Scheduler struct {
	cron      *cron.Cron
	parser    cron.Parser
	submitter Submitter
	logger    *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[monitor.JobStage]cron.EntryID
}

// New creates a Scheduler using the standard five-field cron format. Descriptors
// such as @daily are accepted too.
func New(submitter Submitter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cl)), cron.WithLogger(cl)),
		parser:    parser,
		submitter: submitter,
		logger:    logger,
		entries:   make(map[monitor.JobStage]cron.EntryID),
	}
}

// Add registers e. An empty spec is ignored so optional schedules can stay
// unset in configuration.
func (s *Scheduler) Add(e Entry) error {
	if e.Spec == "" {
		return nil
	}
	if _, err := monitor.ParseStage(string(e.Stage)); err != nil {
		return err
	}
	if _, err := s.parser.Parse(e.Spec); err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", e.Spec, e.Stage, err)
	}

	params := e.Params
	params.Trigger = TriggerSchedule
	stage := e.Stage
	id, err := s.cron.AddFunc(e.Spec, func() { s.fire(stage, params) })
	if err != nil {
		return fmt.Errorf("add schedule for %s: %w", e.Stage, err)
	}

	s.mu.Lock()
	if old, ok := s.entries[stage]; ok {
		s.cron.Remove(old)
	}
	s.entries[stage] = id
	s.mu.Unlock()

	s.logger.Info("schedule registered", zap.String("stage", string(stage)), zap.String("spec", e.Spec))
	return nil
}

func (s *Scheduler) fire(stage monitor.JobStage, params monitor.JobParams) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	job, err := s.submitter.Submit(ctx, stage, params)
	if err != nil {
		s.logger.Error("scheduled submit failed", zap.String("stage", string(stage)), zap.Error(err))
		return
	}
	s.logger.Info("scheduled job submitted", zap.String("stage", string(stage)), zap.String("job_id", job.ID))
}

// runNow runs the registered entry for stage now, through the same recover
// chain cron uses.
func (s *Scheduler) runNow(stage monitor.JobStage) bool {
	s.mu.Lock()
	id, ok := s.entries[stage]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.cron.Entry(id).WrappedJob.Run()
	return true
}

// Start begins running entries. Submissions use ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the cron loop and waits for running entries to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

// Len reports how many schedules are registered.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
