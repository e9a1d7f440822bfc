package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/api"
	"github.com/JakeFAU/compintel-monitor/internal/dispatcher"
	"github.com/JakeFAU/compintel-monitor/internal/id/uuid"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	queueMemory "github.com/JakeFAU/compintel-monitor/internal/queue/memory"
	"github.com/JakeFAU/compintel-monitor/internal/scheduler"
	memoryStorage "github.com/JakeFAU/compintel-monitor/internal/storage/memory"
	"github.com/JakeFAU/compintel-monitor/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Service is the long-running API, worker pool and scheduler.
type Service struct {
	app        *App
	queue      *queueMemory.Queue
	dispatch   *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	httpServer *http.Server
}

// NewService wires the job queue, workers, scheduler and HTTP API.
func (a *App) NewService() (*Service, error) {
	cfg := a.cfg
	q := queueMemory.NewQueue(cfg.Queue.Depth)
	jobs := memoryStorage.NewJobStore(a.clock)

	workers := make([]*worker.Worker, 0, cfg.Workers.Count)
	for i := range cfg.Workers.Count {
		workers = append(workers, worker.New(q, jobs, a.runner, worker.Config{
			JobTimeout: cfg.Workers.JobTimeout,
		}, a.logger.Named("worker").With(zap.Int("index", i))))
	}
	d := dispatcher.New(q, jobs, uuid.New(), a.clock, workers, a.logger.Named("dispatcher"))

	sched := scheduler.New(d, a.logger.Named("scheduler"))
	if cfg.Schedule.Enabled {
		for _, e := range []scheduler.Entry{
			{Spec: cfg.Schedule.Pipeline, Stage: monitor.StagePipeline},
			{Spec: cfg.Schedule.Baseline, Stage: monitor.StageBaseline},
		} {
			if err := sched.Add(e); err != nil {
				return nil, fmt.Errorf("schedule init failed: %w", err)
			}
		}
	}

	apiServer := api.NewServer(api.Deps{
		Companies: a.store,
		Changes:   a.store,
		Dashboard: a.generator,
		Jobs:      jobs,
		Submitter: d,
		DB:        a.store,
		Clock:     a.clock,
	}, cfg.Auth, a.logger.Named("api"))

	return &Service{
		app:       a,
		queue:     q,
		dispatch:  d,
		scheduler: sched,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run starts the service and blocks until the context is canceled or a
// termination signal arrives. Running jobs are canceled on shutdown.
func (s *Service) Run(ctx context.Context) error {
	logger := s.app.logger
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("dispatcher started", zap.Int("workers", s.app.cfg.Workers.Count))
		s.dispatch.Run(ctx)
	}()

	s.scheduler.Start(ctx)
	logger.Info("scheduler started", zap.Int("entries", s.scheduler.Len()))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	s.scheduler.Stop()
	s.queue.Close()
	wg.Wait()
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Serve builds the service and runs it until shutdown.
func (a *App) Serve(ctx context.Context) error {
	svc, err := a.NewService()
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
