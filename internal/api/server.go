package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/config"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/static"
	"github.com/JakeFAU/compintel-monitor/internal/telemetry"
)

const requestTimeout = 60 * time.Second

// CompanyStore manages tracked companies and their URLs.
type CompanyStore interface {
	ListCompanies(ctx context.Context) ([]monitor.Company, error)
	GetCompany(ctx context.Context, id int64) (monitor.Company, error)
	CreateCompany(ctx context.Context, c monitor.Company) (monitor.Company, error)
	UpdateCompany(ctx context.Context, c monitor.Company) error
	DeleteCompany(ctx context.Context, id int64) error
	AddURL(ctx context.Context, companyID int64, u monitor.TrackedURL) (monitor.TrackedURL, error)
	DeleteURL(ctx context.Context, id int64) error
}

// ChangeSource lists detected changes for the recent-changes endpoint.
type ChangeSource interface {
	DetectedChanges(ctx context.Context, since time.Time, minInterest, limit int) ([]static.ChangeRow, error)
}

// DashboardSource builds the live dashboard view.
type DashboardSource interface {
	Dashboard(ctx context.Context) (static.Dashboard, error)
}

// Submitter accepts stage jobs.
type Submitter interface {
	Submit(ctx context.Context, stage monitor.JobStage, params monitor.JobParams) (monitor.Job, error)
}

// Pinger reports database readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps groups everything the handlers read from or write to.
type Deps struct {
	Companies CompanyStore
	Changes   ChangeSource
	Dashboard DashboardSource
	Jobs      monitor.JobStore
	Submitter Submitter
	DB        Pinger
	Clock     monitor.Clock
}

// Server wires HTTP handlers to the stores and the dispatcher.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, auth config.AuthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(requestTimeout))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Route("/companies", func(r chi.Router) {
			r.Get("/", s.listCompanies)
			r.Post("/", s.createCompany)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getCompany)
				r.Put("/", s.updateCompany)
				r.Delete("/", s.deleteCompany)
				r.Post("/urls", s.addURL)
			})
		})
		r.Delete("/urls/{id}", s.deleteURL)
		r.Get("/changes/recent", s.recentChanges)
		r.Get("/dashboard", s.dashboard)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/{id}", s.getJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
