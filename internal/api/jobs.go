package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// TriggerAPI marks jobs submitted over HTTP.
const TriggerAPI = "api"

type jobRequest struct {
	Stage      string `json:"stage"`
	Mode       string `json:"mode"`
	Force      bool   `json:"force"`
	ReportOnly bool   `json:"report_only"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	stage, err := monitor.ParseStage(req.Stage)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Mode {
	case "", analyzer.ModeRecent, analyzer.ModeFull:
	default:
		s.writeError(w, http.StatusBadRequest, "mode must be recent or full")
		return
	}

	job, err := s.deps.Submitter.Submit(r.Context(), stage, monitor.JobParams{
		Mode:       req.Mode,
		Force:      req.Force,
		ReportOnly: req.ReportOnly,
		Trigger:    TriggerAPI,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"stage":  string(job.Stage),
		"status": string(job.Status),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}
