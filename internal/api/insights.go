package api

import (
	"net/http"
	"time"

	"github.com/JakeFAU/compintel-monitor/internal/static"
)

const (
	defaultRecentDays  = 7
	maxRecentDays      = 365
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

type recentChangesResponse struct {
	Changes     []static.ChangeItem `json:"changes"`
	Count       int                 `json:"count"`
	Days        int                 `json:"days"`
	MinInterest int                 `json:"min_interest"`
}

func (s *Server) recentChanges(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(r, "days", defaultRecentDays, 1, maxRecentDays)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
		return
	}
	minInterest, ok := queryInt(r, "min_interest", 0, 0, 10)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "min_interest must be between 0 and 10")
		return
	}
	limit, ok := queryInt(r, "limit", defaultRecentLimit, 1, maxRecentLimit)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}

	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := s.deps.Changes.DetectedChanges(r.Context(), since, minInterest, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]static.ChangeItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, static.FormatChange(row))
	}
	s.writeJSON(w, http.StatusOK, recentChangesResponse{
		Changes:     items,
		Count:       len(items),
		Days:        days,
		MinInterest: minInterest,
	})
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Dashboard.Dashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) now() time.Time {
	if s.deps.Clock == nil {
		return time.Now().UTC()
	}
	return s.deps.Clock.Now()
}
