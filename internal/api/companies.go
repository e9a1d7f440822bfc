package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

type urlRequest struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type companyRequest struct {
	Name          string       `json:"name"`
	Category      string       `json:"category"`
	Description   string       `json:"description"`
	InterestLevel *int         `json:"interest_level"`
	URLs          []urlRequest `json:"urls"`
}

func (req companyRequest) toCompany() (monitor.Company, error) {
	c := monitor.Company{
		Name:          strings.TrimSpace(req.Name),
		Category:      req.Category,
		Description:   req.Description,
		InterestLevel: 5,
	}
	if c.Name == "" {
		return monitor.Company{}, fmt.Errorf("name is required")
	}
	if req.InterestLevel != nil {
		if *req.InterestLevel < 1 || *req.InterestLevel > 10 {
			return monitor.Company{}, fmt.Errorf("interest_level must be between 1 and 10")
		}
		c.InterestLevel = *req.InterestLevel
	}
	for _, u := range req.URLs {
		tu, err := u.toTrackedURL()
		if err != nil {
			return monitor.Company{}, err
		}
		c.URLs = append(c.URLs, tu)
	}
	return c, nil
}

func (req urlRequest) toTrackedURL() (monitor.TrackedURL, error) {
	raw := strings.TrimSpace(req.URL)
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return monitor.TrackedURL{}, fmt.Errorf("invalid url %q", req.URL)
	}
	return monitor.TrackedURL{URL: raw, Name: req.Name, Category: req.Category}, nil
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.deps.Companies.ListCompanies(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if companies == nil {
		companies = []monitor.Company{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"companies": companies, "count": len(companies)})
}

func (s *Server) createCompany(w http.ResponseWriter, r *http.Request) {
	var req companyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c, err := req.toCompany()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.deps.Companies.CreateCompany(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	c, err := s.deps.Companies.GetCompany(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var req companyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) > 0 {
		s.writeError(w, http.StatusBadRequest, "urls are managed via /v1/companies/{id}/urls")
		return
	}
	c, err := req.toCompany()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.ID = id
	if err := s.deps.Companies.UpdateCompany(r.Context(), c); err != nil {
		s.fail(w, r, err)
		return
	}
	updated, err := s.deps.Companies.GetCompany(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	if err := s.deps.Companies.DeleteCompany(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addURL(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var req urlRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	u, err := req.toTrackedURL()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.deps.Companies.AddURL(r.Context(), id, u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, added)
}

func (s *Server) deleteURL(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid url id")
		return
	}
	if err := s.deps.Companies.DeleteURL(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
