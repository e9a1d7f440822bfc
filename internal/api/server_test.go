package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/compintel-monitor/internal/clock/system"
	"github.com/JakeFAU/compintel-monitor/internal/config"
	"github.com/JakeFAU/compintel-monitor/internal/dispatcher"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	queueMemory "github.com/JakeFAU/compintel-monitor/internal/queue/memory"
	"github.com/JakeFAU/compintel-monitor/internal/static"
	"github.com/JakeFAU/compintel-monitor/internal/storage/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeCompanies struct {
	mu        sync.Mutex
	companies map[int64]monitor.Company
	nextID    int64
	err       error
}

func newFakeCompanies() *fakeCompanies {
	return &fakeCompanies{
		companies: map[int64]monitor.Company{
			1: {ID: 1, Name: "Acme", URLs: []monitor.TrackedURL{{ID: 10, CompanyID: 1, URL: "https://acme.test/", Active: true}}},
		},
		nextID: 100,
	}
}

func (f *fakeCompanies) ListCompanies(context.Context) ([]monitor.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]monitor.Company, 0, len(f.companies))
	for _, c := range f.companies {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCompanies) GetCompany(_ context.Context, id int64) (monitor.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[id]
	if !ok {
		return monitor.Company{}, fmt.Errorf("company %d: %w", id, monitor.ErrNotFound)
	}
	return c, nil
}

func (f *fakeCompanies) CreateCompany(_ context.Context, c monitor.Company) (monitor.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	c.CreatedAt = testNow
	f.companies[c.ID] = c
	return c, nil
}

func (f *fakeCompanies) UpdateCompany(_ context.Context, c monitor.Company) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.companies[c.ID]
	if !ok {
		return monitor.ErrNotFound
	}
	c.URLs = old.URLs
	f.companies[c.ID] = c
	return nil
}

func (f *fakeCompanies) DeleteCompany(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.companies[id]; !ok {
		return monitor.ErrNotFound
	}
	delete(f.companies, id)
	return nil
}

func (f *fakeCompanies) AddURL(_ context.Context, companyID int64, u monitor.TrackedURL) (monitor.TrackedURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return monitor.TrackedURL{}, monitor.ErrNotFound
	}
	f.nextID++
	u.ID, u.CompanyID, u.Active = f.nextID, companyID, true
	c.URLs = append(c.URLs, u)
	f.companies[companyID] = c
	return u, nil
}

func (f *fakeCompanies) DeleteURL(_ context.Context, id int64) error {
	if id != 10 {
		return monitor.ErrNotFound
	}
	return nil
}

type fakeChanges struct {
	since       time.Time
	minInterest int
	limit       int
	rows        []static.ChangeRow
}

func (f *fakeChanges) DetectedChanges(_ context.Context, since time.Time, minInterest, limit int) ([]static.ChangeRow, error) {
	f.since, f.minInterest, f.limit = since, minInterest, limit
	return f.rows, nil
}

type fakeDashboard struct{ err error }

func (f fakeDashboard) Dashboard(context.Context) (static.Dashboard, error) {
	return static.Dashboard{
		Companies:   []static.DashboardCompany{{Name: "Acme"}},
		Stats:       static.DashboardStats{TotalCompanies: 1},
		LastUpdated: testNow,
	}, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fixture struct {
	server    *Server
	companies *fakeCompanies
	changes   *fakeChanges
	queue     *queueMemory.Queue
	jobs      *memory.JobStore
}

func newFixture(t *testing.T, auth config.AuthConfig) *fixture {
	t.Helper()
	clock := system.Fixed(testNow)
	q := queueMemory.NewQueue(4)
	jobs := memory.NewJobStore(clock)
	ids := &seqIDs{}
	logger := zaptest.NewLogger(t)
	f := &fixture{
		companies: newFakeCompanies(),
		changes:   &fakeChanges{},
		queue:     q,
		jobs:      jobs,
	}
	f.server = NewServer(Deps{
		Companies: f.companies,
		Changes:   f.changes,
		Dashboard: fakeDashboard{},
		Jobs:      jobs,
		Submitter: dispatcher.New(q, jobs, ids, clock, nil, logger),
		DB:        fakePinger{},
		Clock:     clock,
	}, auth, logger)
	return f
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	f.server.deps.DB = fakePinger{err: errors.New("connection refused")}
	rec = f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"error":"database unavailable"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	f.do(t, http.MethodGet, "/healthz", "")
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{Enabled: true, APIKey: "secret"})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)

	rec := f.do(t, http.MethodGet, "/v1/companies", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/v1/companies", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCompanyCRUD(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})

	rec := f.do(t, http.MethodPost, "/v1/companies",
		`{"name":"Globex","category":"retail","urls":[{"url":"https://globex.test/pricing","name":"Pricing"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created monitor.Company
	decodeBody(t, rec, &created)
	require.Equal(t, "Globex", created.Name)
	require.Equal(t, 5, created.InterestLevel)
	require.Len(t, created.URLs, 1)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/companies/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/v1/companies/%d", created.ID),
		`{"name":"Globex Corp","interest_level":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated monitor.Company
	decodeBody(t, rec, &updated)
	require.Equal(t, "Globex Corp", updated.Name)
	require.Equal(t, 9, updated.InterestLevel)
	require.Len(t, updated.URLs, 1)

	rec = f.do(t, http.MethodGet, "/v1/companies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	require.Equal(t, 2, list.Count)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/v1/companies/%d", created.ID), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/companies/%d", created.ID), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestCompanyValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	cases := []struct {
		name, method, target, body string
		want                       int
	}{
		{"bad json", http.MethodPost, "/v1/companies", `{`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/companies", `{"name":"x","bogus":1}`, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/v1/companies", `{"name":"  "}`, http.StatusBadRequest},
		{"interest range", http.MethodPost, "/v1/companies", `{"name":"x","interest_level":11}`, http.StatusBadRequest},
		{"bad url", http.MethodPost, "/v1/companies", `{"name":"x","urls":[{"url":"ftp://x"}]}`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/v1/companies/abc", ``, http.StatusBadRequest},
		{"urls on update", http.MethodPut, "/v1/companies/1", `{"name":"x","urls":[{"url":"https://x.test"}]}`, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/v1/companies/404", `{"name":"x"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.target, tc.body)
			require.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestURLRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	rec := f.do(t, http.MethodPost, "/v1/companies/1/urls", `{"url":"https://acme.test/blog","name":"Blog"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var u monitor.TrackedURL
	decodeBody(t, rec, &u)
	require.Equal(t, int64(1), u.CompanyID)
	require.True(t, u.Active)

	rec = f.do(t, http.MethodPost, "/v1/companies/99/urls", `{"url":"https://x.test/"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/urls/10", "").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/urls/11", "").Code)
}

func TestListCompaniesHidesStoreErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	f.companies.err = errors.New("pq: password authentication failed")
	rec := f.do(t, http.MethodGet, "/v1/companies", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "password")
}

func TestRecentChanges(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	f.changes.rows = []static.ChangeRow{{
		ID: 1, Company: "Acme", URL: "https://acme.test/", URLName: "Home", ChangeType: "modified",
		NewHash: "h1", DetectedAt: testNow.Add(-time.Hour), InterestLevel: 7,
		Analysis: json.RawMessage(`{"summary":"Price cut","category":"Pricing"}`),
	}}

	rec := f.do(t, http.MethodGet, "/v1/changes/recent?days=3&min_interest=6&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body recentChangesResponse
	decodeBody(t, rec, &body)
	require.Equal(t, 1, body.Count)
	require.Equal(t, "Price cut", body.Changes[0].Summary)
	require.Equal(t, testNow.Add(-72*time.Hour), f.changes.since)
	require.Equal(t, 6, f.changes.minInterest)
	require.Equal(t, 5, f.changes.limit)

	rec = f.do(t, http.MethodGet, "/v1/changes/recent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, defaultRecentLimit, f.changes.limit)
	require.Equal(t, testNow.Add(-7*24*time.Hour), f.changes.since)

	for _, q := range []string{"days=0", "days=x", "min_interest=11", "limit=5000"} {
		rec = f.do(t, http.MethodGet, "/v1/changes/recent?"+q, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestDashboard(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	rec := f.do(t, http.MethodGet, "/v1/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d static.Dashboard
	decodeBody(t, rec, &d)
	require.Equal(t, "Acme", d.Companies[0].Name)
	require.Equal(t, testNow, d.LastUpdated)
}

func TestSubmitAndFetchJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	rec := f.do(t, http.MethodPost, "/v1/jobs", `{"stage":"analyze","mode":"full"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted map[string]string
	decodeBody(t, rec, &accepted)
	require.Equal(t, "job-1", accepted["job_id"])
	require.Equal(t, "queued", accepted["status"])

	item, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, monitor.StageAnalyze, item.Stage)
	require.Equal(t, monitor.JobParams{Mode: "full", Trigger: TriggerAPI}, item.Params)

	rec = f.do(t, http.MethodGet, "/v1/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Job monitor.Job `json:"job"`
	}
	decodeBody(t, rec, &got)
	require.Equal(t, monitor.JobStatusQueued, got.Job.Status)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/jobs/missing", "").Code)
}

func TestSubmitJobRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/jobs", `{"stage":"reindex"}`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/jobs", `{"stage":"analyze","mode":"weekly"}`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/jobs", `nope`).Code)
}

func TestSubmitJobAfterQueueClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.AuthConfig{})
	f.queue.Close()
	rec := f.do(t, http.MethodPost, "/v1/jobs", `{"stage":"pipeline"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusFailed, job.Status)
}

func TestRecoverMiddlewareReturnsJSON(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
