package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compintel-monitor/internal/static"
)

func TestDetectedChangesJoinsNewestPage(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	at := since.Add(2 * time.Hour)
	mock.ExpectQuery("LEFT JOIN LATERAL").
		WithArgs(since, 6, 20).
		WillReturnRows(mock.NewRows([]string{
			"id", "company", "url", "url_name", "change_type", "old_hash", "new_hash",
			"detected_at", "interest_level", "ai_analysis", "title", "preview",
		}).AddRow(int64(3), "Acme", "https://acme.test/", "Home", "new", (*string)(nil), "h1",
			at, 8, json.RawMessage(`{"category":"Pricing"}`), "Acme Home", "Welcome"))

	rows, err := store.DetectedChanges(context.Background(), since, 6, 20)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Acme Home", rows[0].Title)
	require.Nil(t, rows[0].OldHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDashboardStatsAndRuns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM intelligence.company_urls WHERE active").
		WithArgs(now).
		WillReturnRows(mock.NewRows([]string{"c", "u", "d1", "d7", "h7"}).AddRow(3, 12, 1, 5, 2))
	mock.ExpectQuery("FROM intelligence.scraping_runs").
		WithArgs(50).
		WillReturnRows(mock.NewRows([]string{
			"id", "started_at", "completed_at", "total", "ok", "failed", "changes", "duration", "errors",
		}).AddRow(int64(1), now, &now, 10, 9, 1, 2, 30, json.RawMessage(nil)))

	st, err := store.DashboardStats(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, static.DashboardStats{
		TotalCompanies: 3, TotalURLs: 12, Changes24h: 1, Changes7d: 5, HighInterest7d: 2,
	}, st)

	runs, err := store.ScrapingRuns(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, 9, runs[0].URLsSucceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTopInsightsRanksPerCompany(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("ROW_NUMBER").
		WithArgs(3).
		WillReturnRows(mock.NewRows([]string{"company", "url", "level", "at", "impact", "insights"}).
			AddRow("Acme", "https://acme.test/", 9, at, "big", json.RawMessage(`["a"]`)).
			AddRow("Globex", "https://globex.test/", 6, at, "", json.RawMessage(`[]`)))

	got, err := store.TopInsights(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Globex", got[1].Company)
	require.NoError(t, mock.ExpectationsWereMet())
}
