package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/markdown"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/scraper"
)

func TestLatestPage(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	content := "Title: Home\n\nhello"
	mock.ExpectQuery("FROM raw_content.scraped_pages").
		WithArgs("Acme", "https://acme.test/").
		WillReturnRows(mock.NewRows([]string{"content_hash", "content"}).AddRow("abc", &content))
	mock.ExpectQuery("FROM raw_content.scraped_pages").
		WithArgs("Acme", "https://acme.test/new").
		WillReturnRows(mock.NewRows([]string{"content_hash", "content"}))

	prev, err := store.LatestPage(context.Background(), "Acme", "https://acme.test/")
	require.NoError(t, err)
	require.Equal(t, &scraper.PreviousPage{ContentHash: "abc", Content: content}, prev)

	prev, err = store.LatestPage(context.Background(), "Acme", "https://acme.test/new")
	require.NoError(t, err)
	require.Nil(t, prev)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePageUnchangedWritesSnapshotOnly(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	prevHash := "abc"
	page := scraper.PageRecord{
		Company:       "Acme",
		URL:           "https://acme.test/",
		Title:         "Home",
		Content:       "Title: Home\n\nhello",
		HTML:          "<html></html>",
		ContentHash:   "abc",
		PreviousHash:  &prevHash,
		ChangeType:    monitor.ChangeUnchanged,
		InterestLevel: 5,
		ScrapedAt:     at,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO raw_content.scraped_pages").
		WithArgs("Acme", "https://acme.test/", "https://acme.test/", page.Content, page.HTML,
			"Home", "abc", at, false, &prevHash, 5, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SavePage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePageModifiedWritesBaselineAndChange(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	prevHash := "old"
	assessment := analyzer.FallbackAssessment()
	page := scraper.PageRecord{
		Company:       "Acme",
		URL:           "https://acme.test/pricing",
		URLName:       "Pricing",
		ContentHash:   "new",
		PreviousHash:  &prevHash,
		ChangeType:    monitor.ChangeModified,
		InterestLevel: 5,
		Assessment:    &assessment,
		BlobURI:       "gs://bucket/pages/acme/new.html",
		ScrapedAt:     at,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO raw_content.scraped_pages").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO raw_content.company_pages_baseline").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO processed_content.change_detection").
		WithArgs("Acme", page.URL, "Pricing", "modified", &prevHash, "new", at, 5, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SavePage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePageRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO raw_content.scraped_pages").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO raw_content.company_pages_baseline").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	err := store.SavePage(context.Background(), scraper.PageRecord{
		Company: "Acme", URL: "https://acme.test/", ContentHash: "h", ChangeType: monitor.ChangeNew,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunEncodesErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := scraper.RunRecord{
		StartedAt:       start,
		CompletedAt:     start.Add(time.Minute),
		URLsTotal:       3,
		URLsSucceeded:   2,
		URLsFailed:      1,
		ChangesDetected: 1,
		DurationSeconds: 60,
		Errors:          []scraper.PageError{{URL: "https://x.test", Error: "http status 500"}},
	}
	mock.ExpectExec("INSERT INTO intelligence.scraping_runs").
		WithArgs(start, start.Add(time.Minute), 3, 2, 1, 1, 60,
			[]byte(`[{"url":"https://x.test","error":"http status 500"}]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMarkdownReportsConflicts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	page := markdown.Page{Company: "Acme", URL: "https://acme.test/", SourceHash: "h", SourceType: markdown.SourceScraped}
	mock.ExpectExec("ON CONFLICT").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT").WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.InsertMarkdown(context.Background(), page)
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = store.InsertMarkdown(context.Background(), page)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkdownStatsComputesCoverage(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(mock.NewRows([]string{"a", "b", "c", "d", "e", "f", "g"}).
			AddRow(10, 4, 8, 8, 5, 2, 1))
	mock.ExpectQuery("WITH all_hashes").
		WillReturnRows(mock.NewRows([]string{"total", "covered"}).AddRow(12, 9))

	st, err := store.MarkdownStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, st.TotalScraped)
	require.Equal(t, 1, st.FromBackfill)
	require.Equal(t, 9, st.Covered)
	require.InDelta(t, 75.0, st.CoveragePercent, 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingScrapedPages(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM raw_content.scraped_pages sp").
		WillReturnRows(mock.NewRows([]string{"company", "url", "html", "title", "content_hash"}).
			AddRow("Acme", "https://acme.test/", "<p>x</p>", "", "h1"))

	pages, err := store.PendingScrapedPages(context.Background())
	require.NoError(t, err)
	require.Equal(t, []markdown.SourcePage{{
		Company: "Acme", URL: "https://acme.test/", HTML: "<p>x</p>", ContentHash: "h1",
	}}, pages)
	require.NoError(t, mock.ExpectationsWereMet())
}
