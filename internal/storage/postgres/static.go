package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/compintel-monitor/internal/static"
)

// DashboardStats returns the headline counters relative to now.
func (s *Store) DashboardStats(ctx context.Context, now time.Time) (static.DashboardStats, error) {
	var st static.DashboardStats
	err := s.db.QueryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM intelligence.companies WHERE active = true),
	(SELECT COUNT(*) FROM intelligence.company_urls WHERE active = true),
	(SELECT COUNT(*) FROM processed_content.change_detection WHERE detected_at > $1::timestamptz - INTERVAL '1 day'),
	(SELECT COUNT(*) FROM processed_content.change_detection WHERE detected_at > $1::timestamptz - INTERVAL '7 days'),
	(SELECT COUNT(*) FROM processed_content.change_detection
		WHERE detected_at > $1::timestamptz - INTERVAL '7 days' AND interest_level >= 7)`, now,
	).Scan(&st.TotalCompanies, &st.TotalURLs, &st.Changes24h, &st.Changes7d, &st.HighInterest7d)
	if err != nil {
		return static.DashboardStats{}, fmt.Errorf("dashboard stats: %w", err)
	}
	return st, nil
}

// CompanyActivity returns per-company URL counts, recent change counts and
// the last scrape time for active companies.
func (s *Store) CompanyActivity(ctx context.Context, now time.Time) ([]static.CompanyActivity, error) {
	rows, err := s.db.Query(ctx, `
SELECT c.name,
	(SELECT COUNT(*) FROM intelligence.company_urls u WHERE u.company_id = c.id AND u.active = true),
	(SELECT COUNT(*) FROM processed_content.change_detection cd
		WHERE cd.company = c.name AND cd.detected_at > $1::timestamptz - INTERVAL '7 days'),
	(SELECT COUNT(*) FROM processed_content.change_detection cd
		WHERE cd.company = c.name AND cd.detected_at > $1::timestamptz - INTERVAL '7 days' AND cd.interest_level >= 7),
	(SELECT MAX(sp.scraped_at) FROM raw_content.scraped_pages sp WHERE sp.company = c.name)
FROM intelligence.companies c
WHERE c.active = true
ORDER BY c.name`, now)
	if err != nil {
		return nil, fmt.Errorf("query company activity: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (static.CompanyActivity, error) {
		var a static.CompanyActivity
		err := row.Scan(&a.Company, &a.URLCount, &a.Changes7d, &a.High7d, &a.LastScan)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan company activity: %w", err)
	}
	return out, nil
}

// RecentPages lists pages scraped after since with a 500 character preview.
func (s *Store) RecentPages(ctx context.Context, since time.Time) ([]static.ExtractedPage, error) {
	rows, err := s.db.Query(ctx, `
SELECT company, url, COALESCE(url_name, url), COALESCE(title, ''),
	COALESCE(LEFT(content, 500), ''), COALESCE(interest_level, 5), content_hash, scraped_at
FROM raw_content.scraped_pages
WHERE scraped_at > $1
ORDER BY scraped_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("query recent pages: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (static.ExtractedPage, error) {
		var p static.ExtractedPage
		err := row.Scan(&p.Company, &p.URL, &p.URLName, &p.Title, &p.Preview,
			&p.InterestLevel, &p.ContentHash, &p.ScrapedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan recent pages: %w", err)
	}
	return out, nil
}

// DetectedChanges lists change_detection rows with the title and a preview
// of the newest page carrying the new hash.
func (s *Store) DetectedChanges(ctx context.Context, since time.Time, minInterest, limit int) ([]static.ChangeRow, error) {
	rows, err := s.db.Query(ctx, `
SELECT cd.id, cd.company, cd.url, COALESCE(cd.url_name, cd.url), cd.change_type,
	cd.old_hash, cd.new_hash, cd.detected_at, COALESCE(cd.interest_level, 5), cd.ai_analysis,
	COALESCE(sp.title, ''), COALESCE(LEFT(sp.content, 500), '')
FROM processed_content.change_detection cd
LEFT JOIN LATERAL (
	SELECT title, content FROM raw_content.scraped_pages
	WHERE content_hash = cd.new_hash
	ORDER BY scraped_at DESC
	LIMIT 1
) sp ON true
WHERE cd.detected_at > $1 AND COALESCE(cd.interest_level, 5) >= $2
ORDER BY cd.detected_at DESC
LIMIT $3`, since, minInterest, limit)
	if err != nil {
		return nil, fmt.Errorf("query detected changes: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (static.ChangeRow, error) {
		var c static.ChangeRow
		err := row.Scan(&c.ID, &c.Company, &c.URL, &c.URLName, &c.ChangeType,
			&c.OldHash, &c.NewHash, &c.DetectedAt, &c.InterestLevel, &c.Analysis,
			&c.Title, &c.Preview)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan detected changes: %w", err)
	}
	return out, nil
}

// ScrapingRuns returns the most recent scraping runs.
func (s *Store) ScrapingRuns(ctx context.Context, limit int) ([]static.RunRow, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, started_at, completed_at, COALESCE(urls_total, 0), COALESCE(urls_succeeded, 0),
	COALESCE(urls_failed, 0), COALESCE(changes_detected, 0), COALESCE(duration_seconds, 0), errors
FROM intelligence.scraping_runs
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scraping runs: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (static.RunRow, error) {
		var r static.RunRow
		err := row.Scan(&r.ID, &r.StartedAt, &r.CompletedAt, &r.URLsTotal, &r.URLsSucceeded,
			&r.URLsFailed, &r.ChangesDetected, &r.DurationSeconds, &r.Errors)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan scraping runs: %w", err)
	}
	return out, nil
}

// CompanyChangeStats aggregates detected changes per company relative to now.
func (s *Store) CompanyChangeStats(ctx context.Context, now time.Time) ([]static.CompanyChangeStats, error) {
	rows, err := s.db.Query(ctx, `
SELECT company,
	COUNT(*),
	COUNT(*) FILTER (WHERE detected_at > $1::timestamptz - INTERVAL '7 days'),
	COUNT(*) FILTER (WHERE detected_at > $1::timestamptz - INTERVAL '30 days'),
	MAX(detected_at),
	AVG(interest_level)::float8
FROM processed_content.change_detection
GROUP BY company
ORDER BY company`, now)
	if err != nil {
		return nil, fmt.Errorf("query company change stats: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (static.CompanyChangeStats, error) {
		var c static.CompanyChangeStats
		err := row.Scan(&c.Company, &c.Total, &c.Last7d, &c.Last30d, &c.LastChange, &c.AvgInterest)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan company change stats: %w", err)
	}
	return out, nil
}

// TopInsights ranks enhanced analyses within each company by interest.
func (s *Store) TopInsights(ctx context.Context, perCompany int) ([]static.Insight, error) {
	rows, err := s.db.Query(ctx, `
SELECT company, url, interest_level, detected_at, business_impact, key_insights
FROM (
	SELECT c.company, c.url, c.interest_level, c.detected_at,
		COALESCE(ea.business_impact, '') AS business_impact,
		COALESCE(ea.key_insights, '[]'::jsonb) AS key_insights,
		ROW_NUMBER() OVER (
			PARTITION BY c.company
			ORDER BY c.interest_level DESC, c.detected_at DESC
		) AS rank
	FROM intelligence.changes c
	JOIN intelligence.enhanced_analysis ea ON ea.change_id = c.id
) ranked
WHERE rank <= $1
ORDER BY company, rank`, perCompany)
	if err != nil {
		return nil, fmt.Errorf("query top insights: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (static.Insight, error) {
		var in static.Insight
		err := row.Scan(&in.Company, &in.URL, &in.InterestLevel, &in.DetectedAt,
			&in.BusinessImpact, &in.KeyInsights)
		return in, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan top insights: %w", err)
	}
	return out, nil
}
