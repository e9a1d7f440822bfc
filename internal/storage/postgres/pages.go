package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/compintel-monitor/internal/scraper"
)

// LatestPage returns the most recent snapshot of url for company, or nil.
func (s *Store) LatestPage(ctx context.Context, company, url string) (*scraper.PreviousPage, error) {
	var prev scraper.PreviousPage
	var content *string
	err := s.db.QueryRow(ctx, `
SELECT content_hash, content
FROM raw_content.scraped_pages
WHERE company = $1 AND url = $2
ORDER BY scraped_at DESC
LIMIT 1`, company, url).Scan(&prev.ContentHash, &content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest page %s: %w", url, err)
	}
	prev.Content = derefString(content)
	return &prev, nil
}

// SavePage stores a snapshot. New and modified pages also refresh the
// baseline row and append a change_detection row in the same transaction.
func (s *Store) SavePage(ctx context.Context, page scraper.PageRecord) error {
	urlName := page.URLName
	if urlName == "" {
		urlName = page.URL
	}
	var analysis []byte
	if page.Assessment != nil {
		var err error
		if analysis, err = json.Marshal(page.Assessment); err != nil {
			return fmt.Errorf("encode assessment: %w", err)
		}
	}
	detected := page.ChangeType.Detected()

	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO raw_content.scraped_pages
	(company, url, url_name, content, html, title, content_hash, scraped_at,
	 change_detected, previous_hash, interest_level, blob_uri)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			page.Company, page.URL, urlName, page.Content, page.HTML, page.Title,
			page.ContentHash, page.ScrapedAt, detected, page.PreviousHash,
			page.InterestLevel, nullIfEmpty(page.BlobURI),
		); err != nil {
			return fmt.Errorf("insert scraped page: %w", err)
		}
		if !detected {
			return nil
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO raw_content.company_pages_baseline
	(company, url, url_name, content, html, title, content_hash, last_updated, update_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
ON CONFLICT (company, url) DO UPDATE SET
	content = EXCLUDED.content,
	html = EXCLUDED.html,
	title = EXCLUDED.title,
	content_hash = EXCLUDED.content_hash,
	last_updated = EXCLUDED.last_updated,
	update_count = company_pages_baseline.update_count + 1`,
			page.Company, page.URL, urlName, page.Content, page.HTML, page.Title,
			page.ContentHash, page.ScrapedAt,
		); err != nil {
			return fmt.Errorf("upsert baseline: %w", err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO processed_content.change_detection
	(company, url, url_name, change_type, old_hash, new_hash, detected_at, interest_level, ai_analysis)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			page.Company, page.URL, urlName, string(page.ChangeType), page.PreviousHash,
			page.ContentHash, page.ScrapedAt, page.InterestLevel, analysis,
		); err != nil {
			return fmt.Errorf("insert change detection: %w", err)
		}
		return nil
	})
}

// RecordRun appends a row to the scraping run history.
func (s *Store) RecordRun(ctx context.Context, run scraper.RunRecord) error {
	var errs []byte
	if len(run.Errors) > 0 {
		var err error
		if errs, err = json.Marshal(run.Errors); err != nil {
			return fmt.Errorf("encode run errors: %w", err)
		}
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO intelligence.scraping_runs
	(started_at, completed_at, urls_total, urls_succeeded, urls_failed,
	 changes_detected, duration_seconds, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.StartedAt, run.CompletedAt, run.URLsTotal, run.URLsSucceeded, run.URLsFailed,
		run.ChangesDetected, run.DurationSeconds, errs,
	); err != nil {
		return fmt.Errorf("insert scraping run: %w", err)
	}
	return nil
}
