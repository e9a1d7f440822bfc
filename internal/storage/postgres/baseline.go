package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
)

// CountBaselineAnalyses returns the number of stored baseline analyses.
func (s *Store) CountBaselineAnalyses(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM intelligence.baseline_analysis`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count baseline analyses: %w", err)
	}
	return n, nil
}

// LatestSnapshots returns the newest markdown page per (company, url) whose
// content is longer than minLength characters.
func (s *Store) LatestSnapshots(ctx context.Context, minLength int) ([]analyzer.Snapshot, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT ON (company, url) company, url, content, markdown_hash, created_at
FROM processed_content.markdown_pages
WHERE content IS NOT NULL AND LENGTH(content) > $1
ORDER BY company, url, created_at DESC`, minLength)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	snaps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analyzer.Snapshot, error) {
		var sn analyzer.Snapshot
		err := row.Scan(&sn.Company, &sn.URL, &sn.Content, &sn.MarkdownHash, &sn.CreatedAt)
		return sn, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	return snaps, nil
}

// UpsertBaselineAnalysis writes or replaces the analysis for one page.
func (s *Store) UpsertBaselineAnalysis(ctx context.Context, rec analyzer.BaselineRecord) error {
	if _, err := s.db.Exec(ctx, `
INSERT INTO intelligence.baseline_analysis
	(company, url, entities, themes, sentiment, key_points, relationships,
	 company_type, page_purpose, key_topics, main_message, target_audience,
	 unique_value, trust_elements, differentiation, technology_stack,
	 analysis_date, content_hash, ai_model)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), $17, $18)
ON CONFLICT (company, url) DO UPDATE SET
	entities = EXCLUDED.entities,
	themes = EXCLUDED.themes,
	sentiment = EXCLUDED.sentiment,
	key_points = EXCLUDED.key_points,
	relationships = EXCLUDED.relationships,
	company_type = EXCLUDED.company_type,
	page_purpose = EXCLUDED.page_purpose,
	key_topics = EXCLUDED.key_topics,
	main_message = EXCLUDED.main_message,
	target_audience = EXCLUDED.target_audience,
	unique_value = EXCLUDED.unique_value,
	trust_elements = EXCLUDED.trust_elements,
	differentiation = EXCLUDED.differentiation,
	technology_stack = EXCLUDED.technology_stack,
	analysis_date = EXCLUDED.analysis_date,
	content_hash = EXCLUDED.content_hash,
	ai_model = EXCLUDED.ai_model`,
		rec.Company, rec.URL, rec.Entities, rec.Themes, rec.Sentiment, rec.KeyPoints,
		rec.Relationships, rec.CompanyType, rec.PagePurpose, rec.KeyTopics, rec.MainMessage,
		rec.TargetAudience, rec.UniqueValue, rec.TrustElements, rec.Differentiation,
		rec.TechnologyStack, rec.ContentHash, rec.Model,
	); err != nil {
		return fmt.Errorf("upsert baseline analysis %s: %w", rec.URL, err)
	}
	return nil
}

// BaselineAnalyses reads back every stored analysis for reporting.
func (s *Store) BaselineAnalyses(ctx context.Context) ([]analyzer.BaselineRow, error) {
	rows, err := s.db.Query(ctx, `
SELECT company, url, entities, sentiment,
	COALESCE(key_topics::text, ''), COALESCE(technology_stack::text, '')
FROM intelligence.baseline_analysis
ORDER BY company, url`)
	if err != nil {
		return nil, fmt.Errorf("query baseline analyses: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analyzer.BaselineRow, error) {
		var b analyzer.BaselineRow
		err := row.Scan(&b.Company, &b.URL, &b.Entities, &b.Sentiment, &b.KeyTopics, &b.TechnologyStack)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan baseline analyses: %w", err)
	}
	return out, nil
}
