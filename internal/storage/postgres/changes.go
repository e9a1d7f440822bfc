package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
)

// ListChanges returns detected changes newest first. since bounds the window
// when set; skipAnalyzed drops changes that already have an enhanced analysis.
func (s *Store) ListChanges(ctx context.Context, since *time.Time, skipAnalyzed bool, limit int) ([]analyzer.DetectedChange, error) {
	query := `
SELECT cd.id, cd.company, cd.url, COALESCE(cd.url_name, cd.url), cd.change_type,
	cd.old_hash, cd.new_hash, cd.detected_at, cd.interest_level
FROM processed_content.change_detection cd
WHERE true`
	var args []any
	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(` AND cd.detected_at > $%d`, len(args))
	}
	if skipAnalyzed {
		query += `
AND NOT EXISTS (
	SELECT 1 FROM intelligence.changes c
	JOIN intelligence.enhanced_analysis ea ON ea.change_id = c.id
	WHERE c.company = cd.company AND c.url = cd.url AND c.detected_at = cd.detected_at
)`
	}
	query += ` ORDER BY cd.detected_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	changes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analyzer.DetectedChange, error) {
		var c analyzer.DetectedChange
		err := row.Scan(&c.ID, &c.Company, &c.URL, &c.URLName, &c.ChangeType,
			&c.OldHash, &c.NewHash, &c.DetectedAt, &c.InitialInterest)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan changes: %w", err)
	}
	return changes, nil
}

// MarkdownBySourceHash returns the markdown converted from the raw content
// with the given hash.
func (s *Store) MarkdownBySourceHash(ctx context.Context, hash string) (string, bool, error) {
	var content *string
	err := s.db.QueryRow(ctx, `
SELECT content FROM processed_content.markdown_pages
WHERE source_hash = $1
LIMIT 1`, hash).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("markdown for %s: %w", hash, err)
	}
	if content == nil {
		return "", false, nil
	}
	return *content, true, nil
}

// SaveChangeAnalysis upserts the intelligence.changes row for a change and
// its enhanced analysis in one transaction. Unknown companies are created on
// the fly. It returns the intelligence.changes id.
func (s *Store) SaveChangeAnalysis(ctx context.Context, rec analyzer.ChangeRecord) (int64, error) {
	var changeID int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		ch := rec.Change
		err := tx.QueryRow(ctx, `
INSERT INTO intelligence.changes
	(company, url, detected_at, change_type, before_content, after_content, analysis,
	 interest_level, ai_confidence, content_hash_before, content_hash_after,
	 markdown_before, markdown_after, ai_model)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (company, url, detected_at) DO UPDATE SET
	analysis = EXCLUDED.analysis,
	interest_level = EXCLUDED.interest_level,
	ai_confidence = EXCLUDED.ai_confidence
RETURNING id`,
			ch.Company, ch.URL, ch.DetectedAt, ch.ChangeType, rec.BeforeSnippet, rec.AfterSnippet,
			rec.Analysis, rec.InterestLevel, rec.Confidence, ch.OldHash, ch.NewHash,
			rec.MarkdownBefore, rec.MarkdownAfter, rec.Model,
		).Scan(&changeID)
		if err != nil {
			return fmt.Errorf("upsert change: %w", err)
		}

		companyID, err := companyIDFor(ctx, tx, ch.Company)
		if err != nil {
			return err
		}
		var contentID *int64
		err = tx.QueryRow(ctx, `
SELECT id FROM processed_content.markdown_pages WHERE source_hash = $1 LIMIT 1`, ch.NewHash).Scan(&contentID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lookup content id: %w", err)
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO intelligence.enhanced_analysis
	(company_id, content_id, change_id, ultra_analysis, key_insights, business_impact,
	 competitive_implications, market_signals, risk_assessment, opportunity_score,
	 analysis_timestamp, ai_model)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), $11)
ON CONFLICT (change_id) DO UPDATE SET
	ultra_analysis = EXCLUDED.ultra_analysis,
	key_insights = EXCLUDED.key_insights,
	business_impact = EXCLUDED.business_impact,
	competitive_implications = EXCLUDED.competitive_implications,
	market_signals = EXCLUDED.market_signals,
	risk_assessment = EXCLUDED.risk_assessment,
	opportunity_score = EXCLUDED.opportunity_score,
	analysis_timestamp = EXCLUDED.analysis_timestamp,
	ai_model = EXCLUDED.ai_model`,
			companyID, contentID, changeID, rec.Analysis, rec.KeyInsights, rec.BusinessImpact,
			rec.CompetitiveImplications, rec.MarketSignals, rec.RiskAssessment,
			rec.InterestLevel, rec.Model,
		); err != nil {
			return fmt.Errorf("upsert enhanced analysis: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changeID, nil
}

func companyIDFor(ctx context.Context, q querier, name string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `SELECT id FROM intelligence.companies WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lookup company %s: %w", name, err)
	}
	err = q.QueryRow(ctx, `
INSERT INTO intelligence.companies (name, category, interest_level)
VALUES ($1, 'auto-created', 5)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create company %s: %w", name, err)
	}
	return id, nil
}

// ChangeReportCounts buckets analyzed changes since the given time by
// interest level.
func (s *Store) ChangeReportCounts(ctx context.Context, since time.Time) (analyzer.ReportCounts, error) {
	var rc analyzer.ReportCounts
	err := s.db.QueryRow(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE interest_level >= 7),
	COUNT(*) FILTER (WHERE interest_level BETWEEN 5 AND 6),
	COUNT(*) FILTER (WHERE interest_level < 5),
	AVG(interest_level)::float8
FROM intelligence.changes
WHERE detected_at > $1`, since).Scan(&rc.Total, &rc.High, &rc.Medium, &rc.Low, &rc.Average)
	if err != nil {
		return analyzer.ReportCounts{}, fmt.Errorf("change report counts: %w", err)
	}
	return rc, nil
}

// TopChanges returns the highest-interest analyzed changes since the given time.
func (s *Store) TopChanges(ctx context.Context, since time.Time, limit int) ([]analyzer.TopChange, error) {
	rows, err := s.db.Query(ctx, `
SELECT c.company, c.url, c.interest_level, c.change_type,
	COALESCE(ea.business_impact, ''), COALESCE(ea.key_insights, '[]'::jsonb)
FROM intelligence.changes c
JOIN intelligence.enhanced_analysis ea ON ea.change_id = c.id
WHERE c.detected_at > $1
ORDER BY c.interest_level DESC, c.detected_at DESC
LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query top changes: %w", err)
	}
	top, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analyzer.TopChange, error) {
		var t analyzer.TopChange
		err := row.Scan(&t.Company, &t.URL, &t.InterestLevel, &t.Type, &t.Impact, &t.Insights)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan top changes: %w", err)
	}
	return top, nil
}
