package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/compintel-monitor/internal/markdown"
)

// PendingScrapedPages lists scraped pages whose content hash has no
// markdown row yet, newest first.
func (s *Store) PendingScrapedPages(ctx context.Context) ([]markdown.SourcePage, error) {
	return s.sourcePages(ctx, "scraped pages", `
SELECT sp.company, sp.url, sp.html, COALESCE(sp.title, ''), sp.content_hash
FROM raw_content.scraped_pages sp
WHERE NOT EXISTS (
	SELECT 1 FROM processed_content.markdown_pages mp
	WHERE mp.source_hash = sp.content_hash
)
AND sp.html IS NOT NULL
AND sp.content_hash IS NOT NULL
ORDER BY sp.scraped_at DESC`)
}

// PendingBaselines lists baseline pages whose content hash has no markdown
// row yet, most recently updated first.
func (s *Store) PendingBaselines(ctx context.Context) ([]markdown.SourcePage, error) {
	return s.sourcePages(ctx, "baselines", `
SELECT cpb.company, cpb.url, cpb.html, COALESCE(cpb.title, ''), cpb.content_hash
FROM raw_content.company_pages_baseline cpb
WHERE NOT EXISTS (
	SELECT 1 FROM processed_content.markdown_pages mp
	WHERE mp.source_hash = cpb.content_hash
)
AND cpb.html IS NOT NULL
AND cpb.content_hash IS NOT NULL
ORDER BY cpb.last_updated DESC`)
}

// UnconvertedChangeSources finds hashes referenced by change_detection that
// still lack markdown, resolved to the scraped HTML that produced them.
func (s *Store) UnconvertedChangeSources(ctx context.Context, limit int) ([]markdown.SourcePage, error) {
	return s.sourcePages(ctx, "change sources", `
WITH referenced_hashes AS (
	SELECT old_hash AS hash FROM processed_content.change_detection WHERE old_hash IS NOT NULL
	UNION
	SELECT new_hash AS hash FROM processed_content.change_detection WHERE new_hash IS NOT NULL
)
SELECT DISTINCT ON (rh.hash) sp.company, sp.url, sp.html, COALESCE(sp.title, ''), rh.hash
FROM referenced_hashes rh
JOIN raw_content.scraped_pages sp ON sp.content_hash = rh.hash
WHERE NOT EXISTS (
	SELECT 1 FROM processed_content.markdown_pages mp
	WHERE mp.source_hash = rh.hash
)
AND sp.html IS NOT NULL
ORDER BY rh.hash, sp.scraped_at DESC
LIMIT $1`, limit)
}

func (s *Store) sourcePages(ctx context.Context, what, query string, args ...any) ([]markdown.SourcePage, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending %s: %w", what, err)
	}
	pages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (markdown.SourcePage, error) {
		var p markdown.SourcePage
		err := row.Scan(&p.Company, &p.URL, &p.HTML, &p.Title, &p.ContentHash)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending %s: %w", what, err)
	}
	return pages, nil
}

// InsertMarkdown stores a markdown page. It reports false when a row for the
// same source hash already exists.
func (s *Store) InsertMarkdown(ctx context.Context, page markdown.Page) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO processed_content.markdown_pages
	(company, url, url_name, content, markdown_hash, source_hash, source_type, created_at, title)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (source_hash) DO NOTHING`,
		page.Company, page.URL, page.URLName, page.Content, page.MarkdownHash,
		page.SourceHash, page.SourceType, page.CreatedAt, nullIfEmpty(page.Title),
	)
	if err != nil {
		return false, fmt.Errorf("insert markdown %s: %w", page.URL, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkdownStats reports row counts and markdown coverage of raw content.
func (s *Store) MarkdownStats(ctx context.Context) (markdown.Stats, error) {
	var st markdown.Stats
	err := s.db.QueryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM raw_content.scraped_pages),
	(SELECT COUNT(*) FROM raw_content.company_pages_baseline),
	(SELECT COUNT(*) FROM processed_content.markdown_pages),
	(SELECT COUNT(DISTINCT source_hash) FROM processed_content.markdown_pages),
	(SELECT COUNT(*) FROM processed_content.markdown_pages WHERE source_type = 'scraped_page'),
	(SELECT COUNT(*) FROM processed_content.markdown_pages WHERE source_type = 'baseline'),
	(SELECT COUNT(*) FROM processed_content.markdown_pages WHERE source_type = 'backfill')`,
	).Scan(&st.TotalScraped, &st.TotalBaselines, &st.TotalMarkdown, &st.UniqueMarkdown,
		&st.FromScraped, &st.FromBaseline, &st.FromBackfill)
	if err != nil {
		return markdown.Stats{}, fmt.Errorf("markdown counts: %w", err)
	}
	err = s.db.QueryRow(ctx, `
WITH all_hashes AS (
	SELECT content_hash FROM raw_content.scraped_pages WHERE content_hash IS NOT NULL
	UNION
	SELECT content_hash FROM raw_content.company_pages_baseline WHERE content_hash IS NOT NULL
)
SELECT COUNT(DISTINCT ah.content_hash), COUNT(DISTINCT mp.source_hash)
FROM all_hashes ah
LEFT JOIN processed_content.markdown_pages mp ON ah.content_hash = mp.source_hash`,
	).Scan(&st.UniqueContent, &st.Covered)
	if err != nil {
		return markdown.Stats{}, fmt.Errorf("markdown coverage: %w", err)
	}
	st.CoveragePercent = markdown.Coverage(st.Covered, st.UniqueContent)
	return st, nil
}
