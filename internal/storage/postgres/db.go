// Package postgres implements the pipeline's persistence on PostgreSQL via pgx.
//
// The schema is owned elsewhere; this package reads and writes the
// raw_content, processed_content and intelligence schemas and verifies that
// the tables it needs exist, but never creates them.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/compintel-monitor/internal/config"
)

// Pool defaults applied when the config leaves a field unset.
const (
	DefaultMaxConns       = 20
	DefaultMaxConnIdle    = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// Tables lists every table the store reads or writes.
var Tables = []string{
	"intelligence.companies",
	"intelligence.company_urls",
	"intelligence.changes",
	"intelligence.enhanced_analysis",
	"intelligence.baseline_analysis",
	"intelligence.scraping_runs",
	"raw_content.scraped_pages",
	"raw_content.company_pages_baseline",
	"processed_content.markdown_pages",
	"processed_content.change_detection",
}

// DB is the subset of *pgxpool.Pool the store uses. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// querier is satisfied by both DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements every persistence interface of the pipeline.
type Store struct {
	db DB
}

// Open builds a pool from cfg and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = DefaultMaxConns
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnIdleTime = DefaultMaxConnIdle
	if cfg.MaxConnIdle > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdle
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.ConnConfig.ConnectTimeout = DefaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// New wraps an existing pool (primarily for testing).
func New(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MissingTables returns the schema-qualified tables from the list that do
// not exist, in input order.
func (s *Store) MissingTables(ctx context.Context, tables []string) ([]string, error) {
	var missing []string
	for _, qualified := range tables {
		schema, table, ok := strings.Cut(qualified, ".")
		if !ok {
			schema, table = "public", qualified
		}
		var exists bool
		err := s.db.QueryRow(ctx, `
SELECT EXISTS (
	SELECT FROM information_schema.tables
	WHERE table_schema = $1 AND table_name = $2
)`, schema, table).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check table %s: %w", qualified, err)
		}
		if !exists {
			missing = append(missing, qualified)
		}
	}
	return missing, nil
}

// nullIfEmpty maps "" to SQL NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
