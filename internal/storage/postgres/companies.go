package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

const companyColumns = `id, name, COALESCE(category, ''), COALESCE(description, ''), COALESCE(interest_level, 0), created_at`

// ActiveCompanies returns active companies ordered by name with their active
// URLs ordered by name.
func (s *Store) ActiveCompanies(ctx context.Context) ([]monitor.Company, error) {
	return s.companies(ctx, true)
}

// ListCompanies returns every company with its active URLs.
func (s *Store) ListCompanies(ctx context.Context) ([]monitor.Company, error) {
	return s.companies(ctx, false)
}

func (s *Store) companies(ctx context.Context, activeOnly bool) ([]monitor.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM intelligence.companies`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	companies, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (monitor.Company, error) {
		return scanCompany(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan companies: %w", err)
	}
	if len(companies) == 0 {
		return companies, nil
	}

	urls, err := activeURLs(ctx, s.db, nil)
	if err != nil {
		return nil, err
	}
	byCompany := make(map[int64][]monitor.TrackedURL, len(companies))
	for _, u := range urls {
		byCompany[u.CompanyID] = append(byCompany[u.CompanyID], u)
	}
	for i := range companies {
		companies[i].URLs = byCompany[companies[i].ID]
	}
	return companies, nil
}

// GetCompany returns one company with its URLs or monitor.ErrNotFound.
func (s *Store) GetCompany(ctx context.Context, id int64) (monitor.Company, error) {
	row := s.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM intelligence.companies WHERE id = $1`, id)
	company, err := scanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Company{}, fmt.Errorf("company %d: %w", id, monitor.ErrNotFound)
	}
	if err != nil {
		return monitor.Company{}, fmt.Errorf("get company %d: %w", id, err)
	}
	urls, err := activeURLs(ctx, s.db, &id)
	if err != nil {
		return monitor.Company{}, err
	}
	company.URLs = urls
	return company, nil
}

// CreateCompany inserts a company and any URLs it carries in one transaction.
func (s *Store) CreateCompany(ctx context.Context, c monitor.Company) (monitor.Company, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
INSERT INTO intelligence.companies (name, category, description, interest_level, active)
VALUES ($1, $2, $3, $4, true)
RETURNING id, created_at`,
			c.Name, nullIfEmpty(c.Category), nullIfEmpty(c.Description), c.InterestLevel)
		if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
			return fmt.Errorf("insert company: %w", err)
		}
		for i := range c.URLs {
			u, err := insertURL(ctx, tx, c.ID, c.URLs[i])
			if err != nil {
				return err
			}
			c.URLs[i] = u
		}
		return nil
	})
	if err != nil {
		return monitor.Company{}, err
	}
	return c, nil
}

// UpdateCompany rewrites the descriptive columns of a company.
func (s *Store) UpdateCompany(ctx context.Context, c monitor.Company) error {
	tag, err := s.db.Exec(ctx, `
UPDATE intelligence.companies
SET name = $2, category = $3, description = $4, interest_level = $5
WHERE id = $1`,
		c.ID, c.Name, nullIfEmpty(c.Category), nullIfEmpty(c.Description), c.InterestLevel)
	if err != nil {
		return fmt.Errorf("update company %d: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("company %d: %w", c.ID, monitor.ErrNotFound)
	}
	return nil
}

// DeleteCompany removes a company and its URLs.
func (s *Store) DeleteCompany(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM intelligence.company_urls WHERE company_id = $1`, id); err != nil {
			return fmt.Errorf("delete company urls: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM intelligence.companies WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete company %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("company %d: %w", id, monitor.ErrNotFound)
		}
		return nil
	})
}

// AddURL attaches a tracked URL to an existing company.
func (s *Store) AddURL(ctx context.Context, companyID int64, u monitor.TrackedURL) (monitor.TrackedURL, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM intelligence.companies WHERE id = $1)`, companyID,
	).Scan(&exists); err != nil {
		return monitor.TrackedURL{}, fmt.Errorf("check company %d: %w", companyID, err)
	}
	if !exists {
		return monitor.TrackedURL{}, fmt.Errorf("company %d: %w", companyID, monitor.ErrNotFound)
	}
	return insertURL(ctx, s.db, companyID, u)
}

// DeleteURL removes a tracked URL.
func (s *Store) DeleteURL(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM intelligence.company_urls WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete url %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("url %d: %w", id, monitor.ErrNotFound)
	}
	return nil
}

func insertURL(ctx context.Context, q querier, companyID int64, u monitor.TrackedURL) (monitor.TrackedURL, error) {
	name := u.Name
	if name == "" {
		name = u.URL
	}
	err := q.QueryRow(ctx, `
INSERT INTO intelligence.company_urls (company_id, url, name, category, active)
VALUES ($1, $2, $3, $4, true)
RETURNING id`,
		companyID, u.URL, name, nullIfEmpty(u.Category)).Scan(&u.ID)
	if err != nil {
		return monitor.TrackedURL{}, fmt.Errorf("insert url %s: %w", u.URL, err)
	}
	u.CompanyID = companyID
	u.Name = name
	u.Active = true
	return u, nil
}

func activeURLs(ctx context.Context, q querier, companyID *int64) ([]monitor.TrackedURL, error) {
	query := `
SELECT id, company_id, url, COALESCE(name, url), COALESCE(category, ''), active
FROM intelligence.company_urls
WHERE active = true`
	var args []any
	if companyID != nil {
		query += ` AND company_id = $1`
		args = append(args, *companyID)
	}
	query += ` ORDER BY company_id, name`
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query company urls: %w", err)
	}
	urls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (monitor.TrackedURL, error) {
		var u monitor.TrackedURL
		err := row.Scan(&u.ID, &u.CompanyID, &u.URL, &u.Name, &u.Category, &u.Active)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan company urls: %w", err)
	}
	return urls, nil
}

func scanCompany(row pgx.Row) (monitor.Company, error) {
	var c monitor.Company
	err := row.Scan(&c.ID, &c.Name, &c.Category, &c.Description, &c.InterestLevel, &c.CreatedAt)
	return c, err
}
