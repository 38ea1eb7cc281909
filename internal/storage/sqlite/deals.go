package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

const dealColumns = `slug, name, company_slug, stage, created_at, updated_at`

func scanDeal(row rowScanner) (*types.Deal, error) {
	var (
		d                    types.Deal
		company              sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.Slug, &d.Name, &company, &d.Stage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.CompanySlug = company.String
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDeal creates or updates a deal. Empty fields on update keep the
// stored value.
func (s *SQLiteStorage) UpsertDeal(ctx context.Context, deal *types.Deal) error {
	if deal.Slug == "" {
		return fmt.Errorf("deal needs a slug")
	}
	if deal.Name == "" {
		deal.Name = deal.Slug
	}
	ts := formatTime(nowUTC())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deals (slug, name, company_slug, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name,
			company_slug = COALESCE(excluded.company_slug, deals.company_slug),
			stage = CASE WHEN excluded.stage = '' THEN deals.stage ELSE excluded.stage END,
			updated_at = excluded.updated_at
	`, deal.Slug, deal.Name, nullString(deal.CompanySlug), deal.Stage, ts, ts)
	if err != nil {
		return wrapDBError("failed to upsert deal", err)
	}
	return nil
}

// GetDeal returns a deal by slug.
func (s *SQLiteStorage) GetDeal(ctx context.Context, slug string) (*types.Deal, error) {
	return getDeal(ctx, s.db, slug)
}

func getDeal(ctx context.Context, q querier, slug string) (*types.Deal, error) {
	d, err := scanDeal(q.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deal %s: %w", slug, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBError("failed to get deal", err)
	}
	return d, nil
}

// FindDealByCompany returns the most recently updated deal for a company.
func (s *SQLiteStorage) FindDealByCompany(ctx context.Context, companySlug string) (*types.Deal, error) {
	d, err := scanDeal(s.db.QueryRowContext(ctx, `
		SELECT `+dealColumns+` FROM deals WHERE company_slug = ?
		ORDER BY updated_at DESC, slug ASC LIMIT 1
	`, companySlug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deal for company %s: %w", companySlug, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBError("failed to find deal", err)
	}
	return d, nil
}
