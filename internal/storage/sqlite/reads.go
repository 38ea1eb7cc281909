package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

const limitClause = " LIMIT ?"

// actionableWhere is the hard gate for downstream automation.
const actionableWhere = `t.superseded_by IS NULL
	AND t.trust_level IN ('high', 'medium')
	AND t.source_path IS NOT NULL AND trim(t.source_path) != ''
	AND t.source_quote IS NOT NULL AND trim(t.source_quote) != ''`

// familyCTE expands a surviving slug to itself plus every slug merged into
// it, directly or transitively.
const familyCTE = `WITH RECURSIVE family(slug) AS (
	SELECT ?
	UNION
	SELECT e.slug FROM entities e JOIN family f ON e.merged_into = f.slug
)`

// survivor follows merged_into from slug. Unknown slugs are returned as-is
// so filters on them simply match nothing.
func survivor(ctx context.Context, q querier, slug string) (string, error) {
	e, err := getEntity(ctx, q, slug)
	if errors.Is(err, storage.ErrNotFound) {
		return slug, nil
	}
	if err != nil {
		return "", err
	}
	e, err = followMerged(ctx, q, e)
	if err != nil {
		return "", err
	}
	return e.Slug, nil
}

// ScanActionableItems streams actionable items, newest first, from one
// read snapshot.
func (s *SQLiteStorage) ScanActionableItems(ctx context.Context, filter types.ItemFilter, fn func(*types.ExtractedItem) error) error {
	return s.withReadTx(ctx, func(tx *sql.Tx) error {
		where := []string{actionableWhere}
		args := []any{}

		if filter.OwnerSlug != "" {
			owner, err := survivor(ctx, tx, filter.OwnerSlug)
			if err != nil {
				return err
			}
			where = append(where, "t.owner_slug = ?")
			args = append(args, owner)
		}
		if filter.TargetSlug != "" {
			target, err := survivor(ctx, tx, filter.TargetSlug)
			if err != nil {
				return err
			}
			where = append(where, "t.target_slug = ?")
			args = append(args, target)
		}
		if filter.DealSlug != "" {
			where = append(where, "(t.deal_slug = ? OR t.interaction_id IN (SELECT id FROM interactions WHERE deal_slug = ?))")
			args = append(args, filter.DealSlug, filter.DealSlug)
		}
		if len(filter.Types) > 0 {
			placeholders := make([]string, len(filter.Types))
			for i, t := range filter.Types {
				placeholders[i] = "?"
				args = append(args, string(t))
			}
			where = append(where, "t.item_type IN ("+strings.Join(placeholders, ", ")+")")
		}
		if filter.MinTrust == types.TrustHigh {
			where = append(where, "t.trust_level = 'high'")
		}
		if filter.Since != nil {
			where = append(where, "t.occurred_at >= ?")
			args = append(args, formatTime(*filter.Since))
		}

		// #nosec G202 - where clauses are fixed strings, values are bound
		query := `SELECT ` + itemColumns + ` FROM extracted_items t WHERE ` +
			strings.Join(where, " AND ") + ` ORDER BY t.occurred_at DESC, t.id ASC`
		if filter.Limit > 0 {
			query += limitClause
			args = append(args, filter.Limit)
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapDBError("failed to query actionable items", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				return fmt.Errorf("failed to scan item: %w", err)
			}
			if err := fn(it); err != nil {
				return err
			}
		}
		return wrapDBError("failed to iterate actionable items", rows.Err())
	})
}

type timelineRef struct {
	kind string
	id   string
}

// ScanTimeline streams interactions and items involving slug, newest first.
// A merged slug is followed to its survivor, and items re-pointed from any
// merged slug are included.
func (s *SQLiteStorage) ScanTimeline(ctx context.Context, slug string, filter types.TimelineFilter, fn func(types.TimelineEntry) error) error {
	return s.withReadTx(ctx, func(tx *sql.Tx) error {
		root, err := getEntity(ctx, tx, slug)
		if err != nil {
			return err
		}
		root, err = followMerged(ctx, tx, root)
		if err != nil {
			return err
		}

		args := []any{root.Slug}
		sinceSQL := ""
		if filter.Since != nil {
			sinceSQL = " AND at >= ?"
			args = append(args, formatTime(*filter.Since))
		}
		limitSQL := ""
		if filter.Limit > 0 {
			limitSQL = limitClause
			args = append(args, filter.Limit)
		}

		// #nosec G201 - safe SQL with controlled formatting
		query := fmt.Sprintf(`%s
			SELECT kind, id FROM (
				SELECT 'interaction' AS kind, i.id AS id, i.occurred_at AS at
				FROM interactions i
				WHERE EXISTS (
					SELECT 1 FROM interaction_entities ie
					WHERE ie.interaction_id = i.id AND ie.entity_slug IN (SELECT slug FROM family)
				)
				UNION ALL
				SELECT 'item', t.id, t.occurred_at
				FROM extracted_items t
				WHERE t.superseded_by IS NULL
				  AND (t.owner_slug IN (SELECT slug FROM family) OR t.target_slug IN (SELECT slug FROM family))
			)
			WHERE 1 = 1%s
			ORDER BY at DESC, kind ASC, id ASC
			%s
		`, familyCTE, sinceSQL, limitSQL)

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapDBError("failed to query timeline", err)
		}
		var refs []timelineRef
		for rows.Next() {
			var ref timelineRef
			if err := rows.Scan(&ref.kind, &ref.id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan timeline row: %w", err)
			}
			refs = append(refs, ref)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return wrapDBError("failed to iterate timeline", err)
		}

		for _, ref := range refs {
			var entry types.TimelineEntry
			switch ref.kind {
			case "interaction":
				in, err := getInteraction(ctx, tx, ref.id)
				if err != nil {
					return err
				}
				entry = types.TimelineEntry{At: in.OccurredAt, Interaction: in}
			default:
				it, err := scanItem(tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM extracted_items t WHERE t.id = ?`, ref.id))
				if err != nil {
					return wrapDBError("failed to load timeline item", err)
				}
				entry = types.TimelineEntry{At: it.OccurredAt, Item: it}
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDealRollup aggregates a deal's interactions and items from one snapshot.
func (s *SQLiteStorage) GetDealRollup(ctx context.Context, slug string) (*types.DealRollup, error) {
	var rollup *types.DealRollup
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		deal, err := getDeal(ctx, tx, slug)
		if err != nil {
			return err
		}
		r := &types.DealRollup{
			Deal:         deal,
			ItemsByType:  make(map[types.ItemType]int),
			ItemsByTrust: make(map[types.TrustLevel]int),
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT `+interactionColumns+` FROM interactions i
			WHERE i.deal_slug = ?
			ORDER BY i.occurred_at DESC, i.id ASC
		`, slug)
		if err != nil {
			return wrapDBError("failed to query deal interactions", err)
		}
		for rows.Next() {
			in, err := scanInteraction(rows)
			if err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan interaction: %w", err)
			}
			r.Interactions = append(r.Interactions, in)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return wrapDBError("failed to iterate deal interactions", err)
		}

		items, err := queryItems(ctx, tx, `
			SELECT `+itemColumns+` FROM extracted_items t
			WHERE t.superseded_by IS NULL
			  AND (t.deal_slug = ? OR t.interaction_id IN (SELECT id FROM interactions WHERE deal_slug = ?))
			ORDER BY t.occurred_at DESC, t.id ASC
		`, slug, slug)
		if err != nil {
			return err
		}
		for _, it := range items {
			r.ItemsByType[it.Type]++
			r.ItemsByTrust[it.TrustLevel]++
			if it.Type == types.ItemMetric {
				r.Metrics = append(r.Metrics, it)
			}
			if r.LastActivity == nil || it.OccurredAt.After(*r.LastActivity) {
				at := it.OccurredAt
				r.LastActivity = &at
			}
		}
		for _, in := range r.Interactions {
			if r.LastActivity == nil || in.OccurredAt.After(*r.LastActivity) {
				at := in.OccurredAt
				r.LastActivity = &at
			}
		}

		rollup = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rollup, nil
}
