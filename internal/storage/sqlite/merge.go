package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

// afterRepointHook runs inside the merge transaction after every reference
// has moved and before the candidate is marked merged. Tests set it to
// simulate a failure at that point.
var afterRepointHook func() error

// MergeEntities re-points every reference from candidateSlug to
// canonicalSlug and marks the candidate merged, in one transaction.
//
// The candidate must be an active candidate and the target an active
// canonical entity; anything else is ErrMergeConflict and nothing changes.
func (s *SQLiteStorage) MergeEntities(ctx context.Context, candidateSlug, canonicalSlug string) (*storage.MergeResult, error) {
	if candidateSlug == canonicalSlug {
		return nil, fmt.Errorf("cannot merge %s into itself: %w", candidateSlug, storage.ErrMergeConflict)
	}

	result := &storage.MergeResult{From: candidateSlug, Into: canonicalSlug}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		from, err := getEntity(ctx, tx, candidateSlug)
		if err != nil {
			return mergeConflict(err, "source")
		}
		into, err := getEntity(ctx, tx, canonicalSlug)
		if err != nil {
			return mergeConflict(err, "target")
		}
		if !from.IsActive() || from.Kind() != types.Candidate {
			return fmt.Errorf("source %s is not an active candidate (%s, %s): %w",
				from.Slug, from.Kind(), from.State, storage.ErrMergeConflict)
		}
		if !into.IsActive() || into.Kind() != types.Canonical {
			return fmt.Errorf("target %s is not an active canonical entity (%s, %s): %w",
				into.Slug, into.Kind(), into.State, storage.ErrMergeConflict)
		}

		ts := formatTime(nowUTC())

		if result.OwnedItemsMoved, err = execCount(ctx, tx, `
			UPDATE extracted_items SET owner_slug = ?, updated_at = ? WHERE owner_slug = ?
		`, canonicalSlug, ts, candidateSlug); err != nil {
			return fmt.Errorf("failed to re-point item owners: %w", err)
		}

		if result.TargetedItemsMoved, err = execCount(ctx, tx, `
			UPDATE extracted_items SET target_slug = ?, updated_at = ? WHERE target_slug = ?
		`, canonicalSlug, ts, candidateSlug); err != nil {
			return fmt.Errorf("failed to re-point item targets: %w", err)
		}

		// An interaction naming both entities keeps a single row.
		if result.InteractionRefsMoved, err = execCount(ctx, tx, `
			UPDATE OR IGNORE interaction_entities SET entity_slug = ? WHERE entity_slug = ?
		`, canonicalSlug, candidateSlug); err != nil {
			return fmt.Errorf("failed to re-point interaction participants: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM interaction_entities WHERE entity_slug = ?`, candidateSlug); err != nil {
			return wrapDBError("failed to drop duplicate participants", err)
		}

		if result.MentionKeysRepointed, err = execCount(ctx, tx, `
			UPDATE entity_mentions SET entity_slug = ? WHERE entity_slug = ?
		`, canonicalSlug, candidateSlug); err != nil {
			return fmt.Errorf("failed to re-point mention keys: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE entity_handles SET entity_slug = ? WHERE entity_slug = ?
		`, canonicalSlug, candidateSlug); err != nil {
			return wrapDBError("failed to move handles", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO entity_aliases (alias_norm, entity_slug, created_at)
			SELECT alias_norm, ?, created_at FROM entity_aliases WHERE entity_slug = ?
		`, canonicalSlug, candidateSlug); err != nil {
			return wrapDBError("failed to copy aliases", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE deals SET company_slug = ?, updated_at = ? WHERE company_slug = ?
		`, canonicalSlug, ts, candidateSlug); err != nil {
			return wrapDBError("failed to re-point deal companies", err)
		}

		if afterRepointHook != nil {
			if err := afterRepointHook(); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE entities SET status = 'merged', merged_into = ?, updated_at = ? WHERE slug = ?
		`, canonicalSlug, ts, candidateSlug); err != nil {
			return wrapDBError("failed to mark candidate merged", err)
		}
		return touchEntity(ctx, tx, canonicalSlug, from.LastSeenAt)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func mergeConflict(err error, role string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("merge %s: %w: %w", role, storage.ErrMergeConflict, err)
	}
	return err
}

func execCount(ctx context.Context, q querier, query string, args ...any) (int, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapDBError("exec failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
