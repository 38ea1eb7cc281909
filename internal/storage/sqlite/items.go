package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

const itemColumns = `t.id, t.item_type, t.text, t.owner_slug, t.target_slug, t.target_name, t.deal_slug,
	t.interaction_id, t.source_type, t.source_path, t.source_message_id, t.source_quote, t.source_span,
	t.trust_level, t.trust_reason, t.content_hash, t.occurred_at, t.created_at, t.updated_at, t.superseded_by`

func scanItem(row rowScanner) (*types.ExtractedItem, error) {
	var (
		it                                    types.ExtractedItem
		itemType, sourceType, trust           string
		target, targetName, deal, interaction sql.NullString
		path, messageID, quote, superseded    sql.NullString
		occurredAt, createdAt, updatedAt      string
	)
	if err := row.Scan(&it.ID, &itemType, &it.Text, &it.OwnerSlug, &target, &targetName, &deal,
		&interaction, &sourceType, &path, &messageID, &quote, &it.SourceSpan,
		&trust, &it.TrustReason, &it.ContentHash, &occurredAt, &createdAt, &updatedAt, &superseded); err != nil {
		return nil, err
	}
	it.Type = types.ItemType(itemType)
	it.SourceType = types.SourceType(sourceType)
	it.TrustLevel = types.TrustLevel(trust)
	it.TargetSlug = target.String
	it.TargetName = targetName.String
	it.DealSlug = deal.String
	it.InteractionID = interaction.String
	it.SourcePath = path.String
	it.SourceMessageID = messageID.String
	it.SourceQuote = quote.String
	it.SupersededBy = superseded.String

	var err error
	if it.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, err
	}
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func queryItems(ctx context.Context, q querier, query string, args ...any) ([]*types.ExtractedItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("failed to query items", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*types.ExtractedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("failed to iterate items", err)
	}
	return items, nil
}

// InsertItem persists an item, deduplicating re-extractions.
//
// An active item with the same content hash and owner is identical: nothing
// is written and its id is returned. Items carrying an extraction key
// supersede active items at the same source path, non-empty span, type and
// owner that an earlier extraction produced. Items of the same extraction
// and items recorded by hand sit side by side.
func (s *SQLiteStorage) InsertItem(ctx context.Context, item *types.ExtractedItem) (*storage.InsertOutcome, error) {
	if item.OwnerSlug == "" {
		return nil, fmt.Errorf("item needs an owner")
	}
	if item.ContentHash == "" {
		item.ContentHash = item.ComputeContentHash()
	}
	if item.TrustLevel == "" {
		item.TrustLevel = types.TrustMedium
	}

	outcome := &storage.InsertOutcome{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var prevID string
		var prevKey sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT id, extraction_key FROM extracted_items
			WHERE content_hash = ? AND owner_slug = ? AND superseded_by IS NULL
			ORDER BY created_at DESC LIMIT 1
		`, item.ContentHash, item.OwnerSlug).Scan(&prevID, &prevKey)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return wrapDBError("failed to look up existing item", err)
		}
		if prevID != "" {
			outcome.ID = prevID
			outcome.Duplicate = true
			item.ID = prevID
			if item.ExtractionKey != "" && prevKey.String != item.ExtractionKey {
				// The new extraction reproduced the item; adopt it so its
				// siblings do not supersede it.
				if _, err := tx.ExecContext(ctx, `UPDATE extracted_items SET extraction_key = ? WHERE id = ?`,
					item.ExtractionKey, prevID); err != nil {
					return wrapDBError("failed to adopt item", err)
				}
			}
			return nil
		}

		ts := nowUTC()
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.OccurredAt.IsZero() {
			item.OccurredAt = ts
		}
		item.CreatedAt = ts
		item.UpdatedAt = ts

		_, err = tx.ExecContext(ctx, `
			INSERT INTO extracted_items (
				id, item_type, text, owner_slug, target_slug, target_name, deal_slug, interaction_id,
				source_type, source_path, source_message_id, source_quote, source_span,
				trust_level, trust_reason, content_hash, occurred_at, created_at, updated_at, extraction_key
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, string(item.Type), item.Text, item.OwnerSlug, nullString(item.TargetSlug),
			nullString(item.TargetName), nullString(item.DealSlug), nullString(item.InteractionID),
			string(item.SourceType), nullString(item.SourcePath), nullString(item.SourceMessageID),
			nullString(item.SourceQuote), item.SourceSpan, string(item.TrustLevel), item.TrustReason,
			item.ContentHash, formatTime(item.OccurredAt), formatTime(ts), formatTime(ts),
			nullString(item.ExtractionKey))
		if err != nil {
			return wrapDBError("failed to insert item", err)
		}
		outcome.ID = item.ID

		if item.ExtractionKey != "" && item.SourceSpan != "" {
			outcome.Superseded, err = supersedeEarlier(ctx, tx, item, ts)
			if err != nil {
				return err
			}
		}

		return touchEntity(ctx, tx, item.OwnerSlug, item.OccurredAt)
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// supersedeEarlier marks active items at item's span that an earlier
// extraction produced as replaced by item, and returns their ids.
func supersedeEarlier(ctx context.Context, tx *sql.Tx, item *types.ExtractedItem, ts time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM extracted_items
		WHERE source_path IS ? AND source_span = ? AND item_type = ? AND owner_slug = ?
		  AND superseded_by IS NULL AND id != ?
		  AND extraction_key IS NOT NULL AND extraction_key != ?
		ORDER BY created_at ASC, id ASC
	`, nullString(item.SourcePath), item.SourceSpan, string(item.Type), item.OwnerSlug, item.ID, item.ExtractionKey)
	if err != nil {
		return nil, wrapDBError("failed to find superseded items", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("failed to iterate superseded items", err)
	}

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			UPDATE extracted_items SET superseded_by = ?, superseded_at = ?, updated_at = ? WHERE id = ?
		`, item.ID, formatTime(ts), formatTime(ts), id)
		if err != nil {
			return nil, wrapDBError("failed to supersede item", err)
		}
	}
	return ids, nil
}

// GetItem returns an item by id, superseded or not.
func (s *SQLiteStorage) GetItem(ctx context.Context, id string) (*types.ExtractedItem, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM extracted_items t WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBError("failed to get item", err)
	}
	return it, nil
}

// UpdateItemProvenance writes recomputed provenance fields. A quote, path
// or target that is already stored is never replaced or cleared. With
// upd.Expected set the write is a compare-and-swap: if another writer
// changed the item's provenance or trust since it was read, nothing is
// written and ErrItemChanged is returned.
func (s *SQLiteStorage) UpdateItemProvenance(ctx context.Context, id string, upd storage.ProvenanceUpdate) error {
	if !upd.TrustLevel.IsValid() {
		return fmt.Errorf("invalid trust level %q", upd.TrustLevel)
	}
	query := `
		UPDATE extracted_items SET
			source_quote = COALESCE(NULLIF(source_quote, ''), ?),
			source_path = COALESCE(NULLIF(source_path, ''), ?),
			target_slug = COALESCE(target_slug, ?),
			trust_level = ?, trust_reason = ?, content_hash = ?, updated_at = ?
		WHERE id = ?`
	args := []any{nullString(upd.SourceQuote), nullString(upd.SourcePath), nullString(upd.TargetSlug),
		string(upd.TrustLevel), upd.TrustReason, upd.ContentHash, formatTime(nowUTC()), id}
	if exp := upd.Expected; exp != nil {
		query += `
			AND COALESCE(source_quote, '') = ? AND COALESCE(source_path, '') = ?
			AND COALESCE(target_slug, '') = ? AND trust_level = ? AND trust_reason = ?
			AND superseded_by IS NULL`
		args = append(args, exp.SourceQuote, exp.SourcePath, exp.TargetSlug, string(exp.TrustLevel), exp.TrustReason)
	}

	n, err := execCount(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update item provenance: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetItem(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("item %s: %w", id, storage.ErrItemChanged)
}

// ItemsForEntity returns active items owned by or targeting slug.
func (s *SQLiteStorage) ItemsForEntity(ctx context.Context, slug string) ([]*types.ExtractedItem, error) {
	return queryItems(ctx, s.db, `
		SELECT `+itemColumns+` FROM extracted_items t
		WHERE (t.owner_slug = ? OR t.target_slug = ?) AND t.superseded_by IS NULL
		ORDER BY t.occurred_at DESC, t.id ASC
	`, slug, slug)
}

// ItemsWithUnresolvedTarget returns active items whose target is only a name.
func (s *SQLiteStorage) ItemsWithUnresolvedTarget(ctx context.Context) ([]*types.ExtractedItem, error) {
	return queryItems(ctx, s.db, `
		SELECT `+itemColumns+` FROM extracted_items t
		WHERE t.target_slug IS NULL AND t.target_name IS NOT NULL AND t.target_name != ''
		  AND t.superseded_by IS NULL
		ORDER BY t.occurred_at ASC, t.id ASC
	`)
}
