package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

// GetFile returns what the index knows about a source document.
func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*types.File, error) {
	var (
		f                     types.File
		sourceType, firstSeen string
		processedAt           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT path, metadata_checksum, content_checksum, source_type, first_seen_at, processed_at
		FROM files WHERE path = ?
	`, path).Scan(&f.Path, &f.MetadataChecksum, &f.ContentChecksum, &sourceType, &firstSeen, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", path, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBError("failed to get file", err)
	}
	f.SourceType = types.SourceType(sourceType)
	if f.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return nil, err
	}
	if f.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// DecideFile compares a change notification with the stored checksums.
// Only the content checksum decides re-extraction.
func (s *SQLiteStorage) DecideFile(ctx context.Context, change types.FileChange) (types.FileDecision, error) {
	f, err := s.GetFile(ctx, change.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return types.FileNew, nil
	}
	if err != nil {
		return "", err
	}
	switch {
	case f.ProcessedAt == nil:
		// Seen before but never finished processing.
		return types.FileContentChanged, nil
	case f.ContentChecksum != change.ContentChecksum:
		return types.FileContentChanged, nil
	case f.MetadataChecksum != change.MetadataChecksum:
		return types.FileMetadataOnly, nil
	}
	return types.FileUnchanged, nil
}

// RecordFileMetadata stores a new metadata checksum for a known file
// without touching its content checksum.
func (s *SQLiteStorage) RecordFileMetadata(ctx context.Context, change types.FileChange) error {
	n, err := execCount(ctx, s.db, `
		UPDATE files SET metadata_checksum = ? WHERE path = ?
	`, change.MetadataChecksum, change.Path)
	if err != nil {
		return fmt.Errorf("failed to record file metadata: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("file %s: %w", change.Path, storage.ErrNotFound)
	}
	return nil
}

// MarkFileProcessed records both checksums after a successful extraction.
func (s *SQLiteStorage) MarkFileProcessed(ctx context.Context, change types.FileChange, sourceType types.SourceType) error {
	ts := formatTime(nowUTC())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, metadata_checksum, content_checksum, source_type, first_seen_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			metadata_checksum = excluded.metadata_checksum,
			content_checksum = excluded.content_checksum,
			source_type = excluded.source_type,
			processed_at = excluded.processed_at
	`, change.Path, change.MetadataChecksum, change.ContentChecksum, string(sourceType), ts, ts)
	if err != nil {
		return wrapDBError("failed to mark file processed", err)
	}
	return nil
}

// ensureFile makes sure a files row exists so interactions can reference it.
func ensureFile(ctx context.Context, q querier, path string, sourceType types.SourceType) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO files (path, source_type, first_seen_at) VALUES (?, ?, ?)
	`, path, string(sourceType), formatTime(nowUTC()))
	if err != nil {
		return wrapDBError("failed to register file", err)
	}
	return nil
}

// UpsertInteraction creates the interaction for a file with its
// participants. An existing interaction only takes a deal link: it may go
// from empty to a value, and changing it to a different deal is
// ErrInteractionImmutable. Participants of an existing interaction are left
// as recorded. On return interaction.ID holds the stored id.
func (s *SQLiteStorage) UpsertInteraction(ctx context.Context, interaction *types.Interaction) (bool, error) {
	if interaction.FilePath == "" {
		return false, fmt.Errorf("interaction needs a file path")
	}
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			id   string
			deal sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, deal_slug FROM interactions WHERE file_path = ?
		`, interaction.FilePath).Scan(&id, &deal)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := ensureFile(ctx, tx, interaction.FilePath, interaction.SourceType); err != nil {
				return err
			}
			if interaction.ID == "" {
				interaction.ID = uuid.NewString()
			}
			if interaction.OccurredAt.IsZero() {
				interaction.OccurredAt = nowUTC()
			}
			interaction.CreatedAt = nowUTC()
			_, err := tx.ExecContext(ctx, `
				INSERT INTO interactions (id, file_path, source_type, title, occurred_at, deal_slug, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, interaction.ID, interaction.FilePath, string(interaction.SourceType), interaction.Title,
				formatTime(interaction.OccurredAt), nullString(interaction.DealSlug), formatTime(interaction.CreatedAt))
			if err != nil {
				return wrapDBError("failed to insert interaction", err)
			}
			created = true

		case err != nil:
			return wrapDBError("failed to look up interaction", err)

		default:
			interaction.ID = id
			if interaction.DealSlug != "" {
				if err := setInteractionDeal(ctx, tx, id, deal, interaction.DealSlug); err != nil {
					return err
				}
			} else {
				interaction.DealSlug = deal.String
			}
		}
		if !created {
			return nil
		}

		for _, slug := range interaction.Participants {
			_, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO interaction_entities (interaction_id, entity_slug, role)
				VALUES (?, ?, 'participant')
			`, interaction.ID, slug)
			if err != nil {
				return wrapDBError("failed to link participant", err)
			}
			if err := touchEntity(ctx, tx, slug, interaction.OccurredAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetInteraction returns an interaction with its participant slugs.
func (s *SQLiteStorage) GetInteraction(ctx context.Context, id string) (*types.Interaction, error) {
	return getInteraction(ctx, s.db, id)
}

const interactionColumns = `i.id, i.file_path, i.source_type, i.title, i.occurred_at, i.deal_slug, i.created_at`

func scanInteraction(row rowScanner) (*types.Interaction, error) {
	var (
		in                    types.Interaction
		sourceType            string
		occurredAt, createdAt string
		deal                  sql.NullString
	)
	if err := row.Scan(&in.ID, &in.FilePath, &sourceType, &in.Title, &occurredAt, &deal, &createdAt); err != nil {
		return nil, err
	}
	in.SourceType = types.SourceType(sourceType)
	in.DealSlug = deal.String
	var err error
	if in.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, err
	}
	if in.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &in, nil
}

func getInteraction(ctx context.Context, q querier, id string) (*types.Interaction, error) {
	in, err := scanInteraction(q.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions i WHERE i.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interaction %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBError("failed to get interaction", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT entity_slug FROM interaction_entities WHERE interaction_id = ? ORDER BY entity_slug
	`, id)
	if err != nil {
		return nil, wrapDBError("failed to get participants", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		in.Participants = append(in.Participants, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("failed to iterate participants", err)
	}
	return in, nil
}

// SetInteractionDeal links an interaction to a deal if it has none yet.
// Items recorded for the interaction without a deal are linked as well.
func (s *SQLiteStorage) SetInteractionDeal(ctx context.Context, id, dealSlug string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var deal sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT deal_slug FROM interactions WHERE id = ?`, id).Scan(&deal)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("interaction %s: %w", id, storage.ErrNotFound)
		}
		if err != nil {
			return wrapDBError("failed to get interaction", err)
		}
		return setInteractionDeal(ctx, tx, id, deal, dealSlug)
	})
}

func setInteractionDeal(ctx context.Context, q querier, id string, current sql.NullString, dealSlug string) error {
	if current.Valid && current.String != "" {
		if current.String == dealSlug {
			return nil
		}
		return fmt.Errorf("interaction %s is linked to deal %s, not %s: %w",
			id, current.String, dealSlug, storage.ErrInteractionImmutable)
	}
	if _, err := q.ExecContext(ctx, `UPDATE interactions SET deal_slug = ? WHERE id = ?`, dealSlug, id); err != nil {
		return wrapDBError("failed to link interaction to deal", err)
	}
	_, err := q.ExecContext(ctx, `
		UPDATE extracted_items SET deal_slug = ?, updated_at = ?
		WHERE interaction_id = ? AND deal_slug IS NULL
	`, dealSlug, formatTime(nowUTC()), id)
	if err != nil {
		return wrapDBError("failed to link items to deal", err)
	}
	return nil
}
