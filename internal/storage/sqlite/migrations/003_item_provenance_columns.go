package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateItemProvenanceColumns adds source_message_id and trust_reason to
// extracted_items and backfills the reason for items already stored.
func MigrateItemProvenanceColumns(db *sql.DB) error {
	// SQLite doesn't support adding multiple columns in one ALTER TABLE
	var hasMessageID bool
	err := db.QueryRow("SELECT COUNT(*) > 0 FROM pragma_table_info('extracted_items') WHERE name='source_message_id'").Scan(&hasMessageID)
	if err != nil {
		return fmt.Errorf("failed to check for source_message_id column: %w", err)
	}
	if !hasMessageID {
		_, err = db.Exec("ALTER TABLE extracted_items ADD COLUMN source_message_id TEXT")
		if err != nil {
			return fmt.Errorf("failed to add source_message_id column: %w", err)
		}
	}

	var hasReason bool
	err = db.QueryRow("SELECT COUNT(*) > 0 FROM pragma_table_info('extracted_items') WHERE name='trust_reason'").Scan(&hasReason)
	if err != nil {
		return fmt.Errorf("failed to check for trust_reason column: %w", err)
	}
	if !hasReason {
		_, err = db.Exec("ALTER TABLE extracted_items ADD COLUMN trust_reason TEXT NOT NULL DEFAULT ''")
		if err != nil {
			return fmt.Errorf("failed to add trust_reason column: %w", err)
		}
		_, err = db.Exec(`
			UPDATE extracted_items SET trust_reason = CASE
				WHEN source_quote IS NULL OR source_quote = '' THEN 'quote_missing'
				WHEN source_path IS NULL OR source_path = '' THEN 'path_missing'
				WHEN trust_level = 'high' THEN 'verified'
				ELSE 'candidate_owner'
			END
			WHERE trust_reason = ''
		`)
		if err != nil {
			return fmt.Errorf("failed to backfill trust_reason: %w", err)
		}
	}

	return nil
}
