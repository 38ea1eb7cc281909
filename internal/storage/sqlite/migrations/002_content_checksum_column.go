package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateContentChecksumColumn splits the file checksum in two so that a
// metadata-only touch no longer forces re-extraction.
func MigrateContentChecksumColumn(db *sql.DB) error {
	var colName string
	err := db.QueryRow(`
		SELECT name FROM pragma_table_info('files')
		WHERE name = 'content_checksum'
	`).Scan(&colName)

	if err == sql.ErrNoRows {
		_, err := db.Exec(`ALTER TABLE files ADD COLUMN content_checksum TEXT NOT NULL DEFAULT ''`)
		if err != nil {
			return fmt.Errorf("failed to add content_checksum column: %w", err)
		}

		// Use SAVEPOINT for atomicity (we're already inside an EXCLUSIVE transaction from RunMigrations)
		_, err = db.Exec(`SAVEPOINT content_checksum_migration`)
		if err != nil {
			return fmt.Errorf("failed to create savepoint: %w", err)
		}
		savepointReleased := false
		defer func() {
			if !savepointReleased {
				_, _ = db.Exec(`ROLLBACK TO SAVEPOINT content_checksum_migration`)
			}
		}()

		// The old single checksum covered content, so it is the best value we
		// have. Files already processed are then not re-extracted.
		if _, err := db.Exec(`UPDATE files SET content_checksum = metadata_checksum WHERE content_checksum = ''`); err != nil {
			return fmt.Errorf("failed to backfill content_checksum: %w", err)
		}

		_, err = db.Exec(`RELEASE SAVEPOINT content_checksum_migration`)
		if err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		savepointReleased = true

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to check content_checksum column: %w", err)
	}

	return nil
}
