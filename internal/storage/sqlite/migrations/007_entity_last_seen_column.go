package migrations

import (
	"database/sql"
	"fmt"
)

func MigrateEntityLastSeenColumn(db *sql.DB) error {
	var hasLastSeen bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0 FROM pragma_table_info('entities')
		WHERE name = 'last_seen_at'
	`).Scan(&hasLastSeen)
	if err != nil {
		return fmt.Errorf("failed to check for last_seen_at column: %w", err)
	}

	if !hasLastSeen {
		_, err = db.Exec(`ALTER TABLE entities ADD COLUMN last_seen_at TEXT NOT NULL DEFAULT ''`)
		if err != nil {
			return fmt.Errorf("failed to add last_seen_at column: %w", err)
		}
		_, err = db.Exec(`UPDATE entities SET last_seen_at = updated_at WHERE last_seen_at = ''`)
		if err != nil {
			return fmt.Errorf("failed to backfill last_seen_at: %w", err)
		}
	}

	return nil
}
