package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateItemSupersedeColumns adds the columns used to recognise identical
// re-extractions and to logically delete superseded items.
func MigrateItemSupersedeColumns(db *sql.DB) error {
	columns := []struct {
		name string
		ddl  string
	}{
		{"content_hash", "ALTER TABLE extracted_items ADD COLUMN content_hash TEXT NOT NULL DEFAULT ''"},
		{"superseded_by", "ALTER TABLE extracted_items ADD COLUMN superseded_by TEXT"},
		{"superseded_at", "ALTER TABLE extracted_items ADD COLUMN superseded_at TEXT"},
	}

	for _, col := range columns {
		var exists bool
		err := db.QueryRow(`
			SELECT COUNT(*) > 0 FROM pragma_table_info('extracted_items')
			WHERE name = ?
		`, col.name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check for %s column: %w", col.name, err)
		}
		if exists {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("failed to add %s column: %w", col.name, err)
		}
	}

	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_items_actionable
		ON extracted_items(trust_level, occurred_at)
		WHERE superseded_by IS NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_items_actionable: %w", err)
	}

	return nil
}
