package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateItemExtractionKeyColumn adds extraction_key, which ties an item to
// the extraction of a file version it came from.
func MigrateItemExtractionKeyColumn(db *sql.DB) error {
	var hasKey bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0 FROM pragma_table_info('extracted_items')
		WHERE name = 'extraction_key'
	`).Scan(&hasKey)
	if err != nil {
		return fmt.Errorf("failed to check for extraction_key column: %w", err)
	}

	if !hasKey {
		_, err = db.Exec(`ALTER TABLE extracted_items ADD COLUMN extraction_key TEXT`)
		if err != nil {
			return fmt.Errorf("failed to add extraction_key column: %w", err)
		}
	}
	return nil
}
