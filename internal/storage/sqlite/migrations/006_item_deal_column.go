package migrations

import (
	"database/sql"
	"fmt"
)

func MigrateItemDealColumn(db *sql.DB) error {
	var hasDeal bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0 FROM pragma_table_info('extracted_items')
		WHERE name = 'deal_slug'
	`).Scan(&hasDeal)
	if err != nil {
		return fmt.Errorf("failed to check for deal_slug column: %w", err)
	}

	if !hasDeal {
		_, err = db.Exec(`ALTER TABLE extracted_items ADD COLUMN deal_slug TEXT REFERENCES deals(slug)`)
		if err != nil {
			return fmt.Errorf("failed to add deal_slug column: %w", err)
		}
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_items_deal ON extracted_items(deal_slug)`)
	if err != nil {
		return fmt.Errorf("failed to create idx_items_deal: %w", err)
	}

	return nil
}
