package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateEntityMentionsTable adds the raw-mention key table that makes
// entity resolution idempotent across re-processing.
func MigrateEntityMentionsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entity_mentions (
			mention_norm TEXT PRIMARY KEY,
			entity_slug TEXT NOT NULL,
			first_seen_at TEXT NOT NULL,
			FOREIGN KEY (entity_slug) REFERENCES entities(slug)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create entity_mentions table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_entity_mentions_slug ON entity_mentions(entity_slug)`)
	if err != nil {
		return fmt.Errorf("failed to create entity_mentions index: %w", err)
	}

	// Stores created before this table existed resolved candidates by name
	// alone. Seed a mention key for each active candidate so re-processing
	// the same sources finds them instead of minting duplicates.
	_, err = db.Exec(`
		INSERT OR IGNORE INTO entity_mentions (mention_norm, entity_slug, first_seen_at)
		SELECT name_norm, slug, created_at FROM entities
		WHERE is_candidate = 1 AND status = 'active'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to seed entity_mentions: %w", err)
	}

	return nil
}
