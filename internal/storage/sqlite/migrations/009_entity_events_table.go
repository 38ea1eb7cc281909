package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateEntityEventsTable adds the operator audit log for entities.
func MigrateEntityEventsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entity_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_slug TEXT NOT NULL,
			event_type TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			old_value TEXT,
			new_value TEXT,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create entity_events table: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_entity_events_slug ON entity_events(entity_slug, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create entity_events index: %w", err)
	}
	return nil
}
