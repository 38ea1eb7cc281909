package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateEntityDeleteGuard installs the trigger that refuses entity deletes.
// Slugs referenced by items or interactions must survive; merge or
// deactivate instead.
func MigrateEntityDeleteGuard(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TRIGGER IF NOT EXISTS entities_no_delete
		BEFORE DELETE ON entities
		BEGIN
			SELECT RAISE(ABORT, 'entities are never deleted; merge or deactivate instead');
		END
	`)
	if err != nil {
		return fmt.Errorf("failed to create entities_no_delete trigger: %w", err)
	}
	return nil
}
