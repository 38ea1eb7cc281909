package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateIndexRunsTable moves freshness state out of the metadata key
// last_index_time and into a table of runs.
func MigrateIndexRunsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS index_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'success', 'failed')),
			files_seen INTEGER NOT NULL DEFAULT 0,
			items_recorded INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index_runs table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_index_runs_status ON index_runs(status, finished_at)`)
	if err != nil {
		return fmt.Errorf("failed to create index_runs index: %w", err)
	}

	// Carry over a legacy timestamp as one successful run, once.
	var legacy string
	err = db.QueryRow(`SELECT value FROM metadata WHERE key = 'last_index_time'`).Scan(&legacy)
	if err == sql.ErrNoRows || legacy == "" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read last_index_time: %w", err)
	}

	var runs int
	if err := db.QueryRow(`SELECT COUNT(*) FROM index_runs`).Scan(&runs); err != nil {
		return fmt.Errorf("failed to count index_runs: %w", err)
	}
	if runs == 0 {
		_, err = db.Exec(`
			INSERT INTO index_runs (started_at, finished_at, status)
			VALUES (?, ?, 'success')
		`, legacy, legacy)
		if err != nil {
			return fmt.Errorf("failed to carry over last_index_time: %w", err)
		}
	}

	_, err = db.Exec(`DELETE FROM metadata WHERE key = 'last_index_time'`)
	if err != nil {
		return fmt.Errorf("failed to drop last_index_time: %w", err)
	}

	return nil
}
