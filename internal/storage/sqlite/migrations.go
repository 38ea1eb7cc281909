// Package sqlite - database migrations
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/untoldecay/ctxgraph/internal/storage/sqlite/migrations"
)

// Migration represents a single database migration
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of all migrations to run.
// Every migration is additive and idempotent; re-running the list is a no-op.
var migrationsList = []Migration{
	{"entity_mentions_table", migrations.MigrateEntityMentionsTable},
	{"content_checksum_column", migrations.MigrateContentChecksumColumn},
	{"item_provenance_columns", migrations.MigrateItemProvenanceColumns},
	{"item_supersede_columns", migrations.MigrateItemSupersedeColumns},
	{"index_runs_table", migrations.MigrateIndexRunsTable},
	{"item_deal_column", migrations.MigrateItemDealColumn},
	{"entity_last_seen_column", migrations.MigrateEntityLastSeenColumn},
	{"entity_delete_guard", migrations.MigrateEntityDeleteGuard},
	{"entity_events_table", migrations.MigrateEntityEventsTable},
	{"item_extraction_key_column", migrations.MigrateItemExtractionKeyColumn},
}

// MigrationInfo contains metadata about a migration for inspection
type MigrationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListMigrations returns list of all registered migrations with descriptions
// Note: This returns ALL registered migrations, not just pending ones (all are idempotent)
func ListMigrations() []MigrationInfo {
	result := make([]MigrationInfo, len(migrationsList))
	for i, m := range migrationsList {
		result[i] = MigrationInfo{
			Name:        m.Name,
			Description: getMigrationDescription(m.Name),
		}
	}
	return result
}

// getMigrationDescription returns a human-readable description for a migration
func getMigrationDescription(name string) string {
	descriptions := map[string]string{
		"entity_mentions_table":      "Adds entity_mentions table so repeated unmatched mentions reuse one candidate",
		"content_checksum_column":    "Adds content_checksum to files so metadata-only changes skip re-extraction",
		"item_provenance_columns":    "Adds source_message_id and trust_reason columns to extracted_items",
		"item_supersede_columns":     "Adds content_hash, superseded_by and superseded_at for re-extraction of a span",
		"index_runs_table":           "Adds index_runs table and carries over last_index_time",
		"item_deal_column":           "Adds deal_slug column to extracted_items for deal rollups",
		"entity_last_seen_column":    "Adds last_seen_at column to entities for display ordering",
		"entity_delete_guard":        "Adds trigger refusing entity deletes",
		"entity_events_table":        "Adds entity_events table recording operator actions with their actor",
		"item_extraction_key_column": "Adds extraction_key to extracted_items so only a later extraction supersedes a span",
	}

	if desc, ok := descriptions[name]; ok {
		return desc
	}
	return "Unknown migration"
}

// RunMigrations executes all registered migrations in order with invariant checking.
// Uses EXCLUSIVE transaction to prevent race conditions when multiple processes
// open the database simultaneously. db must be limited to one open connection.
func RunMigrations(db *sql.DB) error {
	// PRAGMA foreign_keys must be called when no transaction is active (SQLite limitation).
	_, err := db.Exec("PRAGMA foreign_keys = OFF")
	if err != nil {
		return fmt.Errorf("failed to disable foreign keys for migrations: %w", err)
	}
	defer func() { _, _ = db.Exec("PRAGMA foreign_keys = ON") }()

	// Acquire EXCLUSIVE lock to serialize migrations across processes.
	// Without this, parallel processes can race on check-then-modify operations
	// (e.g., checking if a column exists then adding it), causing "duplicate column" errors.
	_, err = db.Exec("BEGIN EXCLUSIVE")
	if err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	snapshot, err := captureSnapshot(db)
	if err != nil {
		return fmt.Errorf("failed to capture pre-migration snapshot: %w", err)
	}

	for _, migration := range migrationsList {
		if err := migration.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.Name, err)
		}
	}

	if err := verifyInvariants(db, snapshot); err != nil {
		return fmt.Errorf("post-migration validation failed: %w", err)
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true

	return nil
}

// snapshotTables are the tables whose rows migrations must never drop.
var snapshotTables = []string{"entities", "extracted_items", "interactions", "deals", "files"}

// migrationSnapshot holds row counts taken before migrations run.
type migrationSnapshot struct {
	counts map[string]int
}

func captureSnapshot(db *sql.DB) (*migrationSnapshot, error) {
	snap := &migrationSnapshot{counts: make(map[string]int, len(snapshotTables))}
	for _, table := range snapshotTables {
		var n int
		// #nosec G202 - table names come from a fixed list
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		snap.counts[table] = n
	}
	return snap, nil
}

// verifyInvariants checks that migrations only added: no table lost rows,
// and every merged entity still points at an existing entity.
func verifyInvariants(db *sql.DB, snap *migrationSnapshot) error {
	for _, table := range snapshotTables {
		var n int
		// #nosec G202 - table names come from a fixed list
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		if n < snap.counts[table] {
			return fmt.Errorf("table %s lost rows during migration (%d -> %d)", table, snap.counts[table], n)
		}
	}

	var dangling int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM entities e
		WHERE e.merged_into IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM entities t WHERE t.slug = e.merged_into)
	`).Scan(&dangling)
	if err != nil {
		return fmt.Errorf("failed to check merged_into references: %w", err)
	}
	if dangling > 0 {
		return fmt.Errorf("%d merged entities point at missing entities", dangling)
	}
	return nil
}
