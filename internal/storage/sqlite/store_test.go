package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/untoldecay/ctxgraph/internal/storage"
)

func TestNewStampsSchemaVersion(t *testing.T) {
	env := newTestEnv(t)

	v, err := env.Store.GetMetadata(env.Ctx, "schema_version")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if v != CurrentSchemaVersion {
		t.Errorf("schema_version = %q, want %q", v, CurrentSchemaVersion)
	}

	var mode string
	if err := env.Store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestNewEmptyPath(t *testing.T) {
	_, err := New(context.Background(), "")
	if !errors.Is(err, storage.ErrDBNotInitialized) {
		t.Fatalf("expected ErrDBNotInitialized, got %v", err)
	}
}

func TestNewRefusesNewerMajorSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	ctx := context.Background()

	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := store.SetMetadata(ctx, "schema_version", "v2.0.0"); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	_ = store.Close()

	_, err = New(ctx, dbPath)
	if !errors.Is(err, storage.ErrSchemaTooNew) {
		t.Fatalf("expected ErrSchemaTooNew, got %v", err)
	}
}

func TestNewKeepsNewerMinorSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	ctx := context.Background()

	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := store.SetMetadata(ctx, "schema_version", "v1.99.0"); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	_ = store.Close()

	store = newTestStore(t, dbPath)
	v, err := store.GetMetadata(ctx, "schema_version")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if v != "v1.99.0" {
		t.Errorf("schema_version = %q, want v1.99.0 to be kept", v)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	ctx := context.Background()

	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Second close is a no-op.
	if err := store.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	_, err = store.LastSuccessfulRun(ctx)
	if !errors.Is(err, storage.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from closed store, got %v", err)
	}
	_, err = store.GetEntity(ctx, "alex-chen")
	if !errors.Is(err, storage.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from closed store, got %v", err)
	}
}

func TestEntityRowsCannotBeDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen")

	_, err := env.Store.db.Exec(`DELETE FROM entities WHERE slug = 'alex-chen'`)
	if err == nil {
		t.Fatal("expected delete to be refused")
	}

	var n int
	if err := env.Store.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("entities = %d, want 1", n)
	}
}

func TestSecondConnectionSeesWrites(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen")

	other, err := sql.Open("sqlite3", "file:"+env.Store.Path()+"?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("failed to open second connection: %v", err)
	}
	defer func() { _ = other.Close() }()

	var name string
	if err := other.QueryRow(`SELECT display_name FROM entities WHERE slug = 'alex-chen'`).Scan(&name); err != nil {
		t.Fatalf("second connection query failed: %v", err)
	}
	if name != "Alex Chen" {
		t.Errorf("display_name = %q", name)
	}
}
