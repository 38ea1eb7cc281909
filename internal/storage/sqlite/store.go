// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"golang.org/x/mod/semver"

	"github.com/untoldecay/ctxgraph/internal/storage"
)

// CurrentSchemaVersion is the schema this binary writes. A store stamped with
// a newer major version is refused.
const CurrentSchemaVersion = "v1.6.0"

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

var _ storage.Storage = (*SQLiteStorage)(nil)

// connString builds the DSN. txlock controls what BEGIN issues: "immediate"
// for normal writers, "exclusive" for the migration connection.
func connString(path, txlock string) string {
	return "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_txlock=" + txlock
}

// New opens (creating if needed) the store at path, applies the schema and
// runs migrations.
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, storage.ErrDBNotInitialized
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if err := migrate(ctx, path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", connString(path, "immediate"))
	if err != nil {
		return nil, wrapDBError("failed to open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrapDBError("failed to open database", err)
	}

	return &SQLiteStorage{db: db, dbPath: path}, nil
}

// migrate applies the schema and migrations over a dedicated single
// connection so RunMigrations' BEGIN EXCLUSIVE and PRAGMAs share it.
func migrate(ctx context.Context, path string) error {
	mdb, err := sql.Open("sqlite3", connString(path, "exclusive"))
	if err != nil {
		return wrapDBError("failed to open database for migrations", err)
	}
	defer func() { _ = mdb.Close() }()
	mdb.SetMaxOpenConns(1)

	if _, err := mdb.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		return wrapDBError("failed to enable WAL mode", err)
	}
	if _, err := mdb.ExecContext(ctx, schema); err != nil {
		return wrapDBError("failed to initialize schema", err)
	}

	stored, err := readSchemaVersion(ctx, mdb)
	if err != nil {
		return err
	}
	if stored != "" && semver.Compare(semver.Major(stored), semver.Major(CurrentSchemaVersion)) > 0 {
		return fmt.Errorf("store at %s has schema %s, this binary supports %s: %w",
			path, stored, semver.Major(CurrentSchemaVersion), storage.ErrSchemaTooNew)
	}

	if err := RunMigrations(mdb); err != nil {
		return wrapDBError("failed to run migrations", err)
	}

	if stored == "" || semver.Compare(stored, CurrentSchemaVersion) < 0 {
		_, err := mdb.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value
		`, CurrentSchemaVersion)
		if err != nil {
			return wrapDBError("failed to stamp schema_version", err)
		}
	}
	return nil
}

func readSchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapDBError("failed to read schema_version", err)
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid schema_version %q in metadata", v)
	}
	return v, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Path returns the absolute path to the database file
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// UnderlyingDB returns the underlying *sql.DB connection.
func (s *SQLiteStorage) UnderlyingDB() *sql.DB {
	return s.db
}

// withTx runs fn in a write transaction (BEGIN IMMEDIATE).
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("failed to commit transaction", err)
	}
	return nil
}

// withReadTx runs fn in a read-only transaction. Under WAL every statement
// in fn sees the same snapshot.
func (s *SQLiteStorage) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return wrapDBError("failed to begin read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}

// querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// isUnavailable reports whether err means the store itself could not be
// reached, as opposed to a query returning nothing.
func isUnavailable(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.BUSY, sqlite3.LOCKED, sqlite3.IOERR, sqlite3.CANTOPEN,
			sqlite3.NOTADB, sqlite3.CORRUPT, sqlite3.FULL, sqlite3.PERM, sqlite3.READONLY:
			return true
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return strings.Contains(err.Error(), "sql: database is closed")
}

// wrapDBError adds context to err and tags it ErrStoreUnavailable when the
// failure is a connection/IO one.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueConstraintError checks if error is a UNIQUE constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.ExtendedCode() {
		case sqlite3.CONSTRAINT_UNIQUE, sqlite3.CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "constraint failed: UNIQUE")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by older builds used RFC 3339.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
