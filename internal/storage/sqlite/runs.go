package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// BeginRun records the start of an indexing run and returns its id.
func (s *SQLiteStorage) BeginRun(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO index_runs (started_at, status) VALUES (?, 'running')
	`, formatTime(nowUTC()))
	if err != nil {
		return 0, wrapDBError("failed to begin index run", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}
	return id, nil
}

// FinishRun closes a run. A successful run bumps state_version in the same
// transaction.
func (s *SQLiteStorage) FinishRun(ctx context.Context, run *types.IndexRun) error {
	if run.Status != types.RunSuccess && run.Status != types.RunFailed {
		return fmt.Errorf("invalid final run status %q", run.Status)
	}
	finished := nowUTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	run.FinishedAt = &finished

	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := execCount(ctx, tx, `
			UPDATE index_runs
			SET finished_at = ?, status = ?, files_seen = ?, items_recorded = ?, error = ?
			WHERE id = ? AND status = 'running'
		`, formatTime(finished), string(run.Status), run.FilesSeen, run.ItemsRecorded, run.Error, run.ID)
		if err != nil {
			return fmt.Errorf("failed to finish index run: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("index run %d is not running", run.ID)
		}

		if run.Status == types.RunSuccess {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO metadata (key, value) VALUES ('state_version', '1')
				ON CONFLICT (key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
			`)
			if err != nil {
				return wrapDBError("failed to bump state_version", err)
			}
		}
		return nil
	})
}

// LastSuccessfulRun returns the most recent successful run, or nil, nil.
func (s *SQLiteStorage) LastSuccessfulRun(ctx context.Context) (*types.IndexRun, error) {
	return lastSuccessfulRun(ctx, s.db)
}

// StateVersion returns the number of successful runs recorded so far.
func (s *SQLiteStorage) StateVersion(ctx context.Context) (int64, error) {
	return stateVersion(ctx, s.db)
}

// RunState returns the last successful run and the state version, read
// from one snapshot.
func (s *SQLiteStorage) RunState(ctx context.Context) (*types.IndexRun, int64, error) {
	var (
		run     *types.IndexRun
		version int64
	)
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		if run, err = lastSuccessfulRun(ctx, tx); err != nil {
			return err
		}
		version, err = stateVersion(ctx, tx)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return run, version, nil
}

func lastSuccessfulRun(ctx context.Context, q querier) (*types.IndexRun, error) {
	var (
		run               types.IndexRun
		status, startedAt string
		finishedAt        sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, files_seen, items_recorded, error
		FROM index_runs
		WHERE status = 'success'
		ORDER BY finished_at DESC, id DESC
		LIMIT 1
	`).Scan(&run.ID, &startedAt, &finishedAt, &status, &run.FilesSeen, &run.ItemsRecorded, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("failed to read last index run", err)
	}
	run.Status = types.RunStatus(status)
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseNullTime(finishedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

func stateVersion(ctx context.Context, q querier) (int64, error) {
	v, err := getMetadata(ctx, q, "state_version")
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid state_version %q: %w", v, err)
	}
	return n, nil
}

// SetMetadata sets a metadata value (for internal state like schema_version)
func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return wrapDBError("failed to set metadata", err)
	}
	return nil
}

// GetMetadata gets a metadata value. A missing key returns "".
func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, s.db, key)
}

func getMetadata(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapDBError("failed to get metadata", err)
	}
	return value, nil
}
