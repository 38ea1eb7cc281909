package sqlite

import (
	"context"
	"fmt"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// RecordEvent appends an operator action to an entity's audit log.
func (s *SQLiteStorage) RecordEvent(ctx context.Context, ev *types.Event) error {
	if ev.EntitySlug == "" || ev.Type == "" {
		return fmt.Errorf("event needs an entity slug and a type")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = nowUTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_events (entity_slug, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.EntitySlug, string(ev.Type), ev.Actor, nullString(ev.OldValue), nullString(ev.NewValue), formatTime(ev.CreatedAt))
	if err != nil {
		return wrapDBError("failed to record event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// GetEvents returns the audit log for an entity, newest first.
func (s *SQLiteStorage) GetEvents(ctx context.Context, slug string, limit int) ([]*types.Event, error) {
	args := []any{slug}
	limitSQL := ""
	if limit > 0 {
		limitSQL = limitClause
		args = append(args, limit)
	}

	// #nosec G202 - limitSQL is a constant
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_slug, event_type, actor, COALESCE(old_value, ''), COALESCE(new_value, ''), created_at
		FROM entity_events
		WHERE entity_slug = ?
		ORDER BY created_at DESC, id DESC`+limitSQL, args...)
	if err != nil {
		return nil, wrapDBError("failed to get events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var (
			ev      types.Event
			typ, at string
		)
		if err := rows.Scan(&ev.ID, &ev.EntitySlug, &typ, &ev.Actor, &ev.OldValue, &ev.NewValue, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = types.EventType(typ)
		if ev.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
