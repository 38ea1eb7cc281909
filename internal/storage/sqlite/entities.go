package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

const entityColumns = `e.slug, e.display_name, e.entity_type, e.status, e.is_candidate,
	e.merged_into, e.created_at, e.updated_at, e.last_seen_at`

// maxMergeHops bounds merged_into chains when following them.
const maxMergeHops = 16

func scanEntity(row rowScanner) (*types.Entity, error) {
	var (
		e                              types.Entity
		entityType, status             string
		isCandidate                    int
		mergedInto                     sql.NullString
		createdAt, updatedAt, lastSeen string
	)
	if err := row.Scan(&e.Slug, &e.DisplayName, &entityType, &status, &isCandidate,
		&mergedInto, &createdAt, &updatedAt, &lastSeen); err != nil {
		return nil, err
	}
	e.Type = types.EntityType(entityType)
	e.State = types.EntityState(status)
	e.MergedInto = mergedInto.String
	if isCandidate != 0 {
		e.SetKind(types.Candidate)
	} else {
		e.SetKind(types.Canonical)
	}

	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.LastSeenAt, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	return &e, nil
}

func queryEntities(ctx context.Context, q querier, query string, args ...any) ([]*types.Entity, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("failed to query entities", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("failed to iterate entities", err)
	}
	return entities, nil
}

func getEntity(ctx context.Context, q querier, slug string) (*types.Entity, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities e WHERE e.slug = ?`, slug)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", slug, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBError("failed to get entity", err)
	}
	return e, nil
}

// followMerged walks merged_into from e to the surviving entity.
func followMerged(ctx context.Context, q querier, e *types.Entity) (*types.Entity, error) {
	for hops := 0; e.State == types.StateMerged && e.MergedInto != ""; hops++ {
		if hops >= maxMergeHops {
			return nil, fmt.Errorf("merge chain from %s exceeds %d hops", e.Slug, maxMergeHops)
		}
		next, err := getEntity(ctx, q, e.MergedInto)
		if err != nil {
			return nil, err
		}
		e = next
	}
	return e, nil
}

// GetEntity returns an entity with its handles and aliases.
func (s *SQLiteStorage) GetEntity(ctx context.Context, slug string) (*types.Entity, error) {
	e, err := getEntity(ctx, s.db, slug)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, value_norm FROM entity_handles WHERE entity_slug = ? ORDER BY kind, value_norm
	`, slug)
	if err != nil {
		return nil, wrapDBError("failed to get handles", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var h types.Handle
		var kind string
		if err := rows.Scan(&kind, &h.Value); err != nil {
			return nil, fmt.Errorf("failed to scan handle: %w", err)
		}
		h.Kind = types.HandleKind(kind)
		e.Handles = append(e.Handles, h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("failed to iterate handles", err)
	}

	aliasRows, err := s.db.QueryContext(ctx, `
		SELECT alias_norm FROM entity_aliases WHERE entity_slug = ? ORDER BY alias_norm
	`, slug)
	if err != nil {
		return nil, wrapDBError("failed to get aliases", err)
	}
	defer func() { _ = aliasRows.Close() }()
	for aliasRows.Next() {
		var alias string
		if err := aliasRows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		e.Aliases = append(e.Aliases, alias)
	}
	if err := aliasRows.Err(); err != nil {
		return nil, wrapDBError("failed to iterate aliases", err)
	}

	return e, nil
}

// ListEntities returns entities ordered by most recently seen.
func (s *SQLiteStorage) ListEntities(ctx context.Context, filter storage.EntityFilter) ([]*types.Entity, error) {
	where := []string{"1 = 1"}
	args := []any{}

	if !filter.IncludeInactive {
		where = append(where, "e.status = 'active'")
	}
	if filter.Kind != nil {
		switch *filter.Kind {
		case types.Candidate:
			where = append(where, "e.is_candidate = 1")
		case types.Canonical:
			where = append(where, "e.is_candidate = 0")
		}
	}
	if filter.Type != "" {
		where = append(where, "e.entity_type = ?")
		args = append(args, string(filter.Type))
	}

	query := `SELECT ` + entityColumns + ` FROM entities e WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY e.last_seen_at DESC, e.slug ASC`
	if filter.Limit > 0 {
		query += limitClause
		args = append(args, filter.Limit)
	}
	return queryEntities(ctx, s.db, query, args...)
}

// FindEntitiesByHandle returns the entity owning a handle, if any.
func (s *SQLiteStorage) FindEntitiesByHandle(ctx context.Context, kind types.HandleKind, value string) ([]*types.Entity, error) {
	return queryEntities(ctx, s.db, `
		SELECT `+entityColumns+` FROM entities e
		JOIN entity_handles h ON h.entity_slug = e.slug
		WHERE h.kind = ? AND h.value_norm = ?
		ORDER BY e.slug
	`, string(kind), types.NormalizeHandle(kind, value))
}

// FindCanonicalByName returns active canonical entities whose normalized
// display name equals nameNorm.
func (s *SQLiteStorage) FindCanonicalByName(ctx context.Context, nameNorm string) ([]*types.Entity, error) {
	return queryEntities(ctx, s.db, `
		SELECT `+entityColumns+` FROM entities e
		WHERE e.name_norm = ? AND e.is_candidate = 0 AND e.status = 'active'
		ORDER BY e.last_seen_at DESC, e.slug ASC
	`, nameNorm)
}

// FindEntitiesByAlias returns active entities carrying the alias.
func (s *SQLiteStorage) FindEntitiesByAlias(ctx context.Context, aliasNorm string) ([]*types.Entity, error) {
	return queryEntities(ctx, s.db, `
		SELECT `+entityColumns+` FROM entities e
		JOIN entity_aliases a ON a.entity_slug = e.slug
		WHERE a.alias_norm = ? AND e.status = 'active'
		ORDER BY e.last_seen_at DESC, e.slug ASC
	`, aliasNorm)
}

// LookupMention returns the entity recorded for a raw mention, following
// merges. It returns nil, nil when the mention is unknown.
func (s *SQLiteStorage) LookupMention(ctx context.Context, mentionNorm string) (*types.Entity, error) {
	return lookupMention(ctx, s.db, mentionNorm)
}

func lookupMention(ctx context.Context, q querier, mentionNorm string) (*types.Entity, error) {
	var slug string
	err := q.QueryRowContext(ctx, `SELECT entity_slug FROM entity_mentions WHERE mention_norm = ?`, mentionNorm).Scan(&slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("failed to look up mention", err)
	}
	e, err := getEntity(ctx, q, slug)
	if err != nil {
		return nil, err
	}
	return followMerged(ctx, q, e)
}

// CreateCandidate creates a candidate for an unmatched mention and records
// the mention key. If the key already exists the recorded entity is
// returned with created=false. The check and the insert share one
// IMMEDIATE transaction, so concurrent callers cannot both create.
func (s *SQLiteStorage) CreateCandidate(ctx context.Context, req storage.CandidateRequest) (*types.Entity, bool, error) {
	if req.BaseSlug == "" || req.MentionNorm == "" {
		return nil, false, fmt.Errorf("candidate needs a base slug and a mention key")
	}
	entityType := req.Type
	if entityType == "" {
		entityType = types.EntityPerson
	}
	seen := req.SeenAt
	if seen.IsZero() {
		seen = nowUTC()
	}

	var (
		result  *types.Entity
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := lookupMention(ctx, tx, req.MentionNorm)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		slug, err := freeSlug(ctx, tx, req.BaseSlug)
		if err != nil {
			return err
		}

		ts := formatTime(nowUTC())
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (slug, display_name, name_norm, entity_type, status, is_candidate,
				created_at, updated_at, last_seen_at)
			VALUES (?, ?, ?, ?, 'active', 1, ?, ?, ?)
		`, slug, req.DisplayName, types.NormalizeName(req.DisplayName), string(entityType), ts, ts, formatTime(seen))
		if err != nil {
			return wrapDBError("failed to insert candidate", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO entity_mentions (mention_norm, entity_slug, first_seen_at) VALUES (?, ?, ?)
		`, req.MentionNorm, slug, ts)
		if err != nil {
			return wrapDBError("failed to record mention", err)
		}

		result, err = getEntity(ctx, tx, slug)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// freeSlug returns base, or base-2, base-3, ... whichever is unused first.
func freeSlug(ctx context.Context, q querier, base string) (string, error) {
	for n := 1; ; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d", base, n)
		}
		var exists int
		err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE slug = ?`, candidate).Scan(&exists)
		if err != nil {
			return "", wrapDBError("failed to check slug", err)
		}
		if exists == 0 {
			return candidate, nil
		}
	}
}

// CreateEntity inserts an entity with its handles and aliases.
func (s *SQLiteStorage) CreateEntity(ctx context.Context, e *types.Entity) error {
	if e.Slug == "" || e.DisplayName == "" {
		return fmt.Errorf("entity needs a slug and a display name")
	}
	if e.Type == "" {
		e.Type = types.EntityPerson
	}
	if e.State == "" {
		e.State = types.StateActive
	}
	isCandidate := 0
	if e.Kind() == types.Candidate {
		isCandidate = 1
	}
	ts := nowUTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = ts
	}
	e.UpdatedAt = ts
	if e.LastSeenAt.IsZero() {
		e.LastSeenAt = ts
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (slug, display_name, name_norm, entity_type, status, is_candidate,
				merged_into, created_at, updated_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.Slug, e.DisplayName, types.NormalizeName(e.DisplayName), string(e.Type), string(e.State),
			isCandidate, nullString(e.MergedInto), formatTime(e.CreatedAt), formatTime(e.UpdatedAt), formatTime(e.LastSeenAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("entity %s already exists", e.Slug)
			}
			return wrapDBError("failed to insert entity", err)
		}

		for _, h := range e.Handles {
			if err := addHandle(ctx, tx, e.Slug, h.Kind, h.Value); err != nil {
				return err
			}
		}
		for _, alias := range e.Aliases {
			if err := addAlias(ctx, tx, e.Slug, alias); err != nil {
				return err
			}
		}
		return nil
	})
}

// requireActive returns ErrNotFound or ErrEntityInactive for slugs that
// cannot be modified.
func requireActive(ctx context.Context, q querier, slug string) (*types.Entity, error) {
	e, err := getEntity(ctx, q, slug)
	if err != nil {
		return nil, err
	}
	if !e.IsActive() {
		return nil, fmt.Errorf("entity %s is %s: %w", slug, e.State, storage.ErrEntityInactive)
	}
	return e, nil
}

// ConfirmEntity flips a candidate to canonical. Confirming a canonical
// entity is a no-op.
func (s *SQLiteStorage) ConfirmEntity(ctx context.Context, slug string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := requireActive(ctx, tx, slug); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE entities SET is_candidate = 0, updated_at = ? WHERE slug = ? AND is_candidate = 1
		`, formatTime(nowUTC()), slug)
		if err != nil {
			return wrapDBError("failed to confirm entity", err)
		}
		return nil
	})
}

// DeactivateEntity flags an entity inactive. Its row and references stay.
func (s *SQLiteStorage) DeactivateEntity(ctx context.Context, slug string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := requireActive(ctx, tx, slug); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE entities SET status = 'inactive', updated_at = ? WHERE slug = ?
		`, formatTime(nowUTC()), slug)
		if err != nil {
			return wrapDBError("failed to deactivate entity", err)
		}
		return nil
	})
}

// AddAlias records an operator-confirmed alias for an active entity.
func (s *SQLiteStorage) AddAlias(ctx context.Context, slug, alias string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := requireActive(ctx, tx, slug); err != nil {
			return err
		}
		return addAlias(ctx, tx, slug, alias)
	})
}

func addAlias(ctx context.Context, q querier, slug, alias string) error {
	norm := types.NormalizeName(alias)
	if norm == "" {
		return fmt.Errorf("alias must not be empty")
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO entity_aliases (alias_norm, entity_slug, created_at) VALUES (?, ?, ?)
	`, norm, slug, formatTime(nowUTC()))
	if err != nil {
		return wrapDBError("failed to add alias", err)
	}
	return nil
}

// AddHandle attaches a contact handle. A handle belongs to one entity;
// attaching it to a second one is an error.
func (s *SQLiteStorage) AddHandle(ctx context.Context, slug string, kind types.HandleKind, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := requireActive(ctx, tx, slug); err != nil {
			return err
		}
		return addHandle(ctx, tx, slug, kind, value)
	})
}

func addHandle(ctx context.Context, q querier, slug string, kind types.HandleKind, value string) error {
	if !kind.IsValid() {
		return fmt.Errorf("invalid handle kind %q", kind)
	}
	norm := types.NormalizeHandle(kind, value)
	if norm == "" {
		return fmt.Errorf("handle value must not be empty")
	}

	var owner string
	err := q.QueryRowContext(ctx, `
		SELECT entity_slug FROM entity_handles WHERE kind = ? AND value_norm = ?
	`, string(kind), norm).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return wrapDBError("failed to check handle", err)
	case owner == slug:
		return nil
	default:
		return fmt.Errorf("handle %s:%s already belongs to %s", kind, norm, owner)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO entity_handles (kind, value_norm, entity_slug, created_at) VALUES (?, ?, ?, ?)
	`, string(kind), norm, slug, formatTime(nowUTC()))
	if err != nil {
		return wrapDBError("failed to add handle", err)
	}
	return nil
}

// TouchEntity moves last_seen_at forward to at. It never moves it back.
func (s *SQLiteStorage) TouchEntity(ctx context.Context, slug string, at time.Time) error {
	return touchEntity(ctx, s.db, slug, at)
}

func touchEntity(ctx context.Context, q querier, slug string, at time.Time) error {
	ts := formatTime(at)
	_, err := q.ExecContext(ctx, `
		UPDATE entities SET last_seen_at = ? WHERE slug = ? AND last_seen_at < ?
	`, ts, slug, ts)
	if err != nil {
		return wrapDBError("failed to touch entity", err)
	}
	return nil
}
