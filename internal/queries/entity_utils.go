// Package queries holds read-only lookups over the entity tables that are
// only shown to operators, such as duplicate suggestions.
package queries

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/agnivade/levenshtein"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// DefaultMaxDistance is the Levenshtein distance under which a candidate is
// suggested as a duplicate.
const DefaultMaxDistance = 2

type namedEntity struct {
	Slug      string
	Name      string
	Type      types.EntityType
	Norms     []string // normalized display name, then aliases
	Seen      string
	Candidate bool
}

// loadActiveEntities reads active entities with their aliases.
func loadActiveEntities(ctx context.Context, db *sql.DB) ([]*namedEntity, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT slug, display_name, name_norm, entity_type, is_candidate, last_seen_at
		FROM entities WHERE status = 'active'
		ORDER BY slug
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*namedEntity
	bySlug := make(map[string]*namedEntity)
	for rows.Next() {
		var (
			e         namedEntity
			norm, typ string
			candidate int
		)
		if err := rows.Scan(&e.Slug, &e.Name, &norm, &typ, &candidate, &e.Seen); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Type = types.EntityType(typ)
		e.Candidate = candidate != 0
		e.Norms = []string{norm}
		out = append(out, &e)
		bySlug[e.Slug] = &e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	aliases, err := db.QueryContext(ctx, `SELECT alias_norm, entity_slug FROM entity_aliases ORDER BY alias_norm`)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer func() { _ = aliases.Close() }()
	for aliases.Next() {
		var alias, slug string
		if err := aliases.Scan(&alias, &slug); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		if e, ok := bySlug[slug]; ok {
			e.Norms = append(e.Norms, alias)
		}
	}
	if err := aliases.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aliases: %w", err)
	}
	return out, nil
}

// SuggestMerges pairs each active candidate with the closest active
// canonical entity of the same type whose name or alias is within
// maxDistance edits. Suggestions are sorted by distance, then candidate
// slug. Nothing is merged.
func SuggestMerges(ctx context.Context, db *sql.DB, maxDistance int) ([]types.MergeSuggestion, error) {
	if maxDistance < 0 {
		maxDistance = DefaultMaxDistance
	}
	entities, err := loadActiveEntities(ctx, db)
	if err != nil {
		return nil, err
	}

	var candidates, canonical []*namedEntity
	for _, e := range entities {
		if e.Candidate {
			candidates = append(candidates, e)
		} else {
			canonical = append(canonical, e)
		}
	}

	var out []types.MergeSuggestion
	for _, c := range candidates {
		var (
			best     *namedEntity
			bestDist = maxDistance + 1
		)
		for _, k := range canonical {
			if k.Type != c.Type {
				continue
			}
			for _, norm := range k.Norms {
				d := levenshtein.ComputeDistance(c.Norms[0], norm)
				// Ties keep the most recently seen entity; canonical is
				// sorted by slug so the result is stable.
				if d < bestDist || (d == bestDist && best != nil && k.Seen > best.Seen) {
					best, bestDist = k, d
				}
			}
		}
		if best == nil {
			continue
		}
		out = append(out, types.MergeSuggestion{
			CandidateSlug: c.Slug,
			CandidateName: c.Name,
			CanonicalSlug: best.Slug,
			CanonicalName: best.Name,
			Distance:      bestDist,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].CandidateSlug < out[j].CandidateSlug
	})
	return out, nil
}
