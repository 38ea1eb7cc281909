package queries

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// NameSuggestion is an entity that may be what a mention meant.
type NameSuggestion struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Distance int    `json:"distance"` // -1 for substring and fuzzy matches
	Reason   string `json:"reason"`   // "substring", "typo" or "fuzzy"
}

// SuggestNames finds active entities a term that resolved to nothing may
// have meant: substring matches first, then the closest name within two
// edits, then fuzzy subsequence matches.
func SuggestNames(ctx context.Context, db *sql.DB, term string, limit int) ([]NameSuggestion, error) {
	term = types.NormalizeName(term)
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	entities, err := loadActiveEntities(ctx, db)
	if err != nil {
		return nil, err
	}

	var out []NameSuggestion
	for _, e := range entities {
		if matchesAny(e.Norms, func(n string) bool { return strings.Contains(n, term) }) {
			out = append(out, NameSuggestion{Slug: e.Slug, Name: e.Name, Distance: -1, Reason: "substring"})
		}
	}
	if len(out) > 0 {
		sort.SliceStable(out, func(i, j int) bool { return len(out[i].Name) < len(out[j].Name) })
		return capped(out, limit), nil
	}

	var (
		closest *namedEntity
		minDist = DefaultMaxDistance + 1
	)
	for _, e := range entities {
		for _, n := range e.Norms {
			if d := levenshtein.ComputeDistance(term, n); d < minDist {
				closest, minDist = e, d
			}
		}
	}
	if closest != nil {
		return []NameSuggestion{{Slug: closest.Slug, Name: closest.Name, Distance: minDist, Reason: "typo"}}, nil
	}

	for _, e := range entities {
		if matchesAny(e.Norms, func(n string) bool { return fuzzy.MatchFold(term, n) }) {
			out = append(out, NameSuggestion{Slug: e.Slug, Name: e.Name, Distance: -1, Reason: "fuzzy"})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return capped(out, limit), nil
}

func matchesAny(norms []string, match func(string) bool) bool {
	for _, n := range norms {
		if match(n) {
			return true
		}
	}
	return false
}

func capped(s []NameSuggestion, n int) []NameSuggestion {
	if len(s) > n {
		return s[:n]
	}
	return s
}
