// Package resolver maps raw person and company mentions to entity slugs.
//
// Resolution tries, in order: a handle match, an exact display-name match
// against active canonical entities, an operator alias, and the mention key
// of an earlier candidate. Only Resolve creates a candidate when all of them
// miss. Name and alias matches must be unique; anything else is reported as
// ambiguous and falls through. Nothing is matched fuzzily.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

// Method says which step of the matching order produced a resolution.
type Method string

const (
	MethodNone          Method = ""
	MethodHandle        Method = "handle"
	MethodCanonicalName Method = "canonical_name"
	MethodAlias         Method = "alias"
	MethodMention       Method = "mention"
	MethodCreated       Method = "created"
)

// ResolveContext carries what the caller knows besides the raw mention.
type ResolveContext struct {
	Handle     string
	HandleKind types.HandleKind
	SourceType types.SourceType

	// EntityType is used only when a candidate is created. Defaults to person.
	EntityType types.EntityType

	// SeenAt stamps last_seen_at on a new candidate.
	SeenAt time.Time
}

// Resolution is the outcome of Resolve or Lookup.
type Resolution struct {
	Slug    string           `json:"slug,omitempty"`
	Method  Method           `json:"method,omitempty"`
	Created bool             `json:"created"`
	Kind    types.EntityKind `json:"-"`

	// Ambiguous lists the entities a name or alias matched equally well.
	Ambiguous []string `json:"ambiguous,omitempty"`
}

// Resolved reports whether the mention mapped to an entity.
func (r Resolution) Resolved() bool { return r.Slug != "" }

// IsCanonical reports whether the mention resolved to a canonical entity.
func (r Resolution) IsCanonical() bool {
	if !r.Resolved() {
		return false
	}
	switch r.Kind {
	case types.Canonical:
		return true
	case types.Candidate:
		return false
	}
	return false
}

// Degradation returns types.ErrResolutionAmbiguous when the resolution had
// to skip an ambiguous match, nil otherwise.
func (r Resolution) Degradation() error {
	if len(r.Ambiguous) > 0 {
		return fmt.Errorf("%w: %s", types.ErrResolutionAmbiguous, strings.Join(r.Ambiguous, ", "))
	}
	return nil
}

// Resolver resolves mentions against a store.
type Resolver struct {
	store  storage.Storage
	logger *slog.Logger
}

// New returns a resolver. A nil logger discards output.
func New(store storage.Storage, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve maps raw to an entity, creating a candidate when nothing matches.
// Calling it again with the same raw string returns the same slug.
func (r *Resolver) Resolve(ctx context.Context, raw string, rc ResolveContext) (Resolution, error) {
	res, err := r.Lookup(ctx, raw, rc)
	if err != nil || res.Resolved() {
		return res, err
	}

	name := strings.TrimSpace(raw)
	if name == "" {
		name = strings.TrimSpace(rc.Handle)
	}
	if name == "" {
		return res, fmt.Errorf("%w: empty mention", types.ErrInvalidPayload)
	}

	ent, created, err := r.store.CreateCandidate(ctx, storage.CandidateRequest{
		BaseSlug:    Slugify(name),
		DisplayName: name,
		MentionNorm: types.NormalizeName(name),
		Type:        rc.EntityType,
		SeenAt:      rc.SeenAt,
	})
	if err != nil {
		return res, fmt.Errorf("failed to create candidate for %q: %w", name, err)
	}

	res.Slug = ent.Slug
	res.Kind = ent.Kind()
	res.Created = created
	res.Method = MethodCreated
	if !created {
		// Another writer recorded the mention key first.
		res.Method = MethodMention
	}
	if created {
		r.logger.Info("created candidate entity", "slug", ent.Slug, "mention", name, "source", rc.SourceType)
	}
	return res, nil
}

// Lookup runs the matching order without ever creating a candidate. An
// unresolved mention is not an error: the result has an empty Slug.
func (r *Resolver) Lookup(ctx context.Context, raw string, rc ResolveContext) (Resolution, error) {
	var res Resolution

	ent, ambiguous, err := r.matchHandle(ctx, raw, rc)
	if err != nil {
		return res, err
	}
	res.Ambiguous = append(res.Ambiguous, ambiguous...)
	if ent != nil {
		return r.found(res, ent, MethodHandle, raw), nil
	}

	nameNorm := types.NormalizeName(raw)
	if nameNorm == "" {
		return res, nil
	}

	byName, err := r.store.FindCanonicalByName(ctx, nameNorm)
	if err != nil {
		return res, fmt.Errorf("failed to match canonical name: %w", err)
	}
	if len(byName) == 1 {
		return r.found(res, byName[0], MethodCanonicalName, raw), nil
	}
	res.Ambiguous = append(res.Ambiguous, slugs(byName)...)

	byAlias, err := r.store.FindEntitiesByAlias(ctx, nameNorm)
	if err != nil {
		return res, fmt.Errorf("failed to match alias: %w", err)
	}
	if len(byAlias) == 1 {
		return r.found(res, byAlias[0], MethodAlias, raw), nil
	}
	res.Ambiguous = append(res.Ambiguous, slugs(byAlias)...)

	mentioned, err := r.store.LookupMention(ctx, nameNorm)
	if err != nil {
		return res, fmt.Errorf("failed to look up mention: %w", err)
	}
	if mentioned != nil {
		return r.found(res, mentioned, MethodMention, raw), nil
	}

	if len(res.Ambiguous) > 0 {
		r.logger.Debug("ambiguous mention", "mention", raw, "matches", res.Ambiguous)
	}
	return res, nil
}

func (r *Resolver) found(res Resolution, ent *types.Entity, m Method, raw string) Resolution {
	res.Slug = ent.Slug
	res.Kind = ent.Kind()
	res.Method = m
	r.logger.Debug("resolved mention", "mention", raw, "slug", ent.Slug, "method", m)
	return res
}

// matchHandle tries the explicit handle, then raw itself when it looks like
// an email address or an @handle.
func (r *Resolver) matchHandle(ctx context.Context, raw string, rc ResolveContext) (*types.Entity, []string, error) {
	keys := handleKeys(raw, rc)
	if len(keys) == 0 {
		return nil, nil, nil
	}

	seen := make(map[string]*types.Entity)
	var order []string
	for _, k := range keys {
		ents, err := r.store.FindEntitiesByHandle(ctx, k.kind, k.value)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to match handle: %w", err)
		}
		for _, e := range ents {
			if !e.IsActive() {
				continue
			}
			if _, ok := seen[e.Slug]; !ok {
				seen[e.Slug] = e
				order = append(order, e.Slug)
			}
		}
	}
	switch len(order) {
	case 0:
		return nil, nil, nil
	case 1:
		return seen[order[0]], nil, nil
	}
	return nil, order, nil
}

type handleKey struct {
	kind  types.HandleKind
	value string
}

func handleKeys(raw string, rc ResolveContext) []handleKey {
	if h := strings.TrimSpace(rc.Handle); h != "" {
		if rc.HandleKind != "" {
			return []handleKey{{rc.HandleKind, h}}
		}
		return inferHandle(h, rc.SourceType)
	}
	return inferHandle(strings.TrimSpace(raw), rc.SourceType)
}

// inferHandle recognises bare email addresses and @handles. An @handle is
// tried on the platform it came from, or on every chat platform when the
// source does not say.
func inferHandle(s string, source types.SourceType) []handleKey {
	if s == "" || strings.ContainsAny(s, " \t") {
		return nil
	}
	if strings.HasPrefix(s, "@") && len(s) > 1 {
		if source == types.SourceTelegram {
			return []handleKey{{types.HandleTelegram, s}}
		}
		return []handleKey{{types.HandleTelegram, s}, {types.HandleSlack, s}}
	}
	if addr, err := mail.ParseAddress(s); err == nil && addr.Address == s {
		return []handleKey{{types.HandleEmail, s}}
	}
	return nil
}

func slugs(ents []*types.Entity) []string {
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.Slug)
	}
	return out
}
