package provenance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/untoldecay/ctxgraph/internal/resolver"
	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

// maxUpdateAttempts bounds how often an item update is recomputed after a
// concurrent writer changed the item underneath it.
const maxUpdateAttempts = 5

// Backfill attaches a previously missing quote or path to an item and
// recomputes its trust. Fields that are already set are never replaced or
// cleared, and trust never goes down.
func (a *Attacher) Backfill(ctx context.Context, itemID, quote, path string) (*RecordResult, error) {
	item, err := a.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	truncated := false
	if strings.TrimSpace(quote) != "" {
		q, reason, cut := NormalizeQuote(quote)
		if reason != "" {
			a.logger.Debug("backfill quote rejected", "id", itemID, "reason", reason)
		}
		quote, truncated = q, cut
	}
	fill := provenanceFill{quote: quote, path: strings.TrimSpace(path)}

	res, _, err := a.update(ctx, item, fill, newKindCache(a.store))
	if err != nil {
		return nil, err
	}
	res.QuoteTruncated = truncated && item.SourceQuote == ""
	return res, nil
}

// provenanceFill holds values for provenance fields an item may lack.
type provenanceFill struct {
	quote string
	path  string
}

// update reevaluates item, reloading and retrying when another writer
// changed it between the read and the write.
func (a *Attacher) update(ctx context.Context, item *types.ExtractedItem, fill provenanceFill, kinds *kindCache) (*RecordResult, bool, error) {
	for attempt := 1; ; attempt++ {
		if item.SupersededBy != "" {
			return nil, false, fmt.Errorf("item %s: %w by %s", item.ID, ErrSuperseded, item.SupersededBy)
		}
		res, changed, err := a.reevaluate(ctx, item, fill, kinds)
		if !errors.Is(err, storage.ErrItemChanged) || attempt == maxUpdateAttempts {
			return res, changed, err
		}
		a.logger.Debug("item changed during update, retrying", "id", item.ID, "attempt", attempt)
		if item, err = a.store.GetItem(ctx, item.ID); err != nil {
			return nil, false, err
		}
	}
}

// RecomputeForEntity re-derives trust for the active items owned by or
// targeting slug, typically after it was confirmed or merged into. It
// returns how many items changed.
func (a *Attacher) RecomputeForEntity(ctx context.Context, slug string) (int, error) {
	items, err := a.store.ItemsForEntity(ctx, slug)
	if err != nil {
		return 0, fmt.Errorf("failed to list items for %s: %w", slug, err)
	}
	kinds := newKindCache(a.store)
	changed := 0
	for _, it := range items {
		_, ok, err := a.update(ctx, it, provenanceFill{}, kinds)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	if changed > 0 {
		a.logger.Info("recomputed trust", "entity", slug, "items", changed)
	}
	return changed, nil
}

// ResolveTargets retries target resolution for items that only carry a
// target name, for example after an alias was added. It returns how many
// targets were attached.
func (a *Attacher) ResolveTargets(ctx context.Context) (int, error) {
	items, err := a.store.ItemsWithUnresolvedTarget(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list unresolved targets: %w", err)
	}
	kinds := newKindCache(a.store)
	attached := 0
	for _, it := range items {
		res, _, err := a.update(ctx, it, provenanceFill{}, kinds)
		if err != nil {
			return attached, err
		}
		if res.TargetSlug != "" {
			attached++
		}
	}
	if attached > 0 {
		a.logger.Info("attached resolved targets", "items", attached)
	}
	return attached, nil
}

// reevaluate recomputes trust for stored, filling its missing provenance
// from fill, and writes back what improved. The write fails with
// storage.ErrItemChanged if stored is no longer current. The boolean
// reports whether anything was written.
func (a *Attacher) reevaluate(ctx context.Context, stored *types.ExtractedItem, fill provenanceFill, kinds *kindCache) (*RecordResult, bool, error) {
	item := *stored
	if item.SourceQuote == "" {
		item.SourceQuote = fill.quote
	}
	if item.SourcePath == "" {
		item.SourcePath = fill.path
	}

	res := &RecordResult{
		ItemID:     item.ID,
		OwnerSlug:  item.OwnerSlug,
		TargetSlug: item.TargetSlug,
		DealSlug:   item.DealSlug,
	}

	targetSlug := item.TargetSlug
	if targetSlug == "" && item.TargetName != "" {
		target, err := a.resolver.Lookup(ctx, item.TargetName, resolver.ResolveContext{SourceType: item.SourceType})
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up target: %w", err)
		}
		if d := target.Degradation(); d != nil {
			res.Degradations = append(res.Degradations, fmt.Errorf("target: %w", d))
		}
		targetSlug = target.Slug
	}

	ev := Evidence{
		QuotePresent: item.SourceQuote != "",
		PathPresent:  item.SourcePath != "",
		TargetNamed:  item.TargetName != "" || item.TargetSlug != "",
	}
	if !ev.QuotePresent {
		res.Degradations = append(res.Degradations, fmt.Errorf("%w: %s", types.ErrProvenanceIncomplete, types.ReasonQuoteMissing))
	}
	if !ev.PathPresent {
		res.Degradations = append(res.Degradations, fmt.Errorf("%w: %s", types.ErrProvenanceIncomplete, types.ReasonPathMissing))
	}

	ownerKind, err := kinds.kind(ctx, item.OwnerSlug)
	if err != nil {
		return nil, false, err
	}
	ev.OwnerCanonical = ownerKind == types.Canonical
	if targetSlug != "" {
		targetKind, err := kinds.kind(ctx, targetSlug)
		if err != nil {
			return nil, false, err
		}
		ev.TargetResolved = true
		ev.TargetCanonical = targetKind == types.Canonical
	}

	level, reason := ComputeTrust(ev)
	if level.Rank() < item.TrustLevel.Rank() {
		level, reason = item.TrustLevel, item.TrustReason
	}
	if level == item.TrustLevel && item.TrustReason == types.ReasonQuoteTooShort && reason == types.ReasonQuoteMissing {
		reason = item.TrustReason
	}
	res.TrustLevel, res.TrustReason = level, reason
	res.TargetSlug = targetSlug

	if stored.SourceQuote == item.SourceQuote && stored.SourcePath == item.SourcePath &&
		stored.TargetSlug == targetSlug && stored.TrustLevel == level && stored.TrustReason == reason {
		return res, false, nil
	}

	err = a.store.UpdateItemProvenance(ctx, item.ID, storage.ProvenanceUpdate{
		SourceQuote: item.SourceQuote,
		SourcePath:  item.SourcePath,
		TargetSlug:  targetSlug,
		TrustLevel:  level,
		TrustReason: reason,
		ContentHash: stored.ContentHash,
		Expected:    stored,
	})
	if err != nil {
		return nil, false, err
	}
	a.logger.Debug("updated item provenance", "id", item.ID, "trust", level, "reason", reason)
	return res, true, nil
}

// kindCache memoizes entity kinds during one recompute pass.
type kindCache struct {
	store storage.Storage
	kinds map[string]types.EntityKind
}

func newKindCache(store storage.Storage) *kindCache {
	return &kindCache{store: store, kinds: make(map[string]types.EntityKind)}
}

func (c *kindCache) kind(ctx context.Context, slug string) (types.EntityKind, error) {
	if k, ok := c.kinds[slug]; ok {
		return k, nil
	}
	e, err := c.store.GetEntity(ctx, slug)
	if err != nil {
		return types.Candidate, fmt.Errorf("failed to load entity %s: %w", slug, err)
	}
	c.kinds[slug] = e.Kind()
	return e.Kind(), nil
}
