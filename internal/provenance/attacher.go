package provenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/untoldecay/ctxgraph/internal/resolver"
	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
	"github.com/untoldecay/ctxgraph/internal/validation"
)

// ErrSuperseded is returned when backfilling an item that a re-extraction
// already replaced.
var ErrSuperseded = errors.New("item superseded")

// RecordResult describes a recorded (or backfilled) item.
type RecordResult struct {
	ItemID      string           `json:"item_id"`
	TrustLevel  types.TrustLevel `json:"trust_level"`
	TrustReason string           `json:"trust_reason"`
	OwnerSlug   string           `json:"owner_slug"`
	TargetSlug  string           `json:"target_slug,omitempty"`
	DealSlug    string           `json:"deal_slug,omitempty"`

	// OwnerCreated is true when recording created a candidate for the owner.
	OwnerCreated bool `json:"owner_created,omitempty"`

	// Degradations explain a lowered trust. They wrap
	// types.ErrProvenanceIncomplete or types.ErrResolutionAmbiguous.
	Degradations []error `json:"-"`

	QuoteTruncated bool     `json:"quote_truncated,omitempty"`
	Duplicate      bool     `json:"duplicate,omitempty"`
	Superseded     []string `json:"superseded,omitempty"`
}

// Actionable reports whether the recorded item passes the actionable gate.
func (r *RecordResult) Actionable() bool {
	if r.TrustLevel.Rank() < types.TrustMedium.Rank() {
		return false
	}
	for _, d := range r.Degradations {
		if errors.Is(d, types.ErrProvenanceIncomplete) {
			return false
		}
	}
	return true
}

// Attacher persists extracted items with provenance and trust.
type Attacher struct {
	store    storage.Storage
	resolver *resolver.Resolver
	logger   *slog.Logger
}

// New returns an attacher. A nil logger discards output.
func New(store storage.Storage, res *resolver.Resolver, logger *slog.Logger) *Attacher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Attacher{store: store, resolver: res, logger: logger}
}

// Origin says where an indexed item came from.
type Origin struct {
	InteractionID string
	// ExtractionKey identifies one extraction of one file version. Items
	// with a key supersede same-span items of earlier keys.
	ExtractionKey string
}

// Record validates p, resolves its owner and target, computes trust and
// stores the item. Re-recording an identical payload returns the existing id.
// Items recorded this way never supersede others.
func (a *Attacher) Record(ctx context.Context, p *types.ItemPayload) (*RecordResult, error) {
	return a.RecordFrom(ctx, p, Origin{})
}

// RecordFrom is Record for an item extracted from a known interaction.
func (a *Attacher) RecordFrom(ctx context.Context, p *types.ItemPayload, origin Origin) (*RecordResult, error) {
	if err := validation.ValidatePayload(p); err != nil {
		return nil, err
	}

	var occurred time.Time
	if p.OccurredAt != nil {
		occurred = p.OccurredAt.UTC()
	}

	owner, err := a.resolver.Resolve(ctx, p.OwnerRaw, resolver.ResolveContext{
		Handle:     p.OwnerHandle,
		HandleKind: p.OwnerHandleKind,
		SourceType: p.SourceType,
		SeenAt:     occurred,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner: %w", err)
	}

	res := &RecordResult{OwnerSlug: owner.Slug, OwnerCreated: owner.Created}
	if d := owner.Degradation(); d != nil {
		res.Degradations = append(res.Degradations, fmt.Errorf("owner: %w", d))
	}

	ev := Evidence{OwnerCanonical: owner.IsCanonical()}
	targetName := strings.TrimSpace(p.TargetRaw)
	if targetName != "" {
		ev.TargetNamed = true
		target, err := a.resolver.Lookup(ctx, targetName, resolver.ResolveContext{SourceType: p.SourceType})
		if err != nil {
			return nil, fmt.Errorf("failed to look up target: %w", err)
		}
		if d := target.Degradation(); d != nil {
			res.Degradations = append(res.Degradations, fmt.Errorf("target: %w", d))
		}
		if target.Resolved() {
			ev.TargetResolved = true
			ev.TargetCanonical = target.IsCanonical()
			res.TargetSlug = target.Slug
		}
	}

	quote, reason, truncated := NormalizeQuote(p.SourceQuote)
	res.QuoteTruncated = truncated
	ev.QuotePresent = quote != ""
	ev.QuoteTooShort = reason == types.ReasonQuoteTooShort
	if reason != "" {
		res.Degradations = append(res.Degradations, fmt.Errorf("%w: %s", types.ErrProvenanceIncomplete, reason))
	}
	path := strings.TrimSpace(p.SourcePath)
	ev.PathPresent = path != ""
	if !ev.PathPresent {
		res.Degradations = append(res.Degradations, fmt.Errorf("%w: %s", types.ErrProvenanceIncomplete, types.ReasonPathMissing))
	}

	res.TrustLevel, res.TrustReason = ComputeTrust(ev)

	res.DealSlug, err = a.linkDeal(ctx, p.DealSlugHint, res.TargetSlug)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		text = quote
	}
	item := &types.ExtractedItem{
		Type:            p.Type,
		Text:            text,
		OwnerSlug:       owner.Slug,
		TargetSlug:      res.TargetSlug,
		TargetName:      targetName,
		DealSlug:        res.DealSlug,
		InteractionID:   origin.InteractionID,
		SourceType:      p.SourceType,
		SourcePath:      path,
		SourceMessageID: strings.TrimSpace(p.SourceMessageID),
		SourceQuote:     quote,
		SourceSpan:      strings.TrimSpace(p.SourceSpan),
		TrustLevel:      res.TrustLevel,
		TrustReason:     res.TrustReason,
		ContentHash:     p.ContentHash(),
		OccurredAt:      occurred,
		ExtractionKey:   origin.ExtractionKey,
	}

	outcome, err := a.store.InsertItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to record item: %w", err)
	}
	res.ItemID = outcome.ID
	res.Duplicate = outcome.Duplicate
	res.Superseded = outcome.Superseded

	if outcome.Duplicate {
		// The stored copy may have been upgraded since it was first recorded.
		stored, err := a.store.GetItem(ctx, outcome.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing item: %w", err)
		}
		res.TrustLevel, res.TrustReason = stored.TrustLevel, stored.TrustReason
		res.TargetSlug, res.DealSlug = stored.TargetSlug, stored.DealSlug
	}

	a.logger.Debug("recorded item",
		"id", res.ItemID, "type", p.Type, "owner", res.OwnerSlug,
		"trust", res.TrustLevel, "reason", res.TrustReason,
		"duplicate", res.Duplicate, "superseded", res.Superseded)
	return res, nil
}

// linkDeal picks the deal for an item: the hinted deal when it exists,
// otherwise the deal of the target's company.
func (a *Attacher) linkDeal(ctx context.Context, hint, targetSlug string) (string, error) {
	if hint != "" {
		d, err := a.store.GetDeal(ctx, hint)
		switch {
		case err == nil:
			return d.Slug, nil
		case errors.Is(err, storage.ErrNotFound):
			a.logger.Debug("deal hint names no deal", "hint", hint)
		default:
			return "", fmt.Errorf("failed to look up deal %s: %w", hint, err)
		}
	}
	if targetSlug == "" {
		return "", nil
	}
	d, err := a.store.FindDealByCompany(ctx, targetSlug)
	switch {
	case err == nil:
		return d.Slug, nil
	case errors.Is(err, storage.ErrNotFound):
		return "", nil
	}
	return "", fmt.Errorf("failed to look up deal for %s: %w", targetSlug, err)
}
