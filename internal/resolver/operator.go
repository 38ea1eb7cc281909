package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

// Confirm promotes a candidate to a canonical entity.
func (r *Resolver) Confirm(ctx context.Context, slug string) error {
	if err := r.store.ConfirmEntity(ctx, slug); err != nil {
		return fmt.Errorf("failed to confirm %s: %w", slug, err)
	}
	r.logger.Info("confirmed entity", "slug", slug)
	return nil
}

// Merge folds a candidate into a canonical entity in one transaction.
func (r *Resolver) Merge(ctx context.Context, candidateSlug, canonicalSlug string) (*storage.MergeResult, error) {
	res, err := r.store.MergeEntities(ctx, candidateSlug, canonicalSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to merge %s into %s: %w", candidateSlug, canonicalSlug, err)
	}
	r.logger.Info("merged entity",
		"from", res.From, "into", res.Into,
		"owned", res.OwnedItemsMoved, "targeted", res.TargetedItemsMoved,
		"interactions", res.InteractionRefsMoved)
	return res, nil
}

// Deactivate retires an entity. It stays in the store and keeps its history.
func (r *Resolver) Deactivate(ctx context.Context, slug string) error {
	if err := r.store.DeactivateEntity(ctx, slug); err != nil {
		return fmt.Errorf("failed to deactivate %s: %w", slug, err)
	}
	r.logger.Info("deactivated entity", "slug", slug)
	return nil
}

// AddAlias records an operator-confirmed alternative name.
func (r *Resolver) AddAlias(ctx context.Context, slug, alias string) error {
	if types.NormalizeName(alias) == "" {
		return fmt.Errorf("%w: empty alias", types.ErrInvalidPayload)
	}
	if err := r.store.AddAlias(ctx, slug, alias); err != nil {
		return fmt.Errorf("failed to add alias %q to %s: %w", alias, slug, err)
	}
	return nil
}

// AddHandle attaches a platform handle to an entity.
func (r *Resolver) AddHandle(ctx context.Context, slug string, kind types.HandleKind, value string) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: unknown handle kind %q", types.ErrInvalidPayload, kind)
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: empty handle", types.ErrInvalidPayload)
	}
	if err := r.store.AddHandle(ctx, slug, kind, value); err != nil {
		return fmt.Errorf("failed to add %s handle to %s: %w", kind, slug, err)
	}
	return nil
}
