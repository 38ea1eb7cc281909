// Package query is the read side of the graph. Every read runs in one
// read-only snapshot transaction and never writes.
package query

import (
	"context"
	"errors"
	"iter"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// Reader is the part of the store the façade reads from.
type Reader interface {
	ScanActionableItems(ctx context.Context, filter types.ItemFilter, fn func(*types.ExtractedItem) error) error
	ScanTimeline(ctx context.Context, slug string, filter types.TimelineFilter, fn func(types.TimelineEntry) error) error
	GetDealRollup(ctx context.Context, slug string) (*types.DealRollup, error)
}

// errStop ends a scan early when the consumer breaks out of the loop.
var errStop = errors.New("iteration stopped")

// Facade exposes lazy, restartable reads. Each range over a returned
// sequence runs the query again.
type Facade struct {
	store Reader
}

// New returns a façade over store.
func New(store Reader) *Facade {
	return &Facade{store: store}
}

// ActionableItems yields items that pass the actionable gate: trust high or
// medium with both a source path and a source quote. A store failure is
// yielded once as the error and ends the sequence.
func (f *Facade) ActionableItems(ctx context.Context, filter types.ItemFilter) iter.Seq2[*types.ExtractedItem, error] {
	return func(yield func(*types.ExtractedItem, error) bool) {
		err := f.store.ScanActionableItems(ctx, filter, func(it *types.ExtractedItem) error {
			if !it.IsActionable() {
				return nil
			}
			if !yield(it, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(nil, err)
		}
	}
}

// EntityTimeline yields interactions and items for slug, newest first.
// Entities merged into slug contribute their history too.
func (f *Facade) EntityTimeline(ctx context.Context, slug string, filter types.TimelineFilter) iter.Seq2[types.TimelineEntry, error] {
	return func(yield func(types.TimelineEntry, error) bool) {
		err := f.store.ScanTimeline(ctx, slug, filter, func(e types.TimelineEntry) error {
			if !yield(e, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(types.TimelineEntry{}, err)
		}
	}
}

// DealRollup aggregates a deal's interactions, metrics and item counts.
func (f *Facade) DealRollup(ctx context.Context, slug string) (*types.DealRollup, error) {
	return f.store.GetDealRollup(ctx, slug)
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
