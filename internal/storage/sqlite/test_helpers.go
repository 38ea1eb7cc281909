package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

// testEnv provides a test environment with common setup and helpers.
// Use newTestEnv(t) to create a test environment with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Store *SQLiteStorage
	Ctx   context.Context
}

// newTestEnv creates a new test environment with a configured store.
// The store is automatically cleaned up when the test completes.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newTestStore(t, "")
	return &testEnv{
		t:     t,
		Store: store,
		Ctx:   context.Background(),
	}
}

// Canonical creates an active canonical person.
func (e *testEnv) Canonical(slug, name string) *types.Entity {
	e.t.Helper()
	ent := types.NewCanonical(slug, name, types.EntityPerson)
	if err := e.Store.CreateEntity(e.Ctx, ent); err != nil {
		e.t.Fatalf("CreateEntity(%s) failed: %v", slug, err)
	}
	return ent
}

// Candidate creates a candidate for a raw mention.
func (e *testEnv) Candidate(baseSlug, name string) *types.Entity {
	e.t.Helper()
	ent, _, err := e.Store.CreateCandidate(e.Ctx, storage.CandidateRequest{
		BaseSlug:    baseSlug,
		DisplayName: name,
		MentionNorm: types.NormalizeName(name),
		Type:        types.EntityPerson,
	})
	if err != nil {
		e.t.Fatalf("CreateCandidate(%s) failed: %v", name, err)
	}
	return ent
}

// Item builds an item with full provenance owned by owner.
func (e *testEnv) Item(owner, span, text string) *types.ExtractedItem {
	return &types.ExtractedItem{
		Type:        types.ItemActionItem,
		Text:        text,
		OwnerSlug:   owner,
		SourceType:  types.SourceCall,
		SourcePath:  "calls/2024-05-01-acme.md",
		SourceQuote: "I will send the revised pricing proposal over to the Acme team by Friday afternoon",
		SourceSpan:  span,
		TrustLevel:  types.TrustHigh,
		TrustReason: types.ReasonVerified,
		OccurredAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

// Insert stores an item and fails the test on error.
func (e *testEnv) Insert(it *types.ExtractedItem) *storage.InsertOutcome {
	e.t.Helper()
	out, err := e.Store.InsertItem(e.Ctx, it)
	if err != nil {
		e.t.Fatalf("InsertItem failed: %v", err)
	}
	return out
}

// Entity reloads an entity by slug.
func (e *testEnv) Entity(slug string) *types.Entity {
	e.t.Helper()
	ent, err := e.Store.GetEntity(e.Ctx, slug)
	if err != nil {
		e.t.Fatalf("GetEntity(%s) failed: %v", slug, err)
	}
	return ent
}

// Actionable collects ScanActionableItems results.
func (e *testEnv) Actionable(filter types.ItemFilter) []*types.ExtractedItem {
	e.t.Helper()
	var items []*types.ExtractedItem
	err := e.Store.ScanActionableItems(e.Ctx, filter, func(it *types.ExtractedItem) error {
		items = append(items, it)
		return nil
	})
	if err != nil {
		e.t.Fatalf("ScanActionableItems failed: %v", err)
	}
	return items
}

// newTestStore creates a SQLiteStorage backed by a temp file.
//
// File-based databases are used rather than ":memory:" because every
// connection in the pool must see the same database.
func newTestStore(t *testing.T, dbPath string) *SQLiteStorage {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	ctx := context.Background()
	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}
