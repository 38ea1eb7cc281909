package resolver

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/storage/sqlite"
	"github.com/untoldecay/ctxgraph/internal/types"
)

type testEnv struct {
	t        *testing.T
	Store    *sqlite.SQLiteStorage
	Resolver *Resolver
	Ctx      context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &testEnv{t: t, Store: store, Resolver: New(store, nil), Ctx: ctx}
}

func (e *testEnv) Canonical(slug, name string, handles ...types.Handle) {
	e.t.Helper()
	ent := types.NewCanonical(slug, name, types.EntityPerson)
	ent.Handles = handles
	if err := e.Store.CreateEntity(e.Ctx, ent); err != nil {
		e.t.Fatalf("CreateEntity(%s) failed: %v", slug, err)
	}
}

func (e *testEnv) Resolve(raw string, rc ResolveContext) Resolution {
	e.t.Helper()
	res, err := e.Resolver.Resolve(e.Ctx, raw, rc)
	if err != nil {
		e.t.Fatalf("Resolve(%q) failed: %v", raw, err)
	}
	return res
}

func TestResolveCreatesCandidateOnce(t *testing.T) {
	env := newTestEnv(t)

	first := env.Resolve("Alex Chen", ResolveContext{SourceType: types.SourceCall})
	if first.Slug != "alex-chen" || !first.Created || first.Method != MethodCreated {
		t.Fatalf("first resolution = %+v", first)
	}
	if first.Kind != types.Candidate {
		t.Errorf("kind = %s, want candidate", first.Kind)
	}

	second := env.Resolve("  alex   CHEN ", ResolveContext{})
	if second.Slug != "alex-chen" || second.Created || second.Method != MethodMention {
		t.Errorf("second resolution = %+v", second)
	}

	list, err := env.Store.ListEntities(env.Ctx, storage.EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("entities = %d, want 1", len(list))
	}
}

func TestResolveMatchingOrder(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen", types.Handle{Kind: types.HandleEmail, Value: "alex@acme.com"})
	env.Canonical("sam-lee", "Sam Lee", types.Handle{Kind: types.HandleTelegram, Value: "@samlee"})
	if err := env.Resolver.AddAlias(env.Ctx, "alex-chen", "AC"); err != nil {
		t.Fatalf("AddAlias failed: %v", err)
	}

	tests := []struct {
		name   string
		raw    string
		rc     ResolveContext
		slug   string
		method Method
	}{
		{"canonical name ignores case", "ALEX chen", ResolveContext{}, "alex-chen", MethodCanonicalName},
		{"raw email", "Alex@Acme.com", ResolveContext{}, "alex-chen", MethodHandle},
		{"explicit handle wins over name", "Sam", ResolveContext{Handle: "alex@acme.com", HandleKind: types.HandleEmail}, "alex-chen", MethodHandle},
		{"raw @handle", "@SamLee", ResolveContext{SourceType: types.SourceTelegram}, "sam-lee", MethodHandle},
		{"alias", "ac", ResolveContext{}, "alex-chen", MethodAlias},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.Resolve(tt.raw, tt.rc)
			if res.Slug != tt.slug || res.Method != tt.method {
				t.Errorf("Resolve(%q) = %s via %s, want %s via %s", tt.raw, res.Slug, res.Method, tt.slug, tt.method)
			}
			if res.Created || !res.IsCanonical() {
				t.Errorf("unexpected resolution %+v", res)
			}
		})
	}
}

func TestResolveAmbiguousCanonicalNames(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("jordan-smith", "Jordan Smith")
	env.Canonical("jordan-smith-acme", "Jordan Smith")

	res := env.Resolve("Jordan Smith", ResolveContext{})
	if !res.Created || res.Kind != types.Candidate {
		t.Fatalf("expected a new candidate, got %+v", res)
	}
	if len(res.Ambiguous) != 2 {
		t.Errorf("ambiguous = %v, want both canonical slugs", res.Ambiguous)
	}
	if !errors.Is(res.Degradation(), types.ErrResolutionAmbiguous) {
		t.Errorf("Degradation() = %v", res.Degradation())
	}
	if res.Slug != "jordan-smith-2" {
		t.Errorf("slug = %s, want jordan-smith-2", res.Slug)
	}

	again := env.Resolve("Jordan Smith", ResolveContext{})
	if again.Slug != res.Slug || again.Created {
		t.Errorf("second resolution = %+v, want reuse of %s", again, res.Slug)
	}
}

func TestLookupNeverCreates(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Resolver.Lookup(env.Ctx, "Dana Fox", ResolveContext{})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if res.Resolved() {
		t.Fatalf("Lookup resolved an unknown name: %+v", res)
	}
	list, _ := env.Store.ListEntities(env.Ctx, storage.EntityFilter{IncludeInactive: true})
	if len(list) != 0 {
		t.Errorf("Lookup created %d entities", len(list))
	}
}

func TestResolveFollowsMerge(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen")
	cand := env.Resolve("Alex C.", ResolveContext{})
	if !cand.Created {
		t.Fatalf("expected candidate, got %+v", cand)
	}

	if _, err := env.Resolver.Merge(env.Ctx, cand.Slug, "alex-chen"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	res := env.Resolve("Alex C.", ResolveContext{})
	if res.Slug != "alex-chen" || res.Created || res.Kind != types.Canonical {
		t.Errorf("after merge = %+v, want alex-chen", res)
	}
}

func TestResolveSkipsInactiveHandleOwner(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("old-alex", "Alex (old)", types.Handle{Kind: types.HandleEmail, Value: "alex@acme.com"})
	if err := env.Resolver.Deactivate(env.Ctx, "old-alex"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	res := env.Resolve("alex@acme.com", ResolveContext{})
	if res.Slug == "old-alex" {
		t.Errorf("resolved to an inactive entity")
	}
}

func TestResolveConcurrentSameMention(t *testing.T) {
	env := newTestEnv(t)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		slugSet = map[string]bool{}
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.Resolver.Resolve(env.Ctx, "Priya Raman", ResolveContext{})
			if err != nil {
				t.Errorf("Resolve failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			slugSet[res.Slug] = true
			if res.Created {
				created++
			}
		}()
	}
	wg.Wait()

	if len(slugSet) != 1 || created != 1 {
		t.Errorf("slugs = %v, created = %d; want one slug created once", slugSet, created)
	}
}

func TestResolveEmptyMention(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Resolver.Resolve(env.Ctx, "   ", ResolveContext{})
	if !errors.Is(err, types.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestOperatorValidation(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen")

	if err := env.Resolver.AddAlias(env.Ctx, "alex-chen", "  "); !errors.Is(err, types.ErrInvalidPayload) {
		t.Errorf("AddAlias(blank) = %v", err)
	}
	if err := env.Resolver.AddHandle(env.Ctx, "alex-chen", "fax", "123"); !errors.Is(err, types.ErrInvalidPayload) {
		t.Errorf("AddHandle(bad kind) = %v", err)
	}
	if err := env.Resolver.Confirm(env.Ctx, "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Confirm(unknown) = %v", err)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Alex Chen", "alex-chen"},
		{"  Alex   Chen  ", "alex-chen"},
		{"José Núñez", "jose-nunez"},
		{"O'Brien & Sons, Inc.", "o-brien-sons-inc"},
		{"alex@acme.com", "alex-acme-com"},
		{"R2-D2", "r2-d2"},
		{"东京", fallbackSlug},
		{"", fallbackSlug},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
