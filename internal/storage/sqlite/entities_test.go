package sqlite

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/types"
)

func TestCreateCandidateIsIdempotentPerMention(t *testing.T) {
	env := newTestEnv(t)

	first, created, err := env.Store.CreateCandidate(env.Ctx, storage.CandidateRequest{
		BaseSlug: "alex-chen", DisplayName: "Alex Chen", MentionNorm: "alex chen",
	})
	if err != nil {
		t.Fatalf("CreateCandidate failed: %v", err)
	}
	if !created {
		t.Error("first call should create")
	}
	if first.Slug != "alex-chen" || first.Kind() != types.Candidate {
		t.Errorf("got %s (%s), want candidate alex-chen", first.Slug, first.Kind())
	}

	second, created, err := env.Store.CreateCandidate(env.Ctx, storage.CandidateRequest{
		BaseSlug: "alex-chen", DisplayName: "Alex Chen", MentionNorm: "alex chen",
	})
	if err != nil {
		t.Fatalf("CreateCandidate failed: %v", err)
	}
	if created {
		t.Error("second call for the same mention should not create")
	}
	if second.Slug != first.Slug {
		t.Errorf("second slug = %s, want %s", second.Slug, first.Slug)
	}
}

func TestCreateCandidateSuffixesCollidingSlugs(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen")

	got := env.Candidate("alex-chen", "Alex  CHEN (Acme)")
	if got.Slug != "alex-chen-2" {
		t.Errorf("slug = %s, want alex-chen-2", got.Slug)
	}
	got = env.Candidate("alex-chen", "alex chen, acme")
	if got.Slug != "alex-chen-3" {
		t.Errorf("slug = %s, want alex-chen-3", got.Slug)
	}
}

func TestCreateCandidateConcurrentSameMention(t *testing.T) {
	env := newTestEnv(t)

	const workers = 8
	slugs := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, _, err := env.Store.CreateCandidate(env.Ctx, storage.CandidateRequest{
				BaseSlug: "sam-lee", DisplayName: "Sam Lee", MentionNorm: "sam lee",
			})
			errs[i] = err
			if e != nil {
				slugs[i] = e.Slug
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if slugs[i] != "sam-lee" {
			t.Errorf("worker %d got %s, want sam-lee", i, slugs[i])
		}
	}

	var n int
	if err := env.Store.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("entities = %d, want 1", n)
	}
}

func TestFindCanonicalByNameSkipsCandidatesAndInactive(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen")
	env.Candidate("alex-chen", "Alex Chen")
	env.Canonical("alex-chen-acme", "Alex Chen")
	if err := env.Store.DeactivateEntity(env.Ctx, "alex-chen-acme"); err != nil {
		t.Fatalf("DeactivateEntity failed: %v", err)
	}

	found, err := env.Store.FindCanonicalByName(env.Ctx, "alex chen")
	if err != nil {
		t.Fatalf("FindCanonicalByName failed: %v", err)
	}
	if len(found) != 1 || found[0].Slug != "alex-chen" {
		t.Fatalf("found %v, want only alex-chen", found)
	}
}

func TestHandlesAndAliases(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen")
	env.Canonical("sam-lee", "Sam Lee")

	if err := env.Store.AddHandle(env.Ctx, "alex-chen", types.HandleTelegram, "@AlexC"); err != nil {
		t.Fatalf("AddHandle failed: %v", err)
	}
	// Re-adding the same handle is a no-op.
	if err := env.Store.AddHandle(env.Ctx, "alex-chen", types.HandleTelegram, "alexc"); err != nil {
		t.Fatalf("AddHandle repeat failed: %v", err)
	}
	if err := env.Store.AddHandle(env.Ctx, "sam-lee", types.HandleTelegram, "alexc"); err == nil {
		t.Error("expected error attaching a handle owned by another entity")
	}

	found, err := env.Store.FindEntitiesByHandle(env.Ctx, types.HandleTelegram, "@alexc")
	if err != nil {
		t.Fatalf("FindEntitiesByHandle failed: %v", err)
	}
	if len(found) != 1 || found[0].Slug != "alex-chen" {
		t.Fatalf("found %v, want alex-chen", found)
	}

	if err := env.Store.AddAlias(env.Ctx, "alex-chen", "AC"); err != nil {
		t.Fatalf("AddAlias failed: %v", err)
	}
	byAlias, err := env.Store.FindEntitiesByAlias(env.Ctx, "ac")
	if err != nil {
		t.Fatalf("FindEntitiesByAlias failed: %v", err)
	}
	if len(byAlias) != 1 || byAlias[0].Slug != "alex-chen" {
		t.Fatalf("byAlias %v, want alex-chen", byAlias)
	}

	ent := env.Entity("alex-chen")
	if len(ent.Handles) != 1 || ent.Handles[0].Value != "alexc" {
		t.Errorf("handles = %v", ent.Handles)
	}
	if len(ent.Aliases) != 1 || ent.Aliases[0] != "ac" {
		t.Errorf("aliases = %v", ent.Aliases)
	}
}

func TestConfirmAndDeactivate(t *testing.T) {
	env := newTestEnv(t)
	env.Candidate("jo-park", "Jo Park")

	if err := env.Store.ConfirmEntity(env.Ctx, "jo-park"); err != nil {
		t.Fatalf("ConfirmEntity failed: %v", err)
	}
	if got := env.Entity("jo-park").Kind(); got != types.Canonical {
		t.Errorf("kind = %s, want canonical", got)
	}

	if err := env.Store.DeactivateEntity(env.Ctx, "jo-park"); err != nil {
		t.Fatalf("DeactivateEntity failed: %v", err)
	}
	if got := env.Entity("jo-park").State; got != types.StateInactive {
		t.Errorf("state = %s, want inactive", got)
	}

	err := env.Store.ConfirmEntity(env.Ctx, "jo-park")
	if !errors.Is(err, storage.ErrEntityInactive) {
		t.Errorf("confirm inactive: expected ErrEntityInactive, got %v", err)
	}
	err = env.Store.DeactivateEntity(env.Ctx, "nobody")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deactivate unknown: expected ErrNotFound, got %v", err)
	}
}

func TestTouchEntityOnlyMovesForward(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen")

	later := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	if err := env.Store.TouchEntity(env.Ctx, "alex-chen", later); err != nil {
		t.Fatalf("TouchEntity failed: %v", err)
	}
	if err := env.Store.TouchEntity(env.Ctx, "alex-chen", later.Add(-72*time.Hour)); err != nil {
		t.Fatalf("TouchEntity failed: %v", err)
	}
	if got := env.Entity("alex-chen").LastSeenAt; !got.Equal(later) {
		t.Errorf("last_seen_at = %v, want %v", got, later)
	}
}

func TestListEntitiesFilters(t *testing.T) {
	env := newTestEnv(t)
	env.Canonical("alex-chen", "Alex Chen")
	env.Candidate("sam-lee", "Sam Lee")
	env.Candidate("jo-park", "Jo Park")
	if err := env.Store.DeactivateEntity(env.Ctx, "jo-park"); err != nil {
		t.Fatalf("DeactivateEntity failed: %v", err)
	}

	candidate := types.Candidate
	got, err := env.Store.ListEntities(env.Ctx, storage.EntityFilter{Kind: &candidate})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(got) != 1 || got[0].Slug != "sam-lee" {
		t.Errorf("active candidates = %v, want [sam-lee]", got)
	}

	all, err := env.Store.ListEntities(env.Ctx, storage.EntityFilter{IncludeInactive: true})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d entities, want 3", len(all))
	}
}
