package sqlite

import (
	"testing"

	"github.com/untoldecay/ctxgraph/internal/types"
)

func TestIndexRunsAndStateVersion(t *testing.T) {
	env := newTestEnv(t)

	last, err := env.Store.LastSuccessfulRun(env.Ctx)
	if err != nil {
		t.Fatalf("LastSuccessfulRun failed: %v", err)
	}
	if last != nil {
		t.Fatalf("fresh store has a successful run: %+v", last)
	}
	if v, err := env.Store.StateVersion(env.Ctx); err != nil || v != 0 {
		t.Fatalf("StateVersion = %d, %v; want 0", v, err)
	}
	if run, v, err := env.Store.RunState(env.Ctx); err != nil || run != nil || v != 0 {
		t.Fatalf("RunState = %+v, %d, %v; want nil, 0", run, v, err)
	}

	id, err := env.Store.BeginRun(env.Ctx)
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if err := env.Store.FinishRun(env.Ctx, &types.IndexRun{ID: id, Status: types.RunFailed, Error: "boom"}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if last, _ := env.Store.LastSuccessfulRun(env.Ctx); last != nil {
		t.Errorf("failed run counted as success: %+v", last)
	}
	if v, _ := env.Store.StateVersion(env.Ctx); v != 0 {
		t.Errorf("state_version after failed run = %d, want 0", v)
	}

	for i := 0; i < 2; i++ {
		id, err := env.Store.BeginRun(env.Ctx)
		if err != nil {
			t.Fatalf("BeginRun failed: %v", err)
		}
		run := &types.IndexRun{ID: id, Status: types.RunSuccess, FilesSeen: 3, ItemsRecorded: i}
		if err := env.Store.FinishRun(env.Ctx, run); err != nil {
			t.Fatalf("FinishRun failed: %v", err)
		}
	}

	last, err = env.Store.LastSuccessfulRun(env.Ctx)
	if err != nil {
		t.Fatalf("LastSuccessfulRun failed: %v", err)
	}
	if last == nil || last.FinishedAt == nil || last.ItemsRecorded != 1 {
		t.Fatalf("last successful run = %+v", last)
	}
	if v, _ := env.Store.StateVersion(env.Ctx); v != 2 {
		t.Errorf("state_version = %d, want 2", v)
	}

	run, version, err := env.Store.RunState(env.Ctx)
	if err != nil {
		t.Fatalf("RunState failed: %v", err)
	}
	if run == nil || run.ID != last.ID || version != 2 {
		t.Errorf("RunState = %+v, %d; want run %d, version 2", run, version, last.ID)
	}

	// A finished run cannot be finished again.
	if err := env.Store.FinishRun(env.Ctx, &types.IndexRun{ID: last.ID, Status: types.RunSuccess}); err == nil {
		t.Error("expected error finishing a closed run")
	}
	if err := env.Store.FinishRun(env.Ctx, &types.IndexRun{ID: id, Status: types.RunRunning}); err == nil {
		t.Error("expected error finishing with status running")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	v, err := env.Store.GetMetadata(env.Ctx, "missing")
	if err != nil || v != "" {
		t.Fatalf("GetMetadata(missing) = %q, %v", v, err)
	}
	if err := env.Store.SetMetadata(env.Ctx, "inbox", "/tmp/inbox"); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	if err := env.Store.SetMetadata(env.Ctx, "inbox", "/srv/inbox"); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	if v, _ := env.Store.GetMetadata(env.Ctx, "inbox"); v != "/srv/inbox" {
		t.Errorf("inbox = %q, want /srv/inbox", v)
	}
}
