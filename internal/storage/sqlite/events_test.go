package sqlite

import (
	"testing"
	"time"

	"github.com/untoldecay/ctxgraph/internal/types"
)

func TestRecordAndGetEvents(t *testing.T) {
	env := newTestEnv(t)

	base := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	events := []*types.Event{
		{EntitySlug: "alex-chen", Type: types.EventEntityCreated, Actor: "sam", CreatedAt: base},
		{EntitySlug: "alex-chen", Type: types.EventAliasAdded, Actor: "sam", NewValue: "AC", CreatedAt: base.Add(time.Minute)},
		{EntitySlug: "alex-chen", Type: types.EventMergedFrom, Actor: "kim", NewValue: "alex-chn", CreatedAt: base.Add(2 * time.Minute)},
		{EntitySlug: "acme", Type: types.EventEntityCreated, Actor: "sam", CreatedAt: base},
	}
	for _, ev := range events {
		if err := env.Store.RecordEvent(env.Ctx, ev); err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
		if ev.ID == 0 {
			t.Errorf("event %s has no id", ev.Type)
		}
	}

	got, err := env.Store.GetEvents(env.Ctx, "alex-chen", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Type != types.EventMergedFrom || got[0].Actor != "kim" || got[0].NewValue != "alex-chn" {
		t.Errorf("newest event = %+v", got[0])
	}
	if got[2].Type != types.EventEntityCreated || !got[2].CreatedAt.Equal(base) {
		t.Errorf("oldest event = %+v", got[2])
	}

	limited, err := env.Store.GetEvents(env.Ctx, "alex-chen", 1)
	if err != nil {
		t.Fatalf("GetEvents with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Type != types.EventMergedFrom {
		t.Errorf("limited = %+v", limited)
	}

	none, err := env.Store.GetEvents(env.Ctx, "nobody", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("GetEvents(nobody) = %v, %v", none, err)
	}
}

func TestRecordEventRequiresSlugAndType(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Store.RecordEvent(env.Ctx, &types.Event{Type: types.EventEntityCreated}); err == nil {
		t.Error("expected error for event without slug")
	}
	if err := env.Store.RecordEvent(env.Ctx, &types.Event{EntitySlug: "acme"}); err == nil {
		t.Error("expected error for event without type")
	}
}
