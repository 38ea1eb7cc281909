package ctxgraph_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/ctxgraph"
	"github.com/untoldecay/ctxgraph/internal/freshness"
	"github.com/untoldecay/ctxgraph/internal/query"
	"github.com/untoldecay/ctxgraph/internal/types"
)

const quote = "Alex said we will send the revised order form to Acme procurement before the end of next week"

func openGraph(t *testing.T) (*ctxgraph.Graph, context.Context) {
	t.Helper()
	ctx := context.Background()
	g, err := ctxgraph.Open(ctx, filepath.Join(t.TempDir(), "graph.db"), ctxgraph.Options{Actor: "sam"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g, ctx
}

func callBatch(path, owner string) ctxgraph.Extraction {
	at := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	return ctxgraph.Extraction{
		File:         ctxgraph.FileChange{Path: path, MetadataChecksum: "m1", ContentChecksum: "c1"},
		SourceType:   types.SourceCall,
		Title:        "Acme weekly",
		OccurredAt:   &at,
		Participants: []types.Participant{{Raw: owner}},
		Items: []ctxgraph.ItemPayload{{
			Type:        types.ItemActionItem,
			Text:        "Send revised order form",
			OwnerRaw:    owner,
			SourcePath:  path,
			SourceQuote: quote,
			SourceSpan:  "00:12:30-00:13:05",
		}},
	}
}

func TestAlexChenLifecycle(t *testing.T) {
	g, ctx := openGraph(t)

	if f := g.FreshnessStatus(ctx); f.State != freshness.StateNever {
		t.Fatalf("fresh store state = %s, want never", f.State)
	}
	if err := g.CreateEntity(ctx, types.NewCanonical("alex-chen", "Alex Chen", types.EntityPerson)); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	// A call transcript mentions "Alex Chn" who is not known yet.
	report, err := g.Ingest(ctx, []ctxgraph.Extraction{callBatch("calls/acme.md", "Alex Chn")})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if report.FilesIndexed != 1 || report.CandidatesCreated != 1 {
		t.Fatalf("report = %+v", report)
	}
	rec := report.Files[0].Items[0]
	if rec.TrustLevel != types.TrustMedium || rec.OwnerSlug != "alex-chn" {
		t.Fatalf("record = %+v, want medium trust owned by alex-chn", rec)
	}
	if f := g.FreshnessStatus(ctx); f.State != freshness.StateFresh {
		t.Errorf("state after run = %s, want fresh", f.State)
	}

	suggestions, err := g.SuggestMerges(ctx, 2)
	if err != nil {
		t.Fatalf("SuggestMerges failed: %v", err)
	}
	if len(suggestions) != 1 || suggestions[0].CanonicalSlug != "alex-chen" {
		t.Fatalf("suggestions = %+v", suggestions)
	}

	merged, err := g.MergeEntities(ctx, "alex-chn", "alex-chen")
	if err != nil {
		t.Fatalf("MergeEntities failed: %v", err)
	}
	if merged.OwnedItemsMoved != 1 {
		t.Errorf("OwnedItemsMoved = %d, want 1", merged.OwnedItemsMoved)
	}
	item, err := g.GetItem(ctx, rec.ItemID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item.OwnerSlug != "alex-chen" || item.TrustLevel != types.TrustHigh {
		t.Errorf("after merge owner %q trust %s, want alex-chen high", item.OwnerSlug, item.TrustLevel)
	}

	// The old mention now resolves straight to the canonical entity.
	res, err := g.LookupEntity(ctx, "Alex Chn", ctxgraph.ResolveContext{})
	if err != nil {
		t.Fatalf("LookupEntity failed: %v", err)
	}
	if res.Slug != "alex-chen" {
		t.Errorf("lookup after merge = %q", res.Slug)
	}

	items, err := query.Collect(g.ActionableItems(ctx, ctxgraph.ItemFilter{OwnerSlug: "alex-chen"}))
	if err != nil {
		t.Fatalf("ActionableItems failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != rec.ItemID {
		t.Errorf("actionable = %v", items)
	}

	timeline, err := query.Collect(g.EntityTimeline(ctx, "alex-chen", ctxgraph.TimelineFilter{}))
	if err != nil {
		t.Fatalf("EntityTimeline failed: %v", err)
	}
	if len(timeline) == 0 {
		t.Error("timeline is empty")
	}

	history, err := g.EntityHistory(ctx, "alex-chen", 0)
	if err != nil {
		t.Fatalf("EntityHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d events, want created and merged_from", len(history))
	}
	if history[0].Type != types.EventMergedFrom || history[0].NewValue != "alex-chn" || history[0].Actor != "sam" {
		t.Errorf("latest event = %+v", history[0])
	}
}

func TestConfirmEntityRaisesTrust(t *testing.T) {
	g, ctx := openGraph(t)

	rec, err := g.RecordExtractedItem(ctx, &ctxgraph.ItemPayload{
		Type:        types.ItemPromise,
		OwnerRaw:    "Morgan Wu",
		SourceType:  types.SourceEmail,
		SourcePath:  "mail/thread-42.eml",
		SourceQuote: quote,
		SourceSpan:  "msg-3",
	})
	if err != nil {
		t.Fatalf("RecordExtractedItem failed: %v", err)
	}
	if rec.TrustLevel != types.TrustMedium {
		t.Fatalf("trust = %s, want medium", rec.TrustLevel)
	}
	if err := g.ConfirmEntity(ctx, rec.OwnerSlug); err != nil {
		t.Fatalf("ConfirmEntity failed: %v", err)
	}
	item, err := g.GetItem(ctx, rec.ItemID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item.TrustLevel != types.TrustHigh {
		t.Errorf("trust after confirm = %s, want high", item.TrustLevel)
	}
}

func TestRecordRejectsInvalidPayload(t *testing.T) {
	g, ctx := openGraph(t)
	_, err := g.RecordExtractedItem(ctx, &ctxgraph.ItemPayload{Type: "gossip", OwnerRaw: "Alex"})
	if !errors.Is(err, ctxgraph.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	ents, err := g.ListEntities(ctx, ctxgraph.EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(ents) != 0 {
		t.Errorf("invalid payload created %d entities", len(ents))
	}
}

func TestNoteFileChange(t *testing.T) {
	g, ctx := openGraph(t)
	change := ctxgraph.FileChange{Path: "calls/acme.md", MetadataChecksum: "m1", ContentChecksum: "c1"}

	d, err := g.NoteFileChange(ctx, change)
	if err != nil || d != types.FileNew {
		t.Fatalf("first decision = %s, %v", d, err)
	}
	if _, err := g.Ingest(ctx, []ctxgraph.Extraction{callBatch("calls/acme.md", "Alex Chen")}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	change.MetadataChecksum = "m2"
	if d, _ := g.NoteFileChange(ctx, change); d != types.FileMetadataOnly {
		t.Errorf("touched file decision = %s, want metadata_only", d)
	}
	if d, _ := g.NoteFileChange(ctx, change); d != types.FileUnchanged {
		t.Errorf("second look decision = %s, want unchanged", d)
	}
	change.ContentChecksum = "c2"
	if d, _ := g.NoteFileChange(ctx, change); d != types.FileContentChanged {
		t.Errorf("edited file decision = %s, want content_changed", d)
	}

	if _, err := g.NoteFileChange(ctx, ctxgraph.FileChange{}); !errors.Is(err, ctxgraph.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for empty path, got %v", err)
	}
}

func TestBackfillProvenance(t *testing.T) {
	g, ctx := openGraph(t)
	if err := g.CreateEntity(ctx, types.NewCanonical("alex-chen", "Alex Chen", types.EntityPerson)); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	rec, err := g.RecordExtractedItem(ctx, &ctxgraph.ItemPayload{
		Type:       types.ItemActionItem,
		OwnerRaw:   "Alex Chen",
		SourceType: types.SourceCall,
		SourcePath: "calls/acme.md",
		SourceSpan: "00:01:00-00:01:30",
	})
	if err != nil {
		t.Fatalf("RecordExtractedItem failed: %v", err)
	}
	if rec.TrustLevel != types.TrustLow {
		t.Fatalf("trust without quote = %s, want low", rec.TrustLevel)
	}

	filled, err := g.BackfillProvenance(ctx, rec.ItemID, quote, "")
	if err != nil {
		t.Fatalf("BackfillProvenance failed: %v", err)
	}
	if filled.TrustLevel != types.TrustHigh {
		t.Errorf("trust after backfill = %s, want high", filled.TrustLevel)
	}
}

func TestDealRollup(t *testing.T) {
	g, ctx := openGraph(t)
	if err := g.UpsertDeal(ctx, &ctxgraph.Deal{Slug: "acme-renewal", Name: "Acme renewal"}); err != nil {
		t.Fatalf("UpsertDeal failed: %v", err)
	}
	b := callBatch("calls/acme.md", "Alex Chen")
	b.DealSlugHint = "acme-renewal"
	if _, err := g.Ingest(ctx, []ctxgraph.Extraction{b}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	rollup, err := g.DealRollup(ctx, "acme-renewal")
	if err != nil {
		t.Fatalf("DealRollup failed: %v", err)
	}
	if len(rollup.Interactions) != 1 || rollup.ItemsByType[types.ItemActionItem] != 1 {
		t.Errorf("rollup = %+v", rollup)
	}

	if _, err := g.DealRollup(ctx, "missing"); !errors.Is(err, ctxgraph.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
