package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/ctxgraph/internal/lockfile"
	"github.com/untoldecay/ctxgraph/internal/provenance"
	"github.com/untoldecay/ctxgraph/internal/resolver"
	"github.com/untoldecay/ctxgraph/internal/storage"
	"github.com/untoldecay/ctxgraph/internal/storage/sqlite"
	"github.com/untoldecay/ctxgraph/internal/types"
)

const testQuote = "Alex said we will send the revised order form to Acme procurement before the end of next week"

type testEnv struct {
	t       *testing.T
	Store   *sqlite.SQLiteStorage
	Locker  *lockfile.PathLocker
	Indexer *Indexer
	Ctx     context.Context
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	store, err := sqlite.New(ctx, filepath.Join(dir, "graph.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	locker, err := lockfile.NewPathLocker(filepath.Join(dir, "locks"))
	if err != nil {
		t.Fatalf("failed to create locker: %v", err)
	}
	res := resolver.New(store, nil)
	ix := New(store, res, provenance.New(store, res, nil), locker, opts)
	return &testEnv{t: t, Store: store, Locker: locker, Indexer: ix, Ctx: ctx}
}

func (e *testEnv) Run(batches ...types.Extraction) *RunReport {
	e.t.Helper()
	report, err := e.Indexer.Run(e.Ctx, batches)
	if err != nil {
		e.t.Fatalf("Run failed: %v", err)
	}
	return report
}

func batch(path, content string) types.Extraction {
	at := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	return types.Extraction{
		File:       types.FileChange{Path: path, MetadataChecksum: "m1", ContentChecksum: content},
		SourceType: types.SourceCall,
		Title:      "Acme weekly",
		OccurredAt: &at,
		Participants: []types.Participant{
			{Raw: "Alex Chen", Handle: "alex@acme.io", HandleKind: types.HandleEmail},
			{Raw: "Jordan Lee"},
		},
		Items: []types.ItemPayload{{
			Type:        types.ItemActionItem,
			Text:        "Send revised order form",
			OwnerRaw:    "Alex Chen",
			SourcePath:  path,
			SourceQuote: testQuote,
			SourceSpan:  "00:12:30-00:13:05",
		}},
	}
}

func TestRunIndexesAndSkipsUnchanged(t *testing.T) {
	env := newTestEnv(t, Options{})
	if err := env.Store.CreateEntity(env.Ctx, types.NewCanonical("alex-chen", "Alex Chen", types.EntityPerson)); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	first := env.Run(batch("calls/acme.md", "c1"))
	if first.Status != types.RunSuccess || first.FilesIndexed != 1 || first.ItemsRecorded != 1 {
		t.Fatalf("first run = %+v", first)
	}
	if first.CandidatesCreated != 1 {
		t.Errorf("CandidatesCreated = %d, want 1 (Jordan Lee)", first.CandidatesCreated)
	}
	f := first.Files[0]
	if len(f.Participants) != 2 || f.InteractionID == "" {
		t.Errorf("file result = %+v", f)
	}
	if got := f.Items[0].TrustLevel; got != types.TrustHigh {
		t.Errorf("item trust = %s, want high", got)
	}

	in, err := env.Store.GetInteraction(env.Ctx, f.InteractionID)
	if err != nil {
		t.Fatalf("GetInteraction failed: %v", err)
	}
	if len(in.Participants) != 2 {
		t.Errorf("stored participants = %v", in.Participants)
	}

	second := env.Run(batch("calls/acme.md", "c1"))
	if second.FilesSkipped != 1 || second.ItemsRecorded != 0 || second.CandidatesCreated != 0 {
		t.Errorf("second run = %+v", second)
	}
	if second.Files[0].Decision != types.FileUnchanged {
		t.Errorf("decision = %s, want unchanged", second.Files[0].Decision)
	}
}

func TestRunMetadataOnlyChange(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.Run(batch("calls/acme.md", "c1"))

	touched := batch("calls/acme.md", "c1")
	touched.File.MetadataChecksum = "m2"
	report := env.Run(touched)
	if report.FilesSkipped != 1 || report.Files[0].Decision != types.FileMetadataOnly {
		t.Fatalf("report = %+v", report)
	}
	f, err := env.Store.GetFile(env.Ctx, "calls/acme.md")
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if f.MetadataChecksum != "m2" || f.ContentChecksum != "c1" {
		t.Errorf("file = %+v", f)
	}
}

func TestRunContentChangeReextracts(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.Run(batch("calls/acme.md", "c1"))

	changed := batch("calls/acme.md", "c2")
	changed.Items[0].Text = "Send the countersigned order form"
	report := env.Run(changed)
	if report.FilesIndexed != 1 || report.Files[0].Decision != types.FileContentChanged {
		t.Fatalf("report = %+v", report)
	}
	if report.ItemsSuperseded != 1 {
		t.Errorf("ItemsSuperseded = %d, want 1", report.ItemsSuperseded)
	}
}

func TestRunKeepsSameSpanSiblings(t *testing.T) {
	env := newTestEnv(t, Options{})

	b := batch("calls/acme.md", "c1")
	venue := b.Items[0]
	venue.Text = "Book the venue for the Acme offsite"
	b.Items = append(b.Items, venue)
	report := env.Run(b)
	if report.ItemsRecorded != 2 || report.ItemsSuperseded != 0 {
		t.Fatalf("report = %+v", report)
	}

	items, err := env.Store.ItemsForEntity(env.Ctx, "alex-chen")
	if err != nil {
		t.Fatalf("ItemsForEntity failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("active items = %d, want 2", len(items))
	}

	// Re-extracting changed content replaces both.
	changed := batch("calls/acme.md", "c2")
	changed.Items[0].Text = "Send the countersigned order form"
	report = env.Run(changed)
	if report.ItemsSuperseded != 2 {
		t.Errorf("ItemsSuperseded = %d, want 2", report.ItemsSuperseded)
	}
	items, err = env.Store.ItemsForEntity(env.Ctx, "alex-chen")
	if err != nil {
		t.Fatalf("ItemsForEntity failed: %v", err)
	}
	if len(items) != 1 || items[0].Text != "Send the countersigned order form" {
		t.Errorf("active items = %v, want only the re-extracted one", items)
	}
}

func TestRunRejectsInvalidBatch(t *testing.T) {
	env := newTestEnv(t, Options{})

	bad := batch("calls/bad.md", "c1")
	bad.Items[0].OwnerRaw = " "
	report := env.Run(bad, batch("calls/good.md", "c1"))

	if report.Status != types.RunSuccess {
		t.Fatalf("status = %s, want success", report.Status)
	}
	if report.FilesRejected != 1 || report.FilesIndexed != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, err := env.Store.GetFile(env.Ctx, "calls/bad.md"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("rejected file was stored: %v", err)
	}
	ents, err := env.Store.ListEntities(env.Ctx, storage.EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(ents) != 2 {
		t.Errorf("got %d entities, want 2 from the valid batch", len(ents))
	}
}

func TestRunBumpsStateVersion(t *testing.T) {
	env := newTestEnv(t, Options{})
	before, err := env.Store.StateVersion(env.Ctx)
	if err != nil {
		t.Fatalf("StateVersion failed: %v", err)
	}
	env.Run(batch("calls/acme.md", "c1"))
	env.Run()
	after, err := env.Store.StateVersion(env.Ctx)
	if err != nil {
		t.Fatalf("StateVersion failed: %v", err)
	}
	if after != before+2 {
		t.Errorf("state_version = %d, want %d", after, before+2)
	}
	last, err := env.Store.LastSuccessfulRun(env.Ctx)
	if err != nil || last == nil {
		t.Fatalf("LastSuccessfulRun = %v, %v", last, err)
	}
}

func TestRunSamePathTwiceInOneRun(t *testing.T) {
	env := newTestEnv(t, Options{Workers: 4})
	report := env.Run(batch("calls/acme.md", "c1"), batch("calls/acme.md", "c1"))
	if report.FilesIndexed != 1 || report.FilesSkipped != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.ItemsRecorded != 1 {
		t.Errorf("ItemsRecorded = %d, want 1", report.ItemsRecorded)
	}
}

func TestRunReportsLockedPath(t *testing.T) {
	env := newTestEnv(t, Options{LockTimeout: 100 * time.Millisecond})
	unlock, err := env.Locker.Lock(env.Ctx, "calls/acme.md")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlock()

	report := env.Run(batch("calls/acme.md", "c1"))
	if report.Status != types.RunSuccess || report.FilesLocked != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunLinksHintedDeal(t *testing.T) {
	env := newTestEnv(t, Options{})
	if err := env.Store.UpsertDeal(env.Ctx, &types.Deal{Slug: "acme-renewal", Name: "Acme renewal"}); err != nil {
		t.Fatalf("UpsertDeal failed: %v", err)
	}
	b := batch("calls/acme.md", "c1")
	b.DealSlugHint = "acme-renewal"
	report := env.Run(b)

	in, err := env.Store.GetInteraction(env.Ctx, report.Files[0].InteractionID)
	if err != nil {
		t.Fatalf("GetInteraction failed: %v", err)
	}
	if in.DealSlug != "acme-renewal" {
		t.Errorf("interaction deal = %q", in.DealSlug)
	}
	if got := report.Files[0].Items[0].DealSlug; got != "acme-renewal" {
		t.Errorf("item deal = %q", got)
	}
}

func TestIndexFilesRejectsUndecodable(t *testing.T) {
	env := newTestEnv(t, Options{})
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	body := `{"file":{"path":"calls/acme.md","metadataChecksum":"m1","contentChecksum":"c1"},
"sourceType":"call","items":[{"type":"action_item","ownerRaw":"Alex Chen","sourcePath":"calls/acme.md",
"sourceQuote":"` + testQuote + `","sourceSpan":"L1"}]}`
	if err := os.WriteFile(good, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte(`{"file": {"path": 3}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	report, err := env.Indexer.IndexFiles(env.Ctx, []string{good, bad})
	if err != nil {
		t.Fatalf("IndexFiles failed: %v", err)
	}
	if report.FilesIndexed != 1 || report.FilesRejected != 1 || report.FilesSeen != 2 {
		t.Errorf("report = %+v", report)
	}
	if done := report.DoneFiles(); len(done) != 1 || done[0] != good {
		t.Errorf("DoneFiles() = %v, want [%s]", done, good)
	}
}

func TestDoneFilesNeedsEveryBatch(t *testing.T) {
	report := &RunReport{Files: []FileResult{
		{Path: "calls/a.md", BatchFile: "inbox/one.json", Outcome: OutcomeIndexed},
		{Path: "calls/b.md", BatchFile: "inbox/one.json", Outcome: OutcomeLocked},
		{Path: "calls/c.md", BatchFile: "inbox/two.json", Outcome: OutcomeSkipped},
		{Path: "calls/d.md", BatchFile: "inbox/two.json", Outcome: OutcomeIndexed},
		{Path: "calls/e.md", Outcome: OutcomeIndexed},
	}}
	done := report.DoneFiles()
	if len(done) != 1 || done[0] != "inbox/two.json" {
		t.Errorf("DoneFiles() = %v, want [inbox/two.json]", done)
	}
}

func TestRunCancelledContextFailsRun(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()

	_, err := env.Indexer.Run(ctx, []types.Extraction{batch("calls/acme.md", "c1")})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
