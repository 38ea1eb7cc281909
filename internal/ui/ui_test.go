package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/ctxgraph/internal/freshness"
	"github.com/untoldecay/ctxgraph/internal/indexer"
	"github.com/untoldecay/ctxgraph/internal/queries"
	"github.com/untoldecay/ctxgraph/internal/types"
)

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"maybe\n", true, true},
		{"", true, true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := PromptYesNo(strings.NewReader(tt.input), &out, "Merge?", tt.defaultYes)
		if got != tt.want {
			t.Errorf("PromptYesNo(%q, %v) = %v, want %v", tt.input, tt.defaultYes, got, tt.want)
		}
		if !strings.HasPrefix(out.String(), "Merge?") {
			t.Errorf("prompt not written: %q", out.String())
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("Send revised order form", 10); got != "Send re..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("héllo wörld", 8); got != "héllo..." {
		t.Errorf("Truncate = %q", got)
	}
}

func TestRenderers(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	ApplyColorPreference()

	at := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	alex := types.NewCanonical("alex-chen", "Alex Chen", types.EntityPerson)
	alex.Handles = []types.Handle{{Kind: types.HandleEmail, Value: "alex@acme.io"}}
	alex.Aliases = []string{"AC"}
	item := &types.ExtractedItem{
		ID: "0123456789", Type: types.ItemActionItem, Text: "Send revised order form",
		OwnerSlug: "alex-chen", TargetName: "Dana", TrustLevel: types.TrustMedium,
		TrustReason: types.ReasonUnresolvedTarget, OccurredAt: at,
		SourcePath: "calls/acme.md", SourceSpan: "00:12", SourceQuote: "we will send the revised order form",
	}
	unquoted := &types.ExtractedItem{
		ID: "abcdef0123", Type: types.ItemPromise, Text: "Call back", OwnerSlug: "alex-chen",
		TrustLevel: types.TrustLow, TrustReason: types.ReasonQuoteMissing, OccurredAt: at,
	}
	age := 30.0

	tests := []struct {
		name string
		out  string
		want []string
	}{
		{"entities", RenderEntities([]*types.Entity{alex}, 100), []string{"alex-chen", "canonical"}},
		{"entity tree", RenderEntity(alex), []string{"Alex Chen (alex-chen)", "email: alex@acme.io", "AC"}},
		{"items", RenderItems([]*types.ExtractedItem{item}, 0), []string{"01234567", "Dana?", "medium", "calls/acme.md:00:12"}},
		{"items without quote", RenderItems([]*types.ExtractedItem{unquoted}, 0), []string{"abcdef01", "low", "(no quote)"}},
		{"item", RenderItem(item), []string{"unresolved_target"}},
		{"timeline", RenderTimeline("alex-chen", []types.TimelineEntry{{At: at, Item: item}}, 0), []string{"Timeline for alex-chen", "action_item", "calls/acme.md:00:12"}},
		{"stale", RenderFreshness(freshness.Freshness{State: freshness.StateStale, AgeHours: &age, StateVersion: 4}, 24*time.Hour), []string{"stale", "30.0h", "refresh"}},
		{"indeterminate", RenderFreshness(freshness.Freshness{State: freshness.StateIndeterminate, Err: errors.New("disk gone")}, time.Hour), []string{"indeterminate", "disk gone"}},
		{"suggestions", RenderSuggestions([]types.MergeSuggestion{{CandidateSlug: "alx", CandidateName: "Alx", CanonicalSlug: "alex-chen", CanonicalName: "Alex Chen", Distance: 1}}, 100), []string{"Alx (alx)", "cg entity merge"}},
		{"names", RenderNameSuggestions("alx", []queries.NameSuggestion{{Slug: "alex-chen", Name: "Alex Chen", Distance: 1, Reason: "typo"}}), []string{"Did you mean", "typo, distance 1"}},
		{"report", RenderRunReport(&indexer.RunReport{RunID: 7, Status: types.RunSuccess, FilesSeen: 2, FilesRejected: 1, Files: []indexer.FileResult{{Path: "bad.json", Outcome: indexer.OutcomeRejected, Error: "invalid payload"}}}, 120), []string{"run 7", "bad.json", "rejected"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, w := range tt.want {
				if !strings.Contains(tt.out, w) {
					t.Errorf("output missing %q:\n%s", w, tt.out)
				}
			}
		})
	}
}

func TestRenderRollup(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	ApplyColorPreference()
	r := &types.DealRollup{
		Deal:         &types.Deal{Slug: "acme-renewal", Name: "Acme renewal", Stage: "proposal"},
		ItemsByType:  map[types.ItemType]int{types.ItemActionItem: 2, types.ItemMetric: 1},
		ItemsByTrust: map[types.TrustLevel]int{types.TrustHigh: 3},
		Interactions: []*types.Interaction{{SourceType: types.SourceCall, Title: "Kickoff"}},
	}
	out := RenderRollup(r, 100)
	for _, w := range []string{"Acme renewal (proposal)", "action_item", "Kickoff"} {
		if !strings.Contains(out, w) {
			t.Errorf("rollup missing %q:\n%s", w, out)
		}
	}
}
