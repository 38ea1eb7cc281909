package ui

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/untoldecay/ctxgraph/internal/freshness"
	"github.com/untoldecay/ctxgraph/internal/indexer"
	"github.com/untoldecay/ctxgraph/internal/provenance"
	"github.com/untoldecay/ctxgraph/internal/queries"
	"github.com/untoldecay/ctxgraph/internal/types"
)

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// itemSource is the compact provenance of an item: path and span, flagged
// when the quote is missing.
func itemSource(it *types.ExtractedItem) string {
	src := orDash(it.SourcePath)
	if it.SourceSpan != "" {
		src += ":" + it.SourceSpan
	}
	if it.SourceQuote == "" {
		src += " (no quote)"
	}
	return src
}

// textWidth leaves room for the fixed columns of an item row.
func textWidth(width, fixed int) int {
	if width <= 0 {
		width = 80
	}
	return max(width-fixed, 20)
}

// RenderItems renders extracted items.
func RenderItems(items []*types.ExtractedItem, width int) string {
	if len(items) == 0 {
		return RenderMuted("No items.")
	}
	t := NewTable(width, "ID", "When", "Type", "Owner", "Target", "Trust", "Source", "Text")
	tw := textWidth(width, 105)
	for _, it := range items {
		target := it.TargetSlug
		if target == "" && it.TargetName != "" {
			target = it.TargetName + "?"
		}
		t.Row(shortID(it.ID), formatDate(it.OccurredAt), string(it.Type), it.OwnerSlug,
			orDash(target), RenderTrust(it.TrustLevel), Truncate(itemSource(it), 30), Truncate(it.Text, tw))
	}
	return t.String()
}

// RenderItem renders one item with its provenance.
func RenderItem(it *types.ExtractedItem) string {
	rows := [][2]string{
		{"id", it.ID},
		{"type", string(it.Type)},
		{"text", it.Text},
		{"owner", it.OwnerSlug},
		{"target", orDash(it.TargetSlug)},
		{"deal", orDash(it.DealSlug)},
		{"trust", RenderTrust(it.TrustLevel) + " (" + it.TrustReason + ")"},
		{"source", fmt.Sprintf("%s %s %s", it.SourceType, orDash(it.SourcePath), it.SourceSpan)},
		{"quote", orDash(it.SourceQuote)},
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", RenderBold(fmt.Sprintf("%-7s", r[0])), r[1])
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderRecordResult summarizes a recorded or backfilled item.
func RenderRecordResult(r *provenance.RecordResult) string {
	var b strings.Builder
	status := RenderPass("recorded")
	switch {
	case r.Duplicate:
		status = RenderMuted("duplicate")
	case len(r.Superseded) > 0:
		ids := make([]string, len(r.Superseded))
		for i, id := range r.Superseded {
			ids[i] = shortID(id)
		}
		status = RenderWarn("superseded " + strings.Join(ids, ", "))
	}
	fmt.Fprintf(&b, "%s %s  trust %s (%s)  owner %s", status, r.ItemID, RenderTrust(r.TrustLevel), r.TrustReason, r.OwnerSlug)
	if r.TargetSlug != "" {
		fmt.Fprintf(&b, "  target %s", r.TargetSlug)
	}
	if r.DealSlug != "" {
		fmt.Fprintf(&b, "  deal %s", r.DealSlug)
	}
	for _, d := range r.Degradations {
		fmt.Fprintf(&b, "\n  %s %v", RenderWarn("!"), d)
	}
	return b.String()
}

// RenderTimeline renders timeline entries, newest first.
func RenderTimeline(slug string, entries []types.TimelineEntry, width int) string {
	header := RenderBold("Timeline for " + slug)
	if len(entries) == 0 {
		return header + "\n" + RenderMuted("Nothing recorded.")
	}
	t := NewTable(width, "When", "What", "Details")
	tw := textWidth(width, 40)
	for _, e := range entries {
		switch {
		case e.Interaction != nil:
			in := e.Interaction
			what := string(in.SourceType)
			detail := in.Title
			if detail == "" {
				detail = in.FilePath
			}
			if in.DealSlug != "" {
				detail += " [" + in.DealSlug + "]"
			}
			t.Row(formatDate(e.At), RenderAccent(what), Truncate(detail, tw))
		case e.Item != nil:
			it := e.Item
			t.Row(formatDate(e.At), string(it.Type)+" "+RenderTrust(it.TrustLevel),
				Truncate(it.Text, tw)+" "+RenderMuted("["+itemSource(it)+"]"))
		}
	}
	return header + "\n" + t.String()
}

// RenderFreshness renders an index status.
func RenderFreshness(f freshness.Freshness, horizon time.Duration) string {
	var state string
	switch f.State {
	case freshness.StateFresh:
		state = RenderPass("fresh")
	case freshness.StateStale:
		state = RenderWarn("stale")
	case freshness.StateNever:
		state = RenderWarn("never built")
	default:
		state = RenderFail("indeterminate")
	}
	lines := []string{fmt.Sprintf("%s %s", RenderBold("index:"), state)}
	if f.LastRunAt != nil {
		lines = append(lines, fmt.Sprintf("%s %s", RenderBold("last run:"), formatDate(*f.LastRunAt)))
	}
	if f.AgeHours != nil {
		lines = append(lines, fmt.Sprintf("%s %.1fh (horizon %s)", RenderBold("age:"), *f.AgeHours, horizon))
	}
	lines = append(lines, fmt.Sprintf("%s %d", RenderBold("state version:"), f.StateVersion))
	switch {
	case f.Err != nil:
		lines = append(lines, RenderFail(fmt.Sprintf("error: %v", f.Err)))
	case f.NeedsInitialBuild():
		lines = append(lines, RenderMuted("Run: cg ingest <batch>..."))
	case f.NeedsRefresh():
		lines = append(lines, RenderMuted("An incremental refresh is due."))
	}
	return strings.Join(lines, "\n")
}

// RenderRunReport summarizes an indexing run.
func RenderRunReport(r *indexer.RunReport, width int) string {
	status := RenderPass(string(r.Status))
	if r.Status != types.RunSuccess {
		status = RenderFail(string(r.Status))
	}
	summary := fmt.Sprintf("%s run %d %s: %d files (%d indexed, %d skipped, %d locked, %d rejected), %d items (%d duplicate, %d superseded, %d degraded), %d new candidates",
		Icon("📥", "*"), r.RunID, status, r.FilesSeen, r.FilesIndexed, r.FilesSkipped, r.FilesLocked, r.FilesRejected,
		r.ItemsRecorded, r.ItemsDuplicate, r.ItemsSuperseded, r.ItemsDegraded, r.CandidatesCreated)

	var problems []indexer.FileResult
	for _, f := range r.Files {
		if f.Outcome == indexer.OutcomeRejected || f.Outcome == indexer.OutcomeLocked {
			problems = append(problems, f)
		}
	}
	if len(problems) == 0 {
		return lipgloss.NewStyle().Width(max(width, 40)).Render(summary)
	}
	t := NewTable(width, "File", "Outcome", "Error")
	for _, f := range problems {
		t.Row(f.Path, RenderWarn(string(f.Outcome)), f.Error)
	}
	return summary + "\n" + t.String()
}

// RenderRollup renders a deal rollup.
func RenderRollup(r *types.DealRollup, width int) string {
	var sections []string
	title := r.Deal.Name
	if r.Deal.Stage != "" {
		title += " (" + r.Deal.Stage + ")"
	}
	sections = append(sections, TableHeaderStyle.Render(title))
	if r.LastActivity != nil {
		sections = append(sections, RenderMuted("last activity "+formatDate(*r.LastActivity)))
	}

	counts := NewTable(0, "Items by type", "Count")
	for _, k := range slices.Sorted(maps.Keys(r.ItemsByType)) {
		counts.Row(string(k), fmt.Sprintf("%d", r.ItemsByType[k]))
	}
	trust := NewTable(0, "Items by trust", "Count")
	for _, k := range []types.TrustLevel{types.TrustHigh, types.TrustMedium, types.TrustLow} {
		trust.Row(RenderTrust(k), fmt.Sprintf("%d", r.ItemsByTrust[k]))
	}
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, counts.String(), " ", trust.String()))

	if len(r.Interactions) > 0 {
		t := NewTable(width, "When", "Source", "Title")
		for _, in := range r.Interactions {
			t.Row(formatDate(in.OccurredAt), string(in.SourceType), orDash(in.Title))
		}
		sections = append(sections, t.String())
	}
	if len(r.Metrics) > 0 {
		sections = append(sections, RenderBold("Metrics"), RenderItems(r.Metrics, width))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// RenderNameSuggestions renders "did you mean" hints for a mention that
// resolved to nothing.
func RenderNameSuggestions(term string, suggestions []queries.NameSuggestion) string {
	if len(suggestions) == 0 {
		return RenderMuted(fmt.Sprintf("No entity matches %q.", term))
	}
	lines := []string{fmt.Sprintf("No entity matches %q. Did you mean:", term)}
	for _, s := range suggestions {
		hint := s.Reason
		if s.Distance >= 0 {
			hint = fmt.Sprintf("%s, distance %d", s.Reason, s.Distance)
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s", RenderPass(s.Name), RenderMuted("("+s.Slug+")"), RenderMuted(hint)))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}
