package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// RenderEntities renders an entity listing.
func RenderEntities(entities []*types.Entity, width int) string {
	if len(entities) == 0 {
		return RenderMuted("No entities.")
	}
	t := NewTable(width, "Slug", "Name", "Type", "Kind", "State", "Last seen")
	for _, e := range entities {
		t.Row(e.Slug, e.DisplayName, string(e.Type), RenderKind(e.Kind()), string(e.State), formatDate(e.LastSeenAt))
	}
	return t.String()
}

// BuildEntityTree lays out one entity with its handles and aliases.
func BuildEntityTree(e *types.Entity) *tree.Tree {
	t := tree.New().Root(fmt.Sprintf("%s (%s)", e.DisplayName, e.Slug))
	t.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
	t.RootStyle(lipgloss.NewStyle().Bold(true).Foreground(ColorAccent))

	t.Child("type: " + string(e.Type))
	t.Child("kind: " + RenderKind(e.Kind()))
	state := "state: " + string(e.State)
	if e.MergedInto != "" {
		state += " into " + e.MergedInto
	}
	t.Child(state)
	if !e.LastSeenAt.IsZero() {
		t.Child("last seen: " + formatDate(e.LastSeenAt))
	}

	if len(e.Handles) > 0 {
		handles := tree.New().Root("handles")
		for _, h := range e.Handles {
			handles.Child(fmt.Sprintf("%s: %s", h.Kind, h.Value))
		}
		t.Child(handles)
	}
	if len(e.Aliases) > 0 {
		aliases := tree.New().Root("aliases")
		for _, a := range e.Aliases {
			aliases.Child(a)
		}
		t.Child(aliases)
	}
	return t
}

// RenderEntity renders one entity as a tree.
func RenderEntity(e *types.Entity) string {
	return BuildEntityTree(e).String()
}

// RenderSuggestions renders merge suggestions.
func RenderSuggestions(suggestions []types.MergeSuggestion, width int) string {
	if len(suggestions) == 0 {
		return RenderMuted("No merge suggestions.")
	}
	t := NewTable(width, "Candidate", "Looks like", "Distance")
	for _, s := range suggestions {
		t.Row(
			fmt.Sprintf("%s (%s)", s.CandidateName, s.CandidateSlug),
			fmt.Sprintf("%s (%s)", s.CanonicalName, s.CanonicalSlug),
			fmt.Sprintf("%d", s.Distance),
		)
	}
	var b strings.Builder
	b.WriteString(t.String())
	b.WriteString("\n")
	b.WriteString(RenderMuted("Merge with: cg entity merge <candidate> <canonical>"))
	return b.String()
}
