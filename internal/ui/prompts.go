package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// ErrNotInteractive is returned by forms when stdin is not a terminal.
var ErrNotInteractive = errors.New("not an interactive terminal")

// PromptYesNo asks a yes/no question on out and reads the answer from in.
// Empty or unreadable input gives defaultYes.
func PromptYesNo(in io.Reader, out io.Writer, question string, defaultYes bool) bool {
	prompt := fmt.Sprintf("%s [y/N] ", question)
	if defaultYes {
		prompt = fmt.Sprintf("%s [Y/n] ", question)
	}
	_, _ = fmt.Fprint(out, prompt)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		_, _ = fmt.Fprintf(out, "(no input, defaulting to %t)\n", defaultYes)
		return defaultYes
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return defaultYes
}

// ReviewMerges shows merge suggestions in a multi-select form and returns
// the ones the operator approved. Nothing is selected up front.
func ReviewMerges(suggestions []types.MergeSuggestion) ([]types.MergeSuggestion, error) {
	if len(suggestions) == 0 {
		return nil, nil
	}
	if !IsInputTerminal() {
		return nil, ErrNotInteractive
	}

	options := make([]huh.Option[int], 0, len(suggestions))
	for i, s := range suggestions {
		label := fmt.Sprintf("%s (%s) → %s (%s), distance %d",
			s.CandidateName, s.CandidateSlug, s.CanonicalName, s.CanonicalSlug, s.Distance)
		options = append(options, huh.NewOption(label, i))
	}

	var (
		picked    []int
		confirmed bool
	)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[int]().
				Title("Merge candidates").
				Description("Space to select, Enter to continue").
				Options(options...).
				Value(&picked),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Apply the selected merges?").
				Description("Merges cannot be undone.").
				Affirmative("Merge").
				Negative("Cancel").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, nil
		}
		return nil, fmt.Errorf("review form failed: %w", err)
	}
	if !confirmed {
		return nil, nil
	}
	out := make([]types.MergeSuggestion, 0, len(picked))
	for _, i := range picked {
		out = append(out, suggestions[i])
	}
	return out, nil
}
