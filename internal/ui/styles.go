package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// Palette
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#66BB6A"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB74D"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"}
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// ApplyColorPreference turns styling off when color should not be used.
// Call it once before rendering.
func ApplyColorPreference() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// RenderTrust colors a trust level.
func RenderTrust(level types.TrustLevel) string {
	switch level {
	case types.TrustHigh:
		return RenderPass(string(level))
	case types.TrustMedium:
		return RenderWarn(string(level))
	}
	return RenderFail(string(level))
}

// RenderKind marks candidates so they stand out in listings.
func RenderKind(k types.EntityKind) string {
	if k == types.Candidate {
		return RenderWarn(k.String())
	}
	return RenderPass(k.String())
}

// Icon returns emoji when the terminal should show it, otherwise fallback.
func Icon(emoji, fallback string) string {
	if ShouldUseEmoji() {
		return emoji
	}
	return fallback
}
