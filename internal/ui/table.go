package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table Styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Align(lipgloss.Center)

	TableCellStyle = lipgloss.NewStyle().
		Padding(0, 1).
		Align(lipgloss.Left)

	TableBorderStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
)

// NewTable creates a rounded table with the given headers. Width 0 lets
// the table size itself.
func NewTable(width int, headers ...string) *table.Table {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableCellStyle
		})
	if width > 0 {
		t = t.Width(width)
	}
	return t
}

// Truncate shortens s to max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 3 || len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
