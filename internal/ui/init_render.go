package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/charmbracelet/lipgloss/table"
)

// InitResult aggregates what cg init did.
type InitResult struct {
	DBPath        string   `json:"db_path"`
	LockDir       string   `json:"lock_dir"`
	ConfigFile    string   `json:"config_file,omitempty"`
	SchemaVersion string   `json:"schema_version"`
	Migrations    []string `json:"migrations"`
	Existing      bool     `json:"existing"`
	NextSteps     []string `json:"next_steps,omitempty"`
}

// RenderInitReport renders the init summary.
func RenderInitReport(res InitResult, width int) string {
	var sections []string

	title := "✓ Context graph initialized"
	if res.Existing {
		title = "✓ Context graph already initialized"
	}
	sections = append(sections, lipgloss.NewStyle().Bold(true).Foreground(ColorPass).Render(title), "")

	if len(res.Migrations) > 0 {
		l := list.New().
			Enumerator(func(_ list.Items, i int) string {
				return RenderPass("✓")
			}).
			EnumeratorStyle(lipgloss.NewStyle().MarginRight(1))
		for _, m := range res.Migrations {
			l.Item("migration " + m)
		}
		sections = append(sections, l.String(), "")
	}

	rows := [][]string{
		{"Database", res.DBPath},
		{"Lock files", res.LockDir},
		{"Schema", res.SchemaVersion},
	}
	if res.ConfigFile != "" {
		rows = append(rows, []string{"Config", res.ConfigFile})
	}
	summary := table.New().
		Headers("Component", "Configuration").
		Rows(rows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := TableCellStyle
			if col == 0 {
				style = style.Bold(true).Foreground(ColorAccent)
			}
			return style
		})
	if width > 0 {
		summary = summary.Width(width)
	}
	sections = append(sections, summary.String(), "")

	if len(res.NextSteps) > 0 {
		sections = append(sections, lipgloss.NewStyle().Bold(true).Render("Next Steps:"))
		for _, cmd := range res.NextSteps {
			sections = append(sections, "  • "+lipgloss.NewStyle().Foreground(ColorAccent).Render(cmd))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
