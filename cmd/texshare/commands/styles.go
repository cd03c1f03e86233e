package commands

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	primary = lipgloss.Color("#00ff9f")
	dim     = lipgloss.Color("#6e7681")
	alert   = lipgloss.Color("#ff5f87")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primary)
	dimStyle    = lipgloss.NewStyle().Foreground(dim)
	okStyle     = lipgloss.NewStyle().Foreground(primary)
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(alert)
)

// renderTable renders rows as padded columns with a styled header.
func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	line := func(cells []string, style lipgloss.Style) {
		for i, cell := range cells {
			s := style.Width(widths[i] + 2).Render(cell)
			b.WriteString(s)
		}
		b.WriteString("\n")
	}
	line(header, headerStyle)
	for _, row := range rows {
		line(row, lipgloss.NewStyle())
	}
	return b.String()
}
