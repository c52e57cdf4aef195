package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// HeaderWidth is the default width of the header divider
const HeaderWidth = 50

// RenderHeader renders "dockhop <version>", an optional subtitle line, and
// a divider.
func RenderHeader(version, subtitle string) string {
	var out strings.Builder

	out.WriteString(lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Render("dockhop"))
	if version != "" {
		out.WriteString(" ")
		out.WriteString(lipgloss.NewStyle().Foreground(ColorInfo).Render(version))
	}
	out.WriteString("\n")

	if subtitle != "" {
		out.WriteString(lipgloss.NewStyle().Foreground(ColorMuted).Render(subtitle))
		out.WriteString("\n")
	}

	out.WriteString(lipgloss.NewStyle().Foreground(ColorMuted).Render(strings.Repeat("━", HeaderWidth)))
	out.WriteString("\n")
	return out.String()
}
