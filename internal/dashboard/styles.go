package dashboard

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/dockhop/internal/monitor"
	"github.com/rileyhilliard/dockhop/internal/ui"
)

// Dashboard palette. ANSI codes so the dashboard follows the terminal theme.
const (
	ColorHealthy  = ui.ColorSuccess
	ColorWarning  = ui.ColorWarning
	ColorCritical = ui.ColorError

	ColorTextPrimary   = ui.ColorPrimary
	ColorTextSecondary = ui.ColorSecondary
	ColorTextMuted     = ui.ColorMuted

	ColorAccent = ui.ColorAccent
	ColorBorder = ui.ColorMuted
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Bold(true).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Padding(0, 1)

	HostNameStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Bold(true)

	SelectedRowStyle = lipgloss.NewStyle().
				Foreground(ColorAccent).
				Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary)

	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ColorCritical)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)

// StatusIndicator is the colored glyph for a host's outcome.
func StatusIndicator(o monitor.Outcome) string {
	switch o {
	case monitor.OutcomeHealthy:
		return lipgloss.NewStyle().Foreground(ColorHealthy).Render(ui.SymbolComplete)
	case monitor.OutcomeUnreachable:
		return lipgloss.NewStyle().Foreground(ColorCritical).Render(ui.SymbolFail)
	case monitor.OutcomeRuntimeUnavailable, monitor.OutcomeCollectionFailed:
		return lipgloss.NewStyle().Foreground(ColorWarning).Render(ui.SymbolSkipped)
	default:
		return lipgloss.NewStyle().Foreground(ColorTextMuted).Render(ui.SymbolPending)
	}
}

// outcomeLabel is the short text shown next to a host.
func outcomeLabel(o monitor.Outcome) string {
	switch o {
	case monitor.OutcomeHealthy:
		return "healthy"
	case monitor.OutcomeUnreachable:
		return "unreachable"
	case monitor.OutcomeRuntimeUnavailable:
		return "no docker"
	case monitor.OutcomeCollectionFailed:
		return "collection failed"
	default:
		return "waiting"
	}
}
