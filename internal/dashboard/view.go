package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/monitor"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/samber/lo"
)

const (
	nameWidth      = 18
	addressWidth   = 16
	outcomeWidth   = 18
	sparklineWidth = 12
)

// renderDashboard renders the complete dashboard view.
func (m Model) renderDashboard() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	if m.viewMode == ViewDetail {
		b.WriteString(m.renderDetailView())
	} else {
		b.WriteString(m.renderHostList())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// renderHeader renders the title line with fleet totals and refresh state.
func (m Model) renderHeader() string {
	title := lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Render("dockhop")
	if m.opts.Version != "" {
		title += LabelStyle.Render(" " + m.opts.Version)
	}

	reachable := lo.CountBy(m.hosts, func(h monitor.HostStatus) bool { return h.Outcome != "" && h.Reachable() })
	running, total := 0, 0
	for _, h := range m.hosts {
		c := h.Counts()
		running += c.Running
		total += c.Total
	}

	stats := fmt.Sprintf(" | %d hosts | %d reachable | %d/%d containers running", len(m.hosts), reachable, running, total)
	if m.opts.Bastion != "" {
		stats += " | via " + m.opts.Bastion
	}

	return HeaderStyle.Render(title+lipgloss.NewStyle().Foreground(ColorTextSecondary).Render(stats)) +
		"\n" + FooterStyle.Render(m.refreshStatus())
}

// refreshStatus describes the refresh in flight or the last one.
func (m Model) refreshStatus() string {
	if m.refreshing {
		return m.spinner.View() + " refreshing..."
	}
	if m.lastUpdate.IsZero() {
		return "waiting for first refresh"
	}

	s := fmt.Sprintf("updated %s ago in %s, next in %s",
		ui.FormatDuration(time.Since(m.lastUpdate).Truncate(time.Second)),
		ui.FormatDuration(m.lastCycle),
		ui.FormatDuration(m.opts.Interval))
	if m.lastErr != nil {
		s += "  " + ErrorTextStyle.Render(errors.Summary(m.lastErr))
	}
	return s
}

// renderHostList renders one line per host, with the error underneath for
// hosts that failed.
func (m Model) renderHostList() string {
	if len(m.hosts) == 0 {
		return LabelStyle.Render("No hosts selected")
	}

	var lines []string
	for i, h := range m.hosts {
		lines = append(lines, m.renderHostRow(h, i == m.selected))
		if h.Error != "" {
			msg := h.Error
			if m.width > 0 {
				msg = truncate(msg, max(m.width-8, 40))
			}
			lines = append(lines, "      "+ErrorTextStyle.Render(msg))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderHostRow(h monitor.HostStatus, selected bool) string {
	cursor := "  "
	name := HostNameStyle.Render(pad(h.Name, nameWidth))
	if selected {
		cursor = SelectedRowStyle.Render("› ")
		name = SelectedRowStyle.Render(pad(h.Name, nameWidth))
	}

	containers := LabelStyle.Render("-")
	if h.DockerAvailable() {
		c := h.Counts()
		containers = ValueStyle.Render(fmt.Sprintf("%d/%d running", c.Running, c.Total))
	}

	return cursor + StatusIndicator(h.Outcome) + " " + name + " " +
		LabelStyle.Render(pad(h.Address, addressWidth)) + " " +
		pad(outcomeLabel(h.Outcome), outcomeWidth) + " " +
		pad(containers, 16) + " " +
		ui.RenderSparkline(m.history.Last(h.Name, sparklineWidth), sparklineWidth, false)
}

// renderFooter renders the keyboard hints.
func (m Model) renderFooter() string {
	hints := []string{"q quit", "r refresh", "↑↓ select", "enter containers", "s sort: " + m.sortOrder.String(), "? help"}
	if m.viewMode == ViewDetail {
		hints = []string{"esc back", "↑↓ scroll", "r refresh", "q quit"}
	}
	return FooterStyle.Render(strings.Join(hints, " | "))
}

// pad pads s to width visible columns, truncating longer strings.
func pad(s string, width int) string {
	w := lipgloss.Width(s)
	if w > width {
		return truncate(s, width)
	}
	return s + strings.Repeat(" ", width-w)
}

// truncate shortens plain text to width runes, ending in an ellipsis.
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width || width < 2 {
		return s
	}
	return string(r[:width-1]) + "…"
}
