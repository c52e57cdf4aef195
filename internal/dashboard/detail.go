package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/dockhop/internal/docker"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/samber/lo"
)

// renderDetailView renders the selected host's containers in the
// scrollable viewport.
func (m Model) renderDetailView() string {
	if _, ok := m.selectedStatus(); !ok {
		return LabelStyle.Render("No host selected")
	}
	if !m.viewportReady {
		return m.renderHostDetail()
	}
	return m.detailViewport.View()
}

// updateDetailViewportContent refreshes the viewport after the selection
// or the data changed.
func (m *Model) updateDetailViewportContent() {
	if m.viewportReady {
		m.detailViewport.SetContent(m.renderHostDetail())
	}
}

// renderHostDetail renders the host facts and its container table.
func (m Model) renderHostDetail() string {
	h, ok := m.selectedStatus()
	if !ok {
		return ""
	}

	var b strings.Builder
	b.WriteString(StatusIndicator(h.Outcome) + " " + HostNameStyle.Render(h.Name) + " " + LabelStyle.Render(h.Address))
	b.WriteString("\n\n")

	facts := [][2]string{{"Status", outcomeLabel(h.Outcome)}}
	if h.DockerVersion != "" {
		facts = append(facts, [2]string{"Docker", h.DockerVersion})
	}
	if !h.CollectedAt.IsZero() {
		facts = append(facts, [2]string{"Collected", fmt.Sprintf("%s (took %s)",
			h.CollectedAt.Format(time.TimeOnly), ui.FormatDuration(h.Elapsed))})
	}
	if len(h.Tags) > 0 {
		facts = append(facts, [2]string{"Tags", strings.Join(h.Tags, ", ")})
	}
	if h.Error != "" {
		facts = append(facts, [2]string{"Error", ErrorTextStyle.Render(h.Error)})
	}
	b.WriteString(ui.RenderKeyValues(facts))
	b.WriteString("\n")

	if len(h.Containers) == 0 {
		b.WriteString(LabelStyle.Render(lo.Ternary(h.DockerAvailable(), "No containers", "No container data")))
		return b.String()
	}

	rows := lo.Map(h.Containers, func(c docker.ContainerRecord, _ int) []string {
		return []string{
			lo.Ternary(c.IsRunning(), ui.SymbolComplete, ui.SymbolStopped) + " " + c.Name,
			c.ShortID(),
			c.Image,
			c.Status,
			percent(c.CPUPercent),
			lo.Ternary(c.MemoryUsage != "", c.MemoryUsage, "-"),
			c.Ports,
		}
	})
	titles := []string{"NAME", "ID", "IMAGE", "STATUS", "CPU", "MEMORY", "PORTS"}
	b.WriteString(ui.RenderSimpleTable(ui.AutoColumns(titles, rows, 36), rows))
	return b.String()
}

func percent(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *p)
}
