package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/dockhop/internal/docker"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/monitor"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/samber/lo"
)

// Format is an output format for a report.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
)

// Formats lists the supported formats.
var Formats = []Format{FormatTable, FormatJSON, FormatCSV}

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if lo.Contains(Formats, f) {
		return f, nil
	}
	return "", errors.New(errors.ErrConfig,
		fmt.Sprintf("Unknown output format %q", s),
		"Use one of: table, json, csv.")
}

// Extension is the file extension for saved reports.
func (f Format) Extension() string {
	if f == FormatTable {
		return "txt"
	}
	return string(f)
}

// Options adjusts what Write includes.
type Options struct {
	// Containers adds the per-container table to table output.
	Containers bool
}

// Write renders rep to w in the given format.
func Write(w io.Writer, rep *Report, f Format, opts Options) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, rep)
	case FormatCSV:
		return WriteCSV(w, rep)
	case FormatTable:
		_, err := io.WriteString(w, RenderTable(rep, opts))
		return err
	default:
		_, err := ParseFormat(string(f))
		return err
	}
}

// WriteJSON writes rep as indented JSON.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(rep)
}

// CSVHeader is the column order of WriteCSV.
var CSVHeader = []string{
	"host", "name", "id", "image", "status", "state", "created", "ports",
	"cpu_percent", "memory_usage", "memory_percent",
}

// WriteCSV writes one row per container with short IDs. Usage columns are
// empty where no sample was taken.
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, c := range rep.Containers {
		row := []string{
			c.Host, c.Name, c.ShortID(), c.Image, c.Status, string(c.State),
			c.Created, c.Ports, formatPercent(c.CPUPercent), c.MemoryUsage,
			formatPercent(c.MemoryPercent),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatPercent(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// RenderTable renders the summary, the host table and any failures.
func RenderTable(rep *Report, opts Options) string {
	var b strings.Builder
	title := lipgloss.NewStyle().Bold(true)

	s := rep.Summary
	b.WriteString(title.Render("Docker fleet summary"))
	b.WriteString("\n")
	b.WriteString(ui.RenderKeyValues([][2]string{
		{"Hosts", fmt.Sprintf("%d (%d connected, %d failed)", s.TotalHosts, s.ConnectedHosts, s.FailedHosts)},
		{"Containers", strconv.Itoa(s.TotalContainers)},
		{"Running", lipgloss.NewStyle().Foreground(ui.ColorSuccess).Render(strconv.Itoa(s.RunningContainers))},
		{"Stopped", lipgloss.NewStyle().Foreground(ui.ColorMuted).Render(strconv.Itoa(s.StoppedContainers))},
	}))
	b.WriteString("\n")

	if len(rep.Hosts) == 0 {
		b.WriteString("No hosts selected\n")
		return b.String()
	}

	hostRows := lo.Map(rep.Hosts, func(h HostRow, _ int) []string {
		return []string{
			OutcomeSymbol(h.Outcome) + " " + h.Name,
			h.Address,
			string(h.Outcome),
			lo.Ternary(h.DockerAvailable, ui.SymbolSuccess, ui.SymbolFail),
			strconv.Itoa(h.ContainerCount),
			strconv.Itoa(h.RunningCount),
			strconv.Itoa(h.StoppedCount),
		}
	})
	titles := []string{"HOST", "ADDRESS", "OUTCOME", "DOCKER", "TOTAL", "RUNNING", "STOPPED"}
	b.WriteString(title.Render("Hosts"))
	b.WriteString("\n")
	b.WriteString(ui.RenderSimpleTable(ui.AutoColumns(titles, hostRows, 32), hostRows))
	b.WriteString("\n")

	if opts.Containers && len(rep.Containers) > 0 {
		rows := lo.Map(rep.Containers, func(c docker.ContainerRecord, _ int) []string {
			return []string{
				c.Host, c.Name, c.ShortID(), c.Image, string(c.State),
				lo.Ternary(c.CPUPercent != nil, formatPercent(c.CPUPercent)+"%", "-"),
				lo.Ternary(c.MemoryUsage != "", c.MemoryUsage, "-"),
			}
		})
		titles := []string{"HOST", "NAME", "ID", "IMAGE", "STATE", "CPU", "MEMORY"}
		b.WriteString("\n")
		b.WriteString(title.Render("Containers"))
		b.WriteString("\n")
		b.WriteString(ui.RenderSimpleTable(ui.AutoColumns(titles, rows, 40), rows))
		b.WriteString("\n")
	}

	if len(rep.Failures) > 0 {
		errStyle := lipgloss.NewStyle().Foreground(ui.ColorError)
		b.WriteString("\n")
		b.WriteString(title.Render("Failures"))
		b.WriteString("\n")
		for _, f := range rep.Failures {
			fmt.Fprintf(&b, "  %s %s: %s\n", errStyle.Render(ui.SymbolFail), f.Host, f.Error)
		}
	}

	return b.String()
}

// OutcomeSymbol is the status glyph for a host outcome.
func OutcomeSymbol(o monitor.Outcome) string {
	switch o {
	case monitor.OutcomeHealthy:
		return ui.SymbolSuccess
	case monitor.OutcomeUnreachable:
		return ui.SymbolFail
	default:
		return ui.SymbolSkipped
	}
}
