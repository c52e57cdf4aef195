package dashboard

import (
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/dockhop/internal/monitor"
)

// SortOrder defines how hosts are sorted in the dashboard.
type SortOrder int

const (
	// SortByConfig keeps hosts.yaml order.
	SortByConfig SortOrder = iota
	SortByName
	// SortByOutcome puts problem hosts first.
	SortByOutcome
	SortByContainers
)

// String returns a human-readable label for the sort order.
func (s SortOrder) String() string {
	switch s {
	case SortByName:
		return "name"
	case SortByOutcome:
		return "status"
	case SortByContainers:
		return "containers"
	default:
		return "config"
	}
}

// Next cycles to the next sort order.
func (s SortOrder) Next() SortOrder {
	return SortOrder((int(s) + 1) % 4)
}

// ViewMode defines the current display mode of the dashboard.
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
)

// Key bindings as constants for consistency.
const (
	KeyQuit        = "q"
	KeyQuitAlt     = "ctrl+c"
	KeyRefresh     = "r"
	KeyCycleSort   = "s"
	KeySelectPrev  = "up"
	KeySelectPrevK = "k"
	KeySelectNext  = "down"
	KeySelectNextJ = "j"
	KeySelectFirst = "home"
	KeySelectLast  = "end"
	KeyExpand      = "enter"
	KeyCollapse    = "esc"
	KeyToggleHelp  = "?"
)

// HandleKeyMsg processes keyboard input. It reports whether the key was
// handled, with any command to run.
func (m *Model) HandleKeyMsg(msg tea.KeyMsg) (bool, tea.Cmd) {
	key := msg.String()

	if key == KeyToggleHelp {
		m.showHelp = !m.showHelp
		return true, nil
	}
	if m.showHelp && key == KeyCollapse {
		m.showHelp = false
		return true, nil
	}

	switch key {
	case KeyQuit, KeyQuitAlt:
		m.quitting = true
		return true, tea.Quit

	case KeyRefresh:
		return true, m.startRefresh()

	case KeyCycleSort:
		m.sortOrder = m.sortOrder.Next()
		m.sortHosts()
		return true, nil

	case KeySelectPrev, KeySelectPrevK, KeySelectNext, KeySelectNextJ:
		if m.viewMode == ViewDetail {
			// The detail viewport scrolls with the same keys.
			var cmd tea.Cmd
			m.detailViewport, cmd = m.detailViewport.Update(msg)
			return true, cmd
		}
		if key == KeySelectPrev || key == KeySelectPrevK {
			m.selected = max(m.selected-1, 0)
		} else {
			m.selected = max(min(m.selected+1, len(m.hosts)-1), 0)
		}
		return true, nil

	case KeySelectFirst:
		m.selected = 0
		return true, nil

	case KeySelectLast:
		if len(m.hosts) > 0 {
			m.selected = len(m.hosts) - 1
		}
		return true, nil

	case KeyExpand:
		switch {
		case m.viewMode == ViewDetail:
			m.viewMode = ViewList
		case len(m.hosts) > 0:
			m.viewMode = ViewDetail
			m.updateDetailViewportContent()
		}
		return true, nil

	case KeyCollapse:
		m.viewMode = ViewList
		return true, nil
	}

	return false, nil
}

// sortHosts re-sorts m.hosts by the current order, keeping the selection
// on the same host.
func (m *Model) sortHosts() {
	if len(m.hosts) == 0 {
		return
	}
	selected := m.SelectedHost()

	less := func(a, b monitor.HostStatus) bool { return m.configIndex[a.Name] < m.configIndex[b.Name] }
	switch m.sortOrder {
	case SortByName:
		less = func(a, b monitor.HostStatus) bool { return a.Name < b.Name }
	case SortByOutcome:
		less = func(a, b monitor.HostStatus) bool {
			ra, rb := outcomeRank(a.Outcome), outcomeRank(b.Outcome)
			if ra != rb {
				return ra < rb
			}
			return m.configIndex[a.Name] < m.configIndex[b.Name]
		}
	case SortByContainers:
		less = func(a, b monitor.HostStatus) bool {
			ca, cb := a.Counts().Running, b.Counts().Running
			if ca != cb {
				return ca > cb
			}
			return a.Name < b.Name
		}
	}
	sort.SliceStable(m.hosts, func(i, j int) bool { return less(m.hosts[i], m.hosts[j]) })

	for i, h := range m.hosts {
		if h.Name == selected {
			m.selected = i
			break
		}
	}
}

// outcomeRank orders outcomes worst first.
func outcomeRank(o monitor.Outcome) int {
	switch o {
	case monitor.OutcomeUnreachable:
		return 0
	case monitor.OutcomeRuntimeUnavailable:
		return 1
	case monitor.OutcomeCollectionFailed:
		return 2
	case monitor.OutcomeHealthy:
		return 3
	default:
		return 4
	}
}
