package dashboard

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/dockhop/internal/monitor"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/samber/lo"
)

// Source supplies cycles to the dashboard. *monitor.Snapshot implements it.
type Source interface {
	Refresh(ctx context.Context) (*monitor.CycleResult, error)
}

// Options configures the dashboard.
type Options struct {
	// Interval between automatic refreshes.
	Interval time.Duration
	// CycleTimeout bounds a single refresh.
	CycleTimeout time.Duration
	// Bastion is shown in the header.
	Bastion string
	Version string
}

const (
	defaultInterval     = 60 * time.Second
	defaultCycleTimeout = 5 * time.Minute
)

// Model is the Bubble Tea model for the watch dashboard.
type Model struct {
	ctx    context.Context
	source Source
	opts   Options

	hosts       []monitor.HostStatus
	configIndex map[string]int
	history     *History
	selected    int

	lastUpdate time.Time
	lastCycle  time.Duration
	lastErr    error
	refreshing bool

	width     int
	height    int
	quitting  bool
	sortOrder SortOrder
	viewMode  ViewMode
	showHelp  bool

	spinner        spinner.Model
	detailViewport viewport.Model
	viewportReady  bool
}

// tickMsg signals a periodic refresh.
type tickMsg time.Time

// cycleMsg carries a finished refresh.
type cycleMsg struct {
	result *monitor.CycleResult
	err    error
}

// NewModel creates a dashboard over source. targets are the host names in
// config order; they are shown as waiting until the first refresh lands.
// The first refresh starts with Init.
func NewModel(ctx context.Context, source Source, targets []string, opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = defaultCycleTimeout
	}

	configIndex := make(map[string]int, len(targets))
	for i, name := range targets {
		configIndex[name] = i
	}

	return Model{
		ctx:         ctx,
		source:      source,
		opts:        opts,
		hosts:       lo.Map(targets, func(name string, _ int) monitor.HostStatus { return monitor.HostStatus{Name: name} }),
		configIndex: configIndex,
		history:     NewHistory(DefaultHistorySize),
		refreshing:  true,
		spinner:     ui.NewSpinner(),
	}
}

// Init starts the first refresh and the refresh timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.tickCmd(), m.spinner.Tick)
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if handled, cmd := m.HandleKeyMsg(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Header takes 3 lines, footer 2.
		vpHeight := max(m.height-5, 1)
		if !m.viewportReady {
			m.detailViewport = viewport.New(m.width, vpHeight)
			m.detailViewport.YPosition = 3
			m.viewportReady = true
		} else {
			m.detailViewport.Width = m.width
			m.detailViewport.Height = vpHeight
		}
		if m.viewMode == ViewDetail {
			m.updateDetailViewportContent()
		}

	case tickMsg:
		return m, tea.Batch(m.tickCmd(), m.startRefresh())

	case cycleMsg:
		m.refreshing = false
		m.lastErr = msg.err
		if msg.result != nil {
			m.applyCycle(msg.result)
		}

	case spinner.TickMsg:
		if !m.refreshing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showHelp {
		return m.renderHelpOverlay()
	}
	return m.renderDashboard()
}

// startRefresh begins a refresh unless one is already running.
func (m *Model) startRefresh() tea.Cmd {
	if m.refreshing {
		return nil
	}
	m.refreshing = true
	return tea.Batch(m.refreshCmd(), m.spinner.Tick)
}

// refreshCmd runs one cycle off the UI goroutine.
func (m Model) refreshCmd() tea.Cmd {
	ctx, source, timeout := m.ctx, m.source, m.opts.CycleTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		res, err := source.Refresh(ctx)
		return cycleMsg{result: res, err: err}
	}
}

// tickCmd returns a command that sends a tick after the refresh interval.
func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.opts.Interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// applyCycle replaces the host list with a cycle's results.
func (m *Model) applyCycle(res *monitor.CycleResult) {
	m.hosts = append([]monitor.HostStatus(nil), res.Hosts...)
	m.lastUpdate = res.Finished
	m.lastCycle = res.Duration()

	for _, h := range m.hosts {
		if _, ok := m.configIndex[h.Name]; !ok {
			m.configIndex[h.Name] = len(m.configIndex)
		}
		if h.DockerAvailable() {
			m.history.Push(h.Name, float64(h.Counts().Running))
		}
	}

	m.sortHosts()
	m.selected = max(min(m.selected, len(m.hosts)-1), 0)
	if m.viewMode == ViewDetail {
		m.updateDetailViewportContent()
	}
}

// SelectedHost returns the name of the currently selected host.
func (m Model) SelectedHost() string {
	if h, ok := m.selectedStatus(); ok {
		return h.Name
	}
	return ""
}

func (m Model) selectedStatus() (monitor.HostStatus, bool) {
	if m.selected >= 0 && m.selected < len(m.hosts) {
		return m.hosts[m.selected], true
	}
	return monitor.HostStatus{}, false
}

// Refreshing reports whether a refresh is in flight.
func (m Model) Refreshing() bool {
	return m.refreshing
}

// Run shows the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, source Source, targets []string, opts Options) error {
	p := tea.NewProgram(NewModel(ctx, source, targets, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
