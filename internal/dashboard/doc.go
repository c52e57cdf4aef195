// Package dashboard implements the `dockhop watch` TUI: a live list of
// hosts with their outcome and container counts, refreshed on a timer or
// on demand, and a per-host container view.
//
// # Architecture
//
// The package uses the Bubble Tea framework (Model-Update-View):
//
//   - Model: hosts from the latest cycle, selection, sort order, view mode
//   - Update: keystrokes, refresh ticks, finished cycles
//   - View: renders the current state to a string
//
// # Message Flow
//
//  1. tickMsg fires every refresh interval.
//  2. refreshCmd runs Source.Refresh off the UI goroutine. A refresh
//     already in flight is not started twice.
//  3. cycleMsg lands and replaces the host list, records the running
//     container count in History for the sparkline column.
//
// Every refresh is a full collection cycle with fresh connections; the
// dashboard holds no SSH state of its own.
package dashboard
