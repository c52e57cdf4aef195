package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Host healthy
	SymbolFail     = "✗" // Host unreachable
	SymbolPending  = "○" // Not collected yet
	SymbolProgress = "◐" // Refresh in progress
	SymbolComplete = "●" // Container running
	SymbolSkipped  = "⊘" // Docker missing or collection failed
	SymbolStopped  = "◌" // Container not running
)
