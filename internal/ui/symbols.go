package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Action completed successfully
	SymbolFail     = "✗" // Action failed
	SymbolPending  = "○" // Action not yet started
	SymbolProgress = "◐" // Action in progress
	SymbolBlocked  = "⊘" // Action blocked or skipped by policy
)
