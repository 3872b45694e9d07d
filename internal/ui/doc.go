// Package ui provides terminal UI components for opsrun's CLI output.
//
// The package includes a spinner, a batch progress reporter, a blocking
// confirmation prompt, and styled result summaries using the Lip Gloss
// library for consistent terminal styling across all commands.
//
// # Color Scheme
//
// Colors are defined as ANSI codes for broad terminal compatibility:
//
//	ColorSuccess   (green)  - Successful actions
//	ColorError     (red)    - Failures and errors
//	ColorWarning   (yellow) - Warnings, blocked and skipped actions
//	ColorInfo      (cyan)   - Informational messages
//	ColorMuted     (gray)   - Secondary text, timing info
//	ColorSecondary (blue)   - In-progress indicators
//
// # Confirmation
//
// Confirmer presents a blocking yes/no prompt before CRITICAL commands run.
// While the prompt is on screen, any ambient spinner is paused so the two
// never fight over the terminal.
package ui
