package ui

import "github.com/charmbracelet/lipgloss"

// Semantic colors for status indication, as ANSI codes for terminal
// compatibility.
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// TierColor maps a risk tier name to its display color.
func TierColor(tier string) lipgloss.Color {
	switch tier {
	case "CRITICAL":
		return ColorError
	case "MODERATE":
		return ColorWarning
	case "LOW":
		return ColorSuccess
	default:
		return ColorMuted
	}
}
