package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/opsrun/opsrun/internal/util"
)

// ResultLine is the display projection of one batch result.
type ResultLine struct {
	Target   string
	Tier     string
	ExitCode int
	Duration time.Duration
	Err      error
	Blocked  bool
}

// RenderSummary formats batch results as an aligned status list with a
// pass/fail tally.
func RenderSummary(lines []ResultLine) string {
	if len(lines) == 0 {
		return ""
	}

	width := 0
	for _, l := range lines {
		if len(l.Target) > width {
			width = len(l.Target)
		}
	}

	muted := lipgloss.NewStyle().Foreground(ColorMuted)
	var b strings.Builder
	passed, failed := 0, 0

	for _, l := range lines {
		symbol, style := resultSymbol(l)
		if l.Err == nil && !l.Blocked && l.ExitCode == 0 {
			passed++
		} else {
			failed++
		}

		b.WriteString(fmt.Sprintf("%s %-*s  %s  %s",
			style.Render(symbol),
			width, l.Target,
			lipgloss.NewStyle().Foreground(TierColor(l.Tier)).Render(l.Tier),
			muted.Render(formatDuration(l.Duration))))

		switch {
		case l.Blocked:
			b.WriteString("  " + muted.Render("blocked"))
		case l.Err != nil:
			b.WriteString("  " + firstLine(l.Err.Error()))
		case l.ExitCode != 0:
			b.WriteString(fmt.Sprintf("  exit %d", l.ExitCode))
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\n%d %s passed, %d failed\n",
		passed, util.Pluralize(passed, "action", "actions"), failed))
	return b.String()
}

func resultSymbol(l ResultLine) (string, lipgloss.Style) {
	switch {
	case l.Blocked:
		return SymbolBlocked, lipgloss.NewStyle().Foreground(ColorWarning)
	case l.Err != nil || l.ExitCode != 0:
		return SymbolFail, lipgloss.NewStyle().Foreground(ColorError)
	default:
		return SymbolSuccess, lipgloss.NewStyle().Foreground(ColorSuccess)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
