package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Confirmer asks for explicit approval before a risky action runs.
// Confirm blocks until answered; ambient indicators are paused meanwhile.
type Confirmer interface {
	Confirm(summary string) (bool, error)
}

// TerminalConfirmer prompts with a huh form on the controlling terminal.
type TerminalConfirmer struct {
	// AutoYes approves everything without prompting (--yes).
	AutoYes bool

	// Pause and Resume, when set, bracket the prompt so a running spinner
	// or progress bar releases the terminal first.
	Pause  func()
	Resume func()
}

// Confirm presents the summary and waits for a yes/no answer. Without a
// terminal it denies: a CRITICAL command must never slip through because
// the run happens to be non-interactive.
func (c *TerminalConfirmer) Confirm(summary string) (bool, error) {
	if c.AutoYes {
		return true, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, nil
	}

	if c.Pause != nil {
		c.Pause()
	}
	defer func() {
		if c.Resume != nil {
			c.Resume()
		}
	}()

	warn := lipgloss.NewStyle().Foreground(ColorWarning)
	var proceed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s %s", warn.Render(SymbolBlocked), summary)).
				Affirmative("Run it").
				Negative("Abort").
				Value(&proceed),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return proceed, nil
}

// StaticConfirmer returns a fixed answer. Used in tests and by callers
// that already resolved the decision.
type StaticConfirmer struct {
	Answer bool
	Asked  []string
}

func (c *StaticConfirmer) Confirm(summary string) (bool, error) {
	c.Asked = append(c.Asked, summary)
	return c.Answer, nil
}
