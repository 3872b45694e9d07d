package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

// Reporter receives incremental batch progress. The dispatcher calls Done
// once per completed action, from worker goroutines.
type Reporter interface {
	Start(total int)
	Done(target string, ok bool)
	Finish()
}

// NopReporter discards progress. Used when --progress is off or output is
// not a terminal.
type NopReporter struct{}

func (NopReporter) Start(int)         {}
func (NopReporter) Done(string, bool) {}
func (NopReporter) Finish()           {}

// BarReporter renders a progress bar with a running per-target status line.
type BarReporter struct {
	// Out defaults to os.Stderr inside the bar library.
	Out io.Writer

	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	failed int
}

func (r *BarReporter) Start(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	opts := []progressbar.Option{
		progressbar.OptionSetDescription("running"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(24),
		progressbar.OptionClearOnFinish(),
	}
	if r.Out != nil {
		opts = append(opts, progressbar.OptionSetWriter(r.Out))
	}
	r.bar = progressbar.NewOptions(total, opts...)
}

func (r *BarReporter) Done(target string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar == nil {
		return
	}
	if !ok {
		r.failed++
	}
	r.bar.Describe(describeProgress(target, r.failed))
	_ = r.bar.Add(1)
}

func (r *BarReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func describeProgress(target string, failed int) string {
	if failed > 0 {
		style := lipgloss.NewStyle().Foreground(ColorError)
		return fmt.Sprintf("%s %s", target, style.Render(fmt.Sprintf("(%d failed)", failed)))
	}
	return target
}
