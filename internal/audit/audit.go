// Package audit appends one line per executed action to a local log file.
// Entries never contain secret values; the command string is recorded as
// given, plus the free-form reason carried on the request.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opsrun/opsrun/internal/config"
	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/internal/logger"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time
	Target    string
	Command   string
	RiskTier  string
	ExitCode  int
	Duration  time.Duration
	Reason    string
}

// Line renders the entry in the pipe-separated audit format:
//
//	timestamp | target | command | risk_tier | exit_code | duration_ms | reason
func (e Entry) Line() string {
	return fmt.Sprintf("%s | %s | %s | %s | %d | %d | %s",
		e.Timestamp.UTC().Format(time.RFC3339),
		sanitize(e.Target),
		sanitize(e.Command),
		e.RiskTier,
		e.ExitCode,
		e.Duration.Milliseconds(),
		sanitize(e.Reason))
}

// sanitize keeps one entry on one line. Pipes inside fields are left alone;
// the fixed field count makes the line recoverable regardless.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

// Writer appends entries to a log file. A nil or disabled writer is a no-op,
// so callers record unconditionally.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	log  logger.Logger
}

// NewWriter opens (creating if needed) the audit log in append-only mode.
// Returns a no-op writer when auditing is disabled.
func NewWriter(cfg config.AuditConfig) (*Writer, error) {
	if !cfg.Enabled {
		return &Writer{}, nil
	}

	path := cfg.Path
	if path == "" {
		path = config.DefaultAuditPath()
	}
	path = config.ExpandHome(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to create audit log directory",
			fmt.Sprintf("Check permissions on %s or set audit.path in your config", filepath.Dir(path)))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to open audit log",
			fmt.Sprintf("Check permissions on %s or set audit.path in your config", path))
	}

	return &Writer{file: file, log: logger.NewEnvLogger("[audit]")}, nil
}

// Record appends one entry. Audit failures are logged but never fail the
// action they describe.
func (w *Writer) Record(e Entry) {
	if w == nil || w.file == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintln(w.file, e.Line()); err != nil {
		w.log.Error("audit write failed: %v", err)
	}
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if w == nil || w.file == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.file.Close()
	w.file = nil
	return err
}

// Enabled reports whether entries are actually being written.
func (w *Writer) Enabled() bool {
	return w != nil && w.file != nil
}
