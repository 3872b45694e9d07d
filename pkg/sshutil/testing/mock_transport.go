// Package testing provides mock implementations of the sshutil interfaces
// for tests that need a transport without a network.
package testing

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/opsrun/opsrun/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error

	// Delay simulates a slow remote command; ExecContext honors the
	// context deadline while waiting.
	Delay time.Duration
}

// MockTransport simulates an established connection for testing.
type MockTransport struct {
	mu        sync.Mutex
	hopCount  int
	closed    bool
	dead      bool // Keepalive fails when set
	commands  map[string]CommandResponse
	execCount int
	execLog   []string
}

// NewMockTransport creates a mock transport with the given hop count.
func NewMockTransport(hopCount int) *MockTransport {
	return &MockTransport{
		hopCount: hopCount,
		commands: make(map[string]CommandResponse),
	}
}

// OnCommand registers a canned response for a command pattern.
// The pattern can be an exact string or a regex.
func (m *MockTransport) OnCommand(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[pattern] = resp
}

// MarkDead makes subsequent Keepalive calls fail, simulating a connection
// that silently died while idle.
func (m *MockTransport) MarkDead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = true
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ExecCount returns how many commands ran on this transport.
func (m *MockTransport) ExecCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.execCount
}

// ExecLog returns the commands that ran, in order.
func (m *MockTransport) ExecLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.execLog))
	copy(out, m.execLog)
	return out
}

// ExecContext runs a command against the canned responses.
func (m *MockTransport) ExecContext(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return sshutil.ExitCodeUnknown, errors.New("connection closed")
	}
	m.execCount++
	m.execLog = append(m.execLog, cmd)
	resp, ok := m.lookup(cmd)
	m.mu.Unlock()

	if !ok {
		// Unknown commands succeed with empty output, like a quiet shell.
		resp = CommandResponse{}
	}

	if resp.Delay > 0 {
		select {
		case <-ctx.Done():
			return sshutil.ExitCodeUnknown, sshutil.ErrCommandTimeout
		case <-time.After(resp.Delay):
		}
	}

	if stdout != nil && resp.Stdout != "" {
		io.WriteString(stdout, resp.Stdout)
	}
	if stderr != nil && resp.Stderr != "" {
		io.WriteString(stderr, resp.Stderr)
	}

	if resp.Err != nil {
		return sshutil.ExitCodeUnknown, resp.Err
	}
	return resp.ExitCode, nil
}

// lookup finds a canned response by exact match first, then regex.
// Callers must hold m.mu.
func (m *MockTransport) lookup(cmd string) (CommandResponse, bool) {
	if resp, ok := m.commands[cmd]; ok {
		return resp, true
	}
	for pattern, resp := range m.commands {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return resp, true
		}
	}
	return CommandResponse{}, false
}

// Keepalive fails once the transport is closed or marked dead.
func (m *MockTransport) Keepalive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.dead {
		return errors.New("connection lost")
	}
	return nil
}

// HopCount returns the configured hop count.
func (m *MockTransport) HopCount() int {
	return m.hopCount
}

// Close marks the transport as closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// compile-time check
var _ sshutil.Transport = (*MockTransport)(nil)
