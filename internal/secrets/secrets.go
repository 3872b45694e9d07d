// Package secrets prompts for passphrases and passwords on the terminal.
// Values are cached in memory for the session only; nothing is ever written
// to disk or emitted through the logger.
package secrets

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/pkg/sshutil"
)

// TerminalPrompter reads secrets from the controlling terminal with echo
// disabled. Passphrases are cached per key path so a multi-hop chain using
// the same key prompts once.
type TerminalPrompter struct {
	// Pause and Resume, when set, bracket every prompt. The dispatcher
	// uses them to stop an ambient spinner while the terminal is needed.
	Pause  func()
	Resume func()

	mu          sync.Mutex
	passphrases map[string]string
}

// NewTerminalPrompter creates a prompter with an empty session cache.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{passphrases: make(map[string]string)}
}

// Passphrase returns the passphrase for a key file, prompting at most once
// per path per session.
func (p *TerminalPrompter) Passphrase(keyPath string) (string, error) {
	p.mu.Lock()
	if cached, ok := p.passphrases[keyPath]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	value, err := p.read(fmt.Sprintf("Enter passphrase for %s: ", keyPath))
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.passphrases[keyPath] = value
	p.mu.Unlock()
	return value, nil
}

// Password prompts for a login password. Not cached: password auth is a
// last resort and re-prompting is safer than holding the value.
func (p *TerminalPrompter) Password(user, host string) (string, error) {
	return p.read(fmt.Sprintf("%s@%s's password: ", user, host))
}

// KeyboardInteractive answers a server-driven challenge by relaying each
// question to the terminal.
func (p *TerminalPrompter) KeyboardInteractive(user, instruction string, questions []string, echos []bool) ([]string, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	if instruction != "" {
		fmt.Fprintln(os.Stderr, instruction)
	}

	answers := make([]string, len(questions))
	for i, q := range questions {
		var err error
		if echos[i] {
			answers[i], err = p.readEcho(q)
		} else {
			answers[i], err = p.read(q)
		}
		if err != nil {
			return nil, err
		}
	}
	return answers, nil
}

// Forget drops the cached passphrase for a key path, forcing a re-prompt.
// Called when an unlock fails so a typo isn't cached for the session.
func (p *TerminalPrompter) Forget(keyPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.passphrases, keyPath)
}

func (p *TerminalPrompter) read(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New(errors.ErrAuth,
			"Cannot prompt for a secret without a terminal",
			"Use an SSH agent or an unencrypted key when running non-interactively")
	}

	if p.Pause != nil {
		p.Pause()
	}
	defer func() {
		if p.Resume != nil {
			p.Resume()
		}
	}()

	fmt.Fprint(os.Stderr, prompt)
	value, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "Failed to read secret from terminal")
	}
	return string(value), nil
}

func (p *TerminalPrompter) readEcho(prompt string) (string, error) {
	if p.Pause != nil {
		p.Pause()
	}
	defer func() {
		if p.Resume != nil {
			p.Resume()
		}
	}()

	fmt.Fprint(os.Stderr, prompt)
	var value string
	if _, err := fmt.Fscanln(os.Stdin, &value); err != nil {
		return "", errors.Wrap(err, "Failed to read response from terminal")
	}
	return value, nil
}

// StaticPrompter returns fixed values without touching the terminal.
// Intended for tests and non-interactive callers that preload secrets.
type StaticPrompter struct {
	Passphrases map[string]string // keyed by key path
	Passwords   map[string]string // keyed by user@host
}

func (s *StaticPrompter) Passphrase(keyPath string) (string, error) {
	if v, ok := s.Passphrases[keyPath]; ok {
		return v, nil
	}
	return "", errors.New(errors.ErrAuth,
		fmt.Sprintf("No passphrase available for %s", keyPath), "")
}

func (s *StaticPrompter) Password(user, host string) (string, error) {
	if v, ok := s.Passwords[user+"@"+host]; ok {
		return v, nil
	}
	return "", errors.New(errors.ErrAuth,
		fmt.Sprintf("No password available for %s@%s", user, host), "")
}

func (s *StaticPrompter) KeyboardInteractive(user, instruction string, questions []string, echos []bool) ([]string, error) {
	return nil, errors.New(errors.ErrAuth, "Keyboard-interactive not supported by static prompter", "")
}

// compile-time checks
var (
	_ sshutil.CredentialSource = (*TerminalPrompter)(nil)
	_ sshutil.CredentialSource = (*StaticPrompter)(nil)
)
