package sshutil

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opsrun/opsrun/internal/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AuthAttempt identifies one authentication method in the fallback chain.
// Methods are tried strictly in this order per hop, stopping at the first
// success. A method is skipped only when it is inapplicable (no agent, no
// key file, no credential source) — never because of a generic I/O error.
type AuthAttempt int

const (
	AuthAgent AuthAttempt = iota
	AuthKeyFile
	AuthKeyFilePassphrase
	AuthPassword
	AuthKeyboardInteractive
)

// String returns the method name used in error messages and logs.
func (a AuthAttempt) String() string {
	switch a {
	case AuthAgent:
		return "agent"
	case AuthKeyFile:
		return "key file"
	case AuthKeyFilePassphrase:
		return "key file (passphrase)"
	case AuthPassword:
		return "password"
	case AuthKeyboardInteractive:
		return "keyboard-interactive"
	default:
		return "unknown"
	}
}

// CredentialSource supplies interactive secrets during authentication.
// Implementations must never persist or log the values they return.
type CredentialSource interface {
	// Passphrase returns the passphrase for an encrypted key file.
	Passphrase(keyPath string) (string, error)

	// Password returns the login password for user@host.
	Password(user, host string) (string, error)

	// KeyboardInteractive answers a server challenge.
	KeyboardInteractive(user, instruction string, questions []string, echos []bool) ([]string, error)
}

// AuthError is the aggregate failure after every applicable method was
// exhausted for a hop. It lists the methods tried; individual attempt
// failures are logged, not surfaced.
type AuthError struct {
	Hop     Hop
	Methods []AuthAttempt
	Cause   error
}

func (e *AuthError) Error() string {
	names := make([]string, len(e.Methods))
	for i, m := range e.Methods {
		names[i] = m.String()
	}
	return fmt.Sprintf("authentication to %s failed (tried: %s)", e.Hop.String(), strings.Join(names, ", "))
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// Authenticator performs the SSH handshake for one hop, assembling the
// ordered fallback chain of auth methods.
type Authenticator struct {
	// Credentials supplies passphrases and passwords. When nil, the
	// password-bearing methods are inapplicable and are skipped.
	Credentials CredentialSource

	// HostKeys verifies server host keys. Defaults to the known_hosts
	// callback from DefaultHostKeyCallback when nil.
	HostKeys ssh.HostKeyCallback

	// AgentSocket overrides SSH_AUTH_SOCK, mainly for tests.
	AgentSocket string

	// Logger records skipped and failed attempts. Defaults to the package
	// default logger.
	Logger logger.Logger

	agentOnce   sync.Once
	agentClient agent.ExtendedAgent
}

func (a *Authenticator) log() logger.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return logger.Default()
}

// Authenticate runs the SSH handshake over conn for the given hop, trying
// auth methods strictly in order. The deadline bounds the whole handshake;
// it is the caller's share of the chain-wide connect timeout.
func (a *Authenticator) Authenticate(conn net.Conn, hop Hop, deadline time.Time) (*ssh.Client, error) {
	methods, tried, err := a.methodsFor(hop)
	if err != nil {
		return nil, err
	}
	if len(methods) == 0 {
		return nil, &AuthError{
			Hop:     hop,
			Methods: nil,
			Cause:   stderrors.New("no applicable auth methods"),
		}
	}

	hostKeys := a.HostKeys
	if hostKeys == nil {
		hostKeys, err = DefaultHostKeyCallback()
		if err != nil {
			return nil, err
		}
	}

	cfg := &ssh.ClientConfig{
		User:            hop.User,
		Auth:            methods,
		HostKeyCallback: hostKeys,
	}

	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, hop.Addr(), cfg)
	if err != nil {
		a.log().Debug("handshake with %s failed: %v", hop.String(), err)

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, err
		}
		return nil, &AuthError{Hop: hop, Methods: tried, Cause: err}
	}

	// Clear the handshake deadline; command timeouts are enforced per run.
	if !deadline.IsZero() {
		if err := conn.SetDeadline(time.Time{}); err != nil {
			sshConn.Close()
			return nil, err
		}
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// methodsFor assembles the applicable auth methods for a hop, in fallback
// order. It also returns the attempt list for aggregate error reporting.
func (a *Authenticator) methodsFor(hop Hop) ([]ssh.AuthMethod, []AuthAttempt, error) {
	var methods []ssh.AuthMethod
	var tried []AuthAttempt

	// 1. Agent
	if m := a.agentAuth(); m != nil {
		methods = append(methods, m)
		tried = append(tried, AuthAgent)
	} else {
		a.log().Debug("auth %s: agent inapplicable (no socket or no keys)", hop.String())
	}

	// 2. Key files. Candidates that parse cleanly feed the KEY_FILE state;
	// candidates that are specifically encrypted feed the passphrase state.
	plain, encrypted := a.loadKeyCandidates(hop)
	if len(plain) > 0 {
		methods = append(methods, ssh.PublicKeys(plain...))
		tried = append(tried, AuthKeyFile)
	} else {
		a.log().Debug("auth %s: no usable plain key files", hop.String())
	}

	// 3. Key file with passphrase: fires only on the "key is encrypted"
	// signal, and only when a credential source can prompt. The prompt is
	// deferred until the server actually asks for this method.
	if len(encrypted) > 0 && a.Credentials != nil {
		keyPaths := encrypted
		methods = append(methods, ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return a.unlockKeys(keyPaths)
		}))
		tried = append(tried, AuthKeyFilePassphrase)
	} else if len(encrypted) > 0 {
		a.log().Debug("auth %s: encrypted keys found but no credential source", hop.String())
	}

	// 4. Password, prompted lazily.
	if a.Credentials != nil {
		creds := a.Credentials
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			return creds.Password(hop.User, hop.Address)
		}))
		tried = append(tried, AuthPassword)

		// 5. Keyboard-interactive.
		methods = append(methods, ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			return creds.KeyboardInteractive(user, instruction, questions, echos)
		}))
		tried = append(tried, AuthKeyboardInteractive)
	}

	return methods, tried, nil
}

// agentAuth returns an auth method using the SSH agent if available.
// Returns nil (inapplicable) when no agent is running or it has no keys:
// an empty agent placed first would just burn a server-side attempt.
func (a *Authenticator) agentAuth() ssh.AuthMethod {
	socket := a.AgentSocket
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket == "" {
		return nil
	}

	a.agentOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		a.agentClient = agent.NewClient(conn)
	})

	if a.agentClient == nil {
		return nil
	}

	signers, err := a.agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(a.agentClient.Signers)
}

// loadKeyCandidates parses the hop's identity file plus the default key
// locations. Keys that parse cleanly are returned as signers; keys that are
// specifically encrypted are returned by path for the passphrase state.
// Other failures (missing file, garbage) make the candidate inapplicable.
func (a *Authenticator) loadKeyCandidates(hop Hop) (plain []ssh.Signer, encrypted []string) {
	candidates := keyCandidates(hop.KeyPath)

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		signer, err := ssh.ParsePrivateKey(data)
		if err == nil {
			plain = append(plain, signer)
			continue
		}

		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) || isEncryptedPEM(data) {
			encrypted = append(encrypted, path)
			continue
		}

		a.log().Debug("auth: skipping unparseable key %s: %v", path, err)
	}

	return plain, encrypted
}

// unlockKeys prompts for passphrases and parses the encrypted candidates.
func (a *Authenticator) unlockKeys(paths []string) ([]ssh.Signer, error) {
	var signers []ssh.Signer
	var lastErr error

	for _, path := range paths {
		passphrase, err := a.Credentials.Passphrase(path)
		if err != nil {
			lastErr = err
			continue
		}
		if passphrase == "" {
			lastErr = &EncryptedKeyError{Path: path}
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}

		signer, err := ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
		if err != nil {
			lastErr = fmt.Errorf("wrong passphrase for %s: %w", path, err)
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		if lastErr == nil {
			lastErr = stderrors.New("no encrypted keys could be unlocked")
		}
		return nil, lastErr
	}
	return signers, nil
}

// keyCandidates returns the ordered identity file candidates: the explicit
// path first (when set), then the conventional defaults.
func keyCandidates(explicit string) []string {
	var candidates []string
	if explicit != "" {
		candidates = append(candidates, explicit)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return candidates
	}

	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		path := filepath.Join(home, ".ssh", name)
		if path == explicit {
			continue
		}
		candidates = append(candidates, path)
	}
	return candidates
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED")) ||
		bytes.Contains(data, []byte("Proc-Type: 4,ENCRYPTED"))
}
