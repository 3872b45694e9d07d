package sshutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// ExitCodeUnknown is the reserved sentinel for a missing or unknown exit
// code. It is distinct from 0 so an absent status is never read as success.
const ExitCodeUnknown = -1

// ErrCommandTimeout is returned when a command exceeds its timeout. The
// channel it ran on is force-closed mid-protocol, so the connection that
// carried it must not be reused.
var ErrCommandTimeout = stderrors.New("command timed out")

// Client is an authenticated end-to-end channel to the final target,
// holding the intermediate hop sessions it was built through. Closing the
// client cascades through every hop in reverse order.
type Client struct {
	*ssh.Client
	Descriptor *HostDescriptor

	// hops are the intermediate bastion clients, outermost first.
	hops []*ssh.Client
}

// Close closes the target session, then every hop in reverse order.
func (c *Client) Close() error {
	var first error
	if c.Client != nil {
		first = c.Client.Close()
	}
	for i := len(c.hops) - 1; i >= 0; i-- {
		if err := c.hops[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// HopCount returns the number of authenticated sessions in the chain.
func (c *Client) HopCount() int {
	return len(c.hops) + 1
}

// Keepalive sends a lightweight global request to check connection
// liveness without the overhead of creating a new session.
func (c *Client) Keepalive() error {
	_, _, err := c.Client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

// ExecContext runs one command over a fresh session, streaming stdout and
// stderr to the writers until completion or context cancellation.
//
// On cancellation the session is force-closed (the half-run command's side
// effects are unknown) and ErrCommandTimeout is returned; whatever output
// arrived before the cut is already in the writers. The caller must treat
// the connection as broken afterward.
//
// A non-zero exit with a clean channel close returns the code and no error.
// A command that finishes without reporting a status returns ExitCodeUnknown.
func (c *Client) ExecContext(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return ExitCodeUnknown, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	if err := session.Start(cmd); err != nil {
		return ExitCodeUnknown, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		// Force-close the channel; the remote command may keep running.
		session.Close()
		<-done
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ExitCodeUnknown, ErrCommandTimeout
		}
		return ExitCodeUnknown, ctx.Err()
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		var missingErr *ssh.ExitMissingError
		if stderrors.As(err, &missingErr) {
			return ExitCodeUnknown, nil
		}
		return ExitCodeUnknown, fmt.Errorf("failed to execute command: %w", err)
	}
}
