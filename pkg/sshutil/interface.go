package sshutil

import (
	"context"
	"io"
)

// Transport is an established end-to-end channel capable of running
// commands. Both the real Client and mock implementations satisfy this
// interface, which lets pool and dispatch code be tested without network.
type Transport interface {
	// ExecContext runs one command over a fresh channel, streaming output
	// to the writers. Returns the exit code (ExitCodeUnknown when absent)
	// and any transport error; ErrCommandTimeout on cancellation.
	ExecContext(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error)

	// Keepalive cheaply checks connection liveness.
	Keepalive() error

	// HopCount returns the number of authenticated sessions in the chain.
	HopCount() int

	// Close tears down the channel, cascading through every hop.
	Close() error
}

// compile-time check
var _ Transport = (*Client)(nil)
