// Package sshutil provides the SSH transport layer: host descriptors,
// per-hop authentication with ordered fallback, multi-hop tunnel
// construction, and command execution over an established tunnel.
package sshutil

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Hop is one authenticated session in a chain between the client and the
// final target.
type Hop struct {
	Name    string // inventory name, for error messages
	Address string
	Port    int
	User    string
	KeyPath string // optional identity file
}

// Addr returns the host:port string for dialing.
func (h Hop) Addr() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Address, fmt.Sprintf("%d", port))
}

// String returns the user@host:port form used in keys and error messages.
func (h Hop) String() string {
	return h.User + "@" + h.Addr()
}

// HostDescriptor describes how to reach a target: the final hop plus the
// ordered jump chain traversed to get there. Descriptors are call-scoped:
// built fresh per request from inventory data and call-site overrides.
type HostDescriptor struct {
	Hop

	// JumpChain is the ordered list of bastions, outermost first.
	// Resolved fully before any network I/O; cycles are rejected by the
	// resolver as a fatal pre-check.
	JumpChain []Hop

	// ConnectTimeout bounds tunnel construction including every hop's
	// authentication.
	ConnectTimeout time.Duration

	// CommandTimeout bounds a single command execution.
	CommandTimeout time.Duration

	// Local marks the sentinel descriptor that bypasses tunnel and auth
	// entirely, routing to direct process execution.
	Local bool
}

// ConnectionKey identifies a pooled connection: two descriptors whose
// effective path is identical map to the same key.
type ConnectionKey string

// LocalKey is the connection key for the local-execution sentinel.
const LocalKey ConnectionKey = "local"

// Key returns the connection key for this descriptor: the final
// user@address:port plus the resolved jump chain signature.
func (d *HostDescriptor) Key() ConnectionKey {
	if d.Local {
		return LocalKey
	}
	parts := make([]string, 0, len(d.JumpChain)+1)
	for _, hop := range d.JumpChain {
		parts = append(parts, hop.String())
	}
	parts = append(parts, d.Hop.String())
	return ConnectionKey(strings.Join(parts, "->"))
}

// HopCount returns the number of authenticated sessions the descriptor
// requires: every jump plus the final target.
func (d *HostDescriptor) HopCount() int {
	if d.Local {
		return 0
	}
	return len(d.JumpChain) + 1
}

// LocalDescriptor returns the sentinel descriptor for local execution.
func LocalDescriptor(commandTimeout time.Duration) *HostDescriptor {
	return &HostDescriptor{
		Hop:            Hop{Name: "local"},
		CommandTimeout: commandTimeout,
		Local:          true,
	}
}
