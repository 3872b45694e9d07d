package sshutil

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/opsrun/opsrun/internal/logger"
	"golang.org/x/crypto/ssh"
)

// Builder composes authenticated hops into one end-to-end channel.
type Builder struct {
	Auth   *Authenticator
	Logger logger.Logger
}

// NewBuilder creates a tunnel builder using the given authenticator.
func NewBuilder(auth *Authenticator) *Builder {
	return &Builder{Auth: auth, Logger: logger.NewEnvLogger("[tunnel]")}
}

func (b *Builder) log() logger.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return logger.Default()
}

// Build dials and authenticates the descriptor's full path: the first hop
// directly, each subsequent hop through a channel forwarded by the previous
// one, ending at the final target. The whole chain, including every
// handshake, is bounded by the descriptor's connect timeout.
//
// A failure at hop k closes everything built so far and reports which hop
// failed; there is no fallback to a partial path.
func (b *Builder) Build(ctx context.Context, desc *HostDescriptor) (*Client, error) {
	if desc.Local {
		return nil, fmt.Errorf("local descriptor has no tunnel")
	}

	timeout := desc.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	path := make([]Hop, 0, len(desc.JumpChain)+1)
	path = append(path, desc.JumpChain...)
	path = append(path, desc.Hop)

	var hops []*ssh.Client
	closeAll := func() {
		for i := len(hops) - 1; i >= 0; i-- {
			hops[i].Close()
		}
	}

	for i, hop := range path {
		var conn net.Conn
		var err error

		if i == 0 {
			dialer := &net.Dialer{Deadline: deadline}
			conn, err = dialer.DialContext(ctx, "tcp", hop.Addr())
		} else {
			conn, err = dialThrough(ctx, hops[i-1], hop.Addr())
		}
		if err != nil {
			closeAll()
			return nil, &HopError{Index: i, Hop: hop, Total: len(path), Cause: err}
		}

		client, err := b.Auth.Authenticate(conn, hop, deadline)
		if err != nil {
			conn.Close()
			closeAll()
			return nil, &HopError{Index: i, Hop: hop, Total: len(path), Cause: err}
		}

		b.log().Debug("hop %d/%d up: %s", i+1, len(path), hop.String())
		hops = append(hops, client)
	}

	target := hops[len(hops)-1]
	return &Client{
		Client:     target,
		Descriptor: desc,
		hops:       hops[:len(hops)-1],
	}, nil
}

// HopError reports which hop of a chain failed during tunnel construction.
type HopError struct {
	Index int // zero-based position in the chain
	Total int
	Hop   Hop
	Cause error
}

func (e *HopError) Error() string {
	return fmt.Sprintf("tunnel failed at hop %d/%d (%s): %v", e.Index+1, e.Total, e.Hop.String(), e.Cause)
}

func (e *HopError) Unwrap() error {
	return e.Cause
}

// dialThrough opens a TCP connection to addr forwarded through an
// established hop. ssh.Client.Dial has no context support, so the dial runs
// in a goroutine and the context can abandon it.
func dialThrough(ctx context.Context, through *ssh.Client, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		conn, err := through.Dial("tcp", addr)
		ch <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// Don't leak a late-arriving connection.
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-ch:
		return res.conn, res.err
	}
}
