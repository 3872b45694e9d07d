// Package pool owns every live tunnel, keyed by connection path. It reuses
// healthy connections, evicts idle ones LRU-first when full, and hands out
// exclusive leases so a connection never runs two commands at once.
package pool

import (
	"context"
	goerrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/opsrun/opsrun/internal/config"
	"github.com/opsrun/opsrun/internal/errors"
	"github.com/opsrun/opsrun/internal/logger"
	"github.com/opsrun/opsrun/pkg/sshutil"
)

// BuildFunc dials and authenticates a full tunnel for a descriptor.
// Production wires this to sshutil.Builder.Build; tests substitute mocks.
type BuildFunc func(ctx context.Context, desc *sshutil.HostDescriptor) (sshutil.Transport, error)

// entry is a pooled connection. Owned exclusively by the pool; callers only
// ever see the Transport through a Lease.
type entry struct {
	key       sshutil.ConnectionKey
	transport sshutil.Transport
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool

	// building marks a placeholder slot while the tunnel is dialed outside
	// the lock. It reserves both the key and a capacity slot, so a key maps
	// to at most one live connection even under concurrent acquires.
	building bool
}

// Pool manages tunnels up to a fixed capacity.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[sshutil.ConnectionKey]*entry
	cfg     config.PoolConfig
	build   BuildFunc
	log     logger.Logger
	closed  bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a pool and starts its idle sweep.
func New(cfg config.PoolConfig, build BuildFunc) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}

	p := &Pool{
		entries:   make(map[sshutil.ConnectionKey]*entry),
		cfg:       cfg,
		build:     build,
		log:       logger.NewEnvLogger("[pool]"),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.sweep()
	return p
}

// Lease is exclusive ownership of one pooled connection for one command.
// Exactly one of Release or the pool's Close returns it.
type Lease struct {
	Transport sshutil.Transport
	Key       sshutil.ConnectionKey
	HopCount  int

	pool     *Pool
	broken   bool
	released bool
}

// MarkBroken flags the connection as unsafe to reuse. Release will discard
// it instead of returning it to the idle set.
func (l *Lease) MarkBroken() {
	l.broken = true
}

// Release returns the connection to the pool, or closes it if marked
// broken. Safe to call exactly once; callers defer it.
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	l.pool.release(l)
}

// Acquire returns a lease for the descriptor's connection key, building a
// fresh tunnel on miss. Blocks while the key's connection is leased
// elsewhere, while another goroutine is building it, or while the pool is
// at capacity with nothing idle to evict.
func (p *Pool) Acquire(ctx context.Context, desc *sshutil.HostDescriptor) (*Lease, error) {
	key := desc.Key()

	// Wake waiters when the caller gives up, so a cancelled acquire never
	// wedges in cond.Wait.
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	for {
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, errors.WrapWithCode(err, errors.ErrConnect,
				fmt.Sprintf("Gave up waiting for a connection to %s", key), "")
		}
		if p.closed {
			p.mu.Unlock()
			return nil, errors.New(errors.ErrConnect, "Connection pool is shut down", "")
		}

		if e, ok := p.entries[key]; ok {
			if e.building || e.inUse {
				p.cond.Wait()
				continue
			}

			// Claim the idle entry, then probe it outside the lock.
			e.inUse = true
			p.mu.Unlock()

			if err := e.transport.Keepalive(); err != nil {
				p.log.Debug("stale connection %s: %v", key, err)
				p.discard(e)
				p.mu.Lock()
				continue
			}

			p.mu.Lock()
			e.lastUsed = time.Now()
			p.mu.Unlock()
			return &Lease{Transport: e.transport, Key: key, HopCount: e.transport.HopCount(), pool: p}, nil
		}

		// Miss: reserve a capacity slot before dialing.
		if len(p.entries) >= p.cfg.MaxSize {
			if !p.evictIdleLRU() {
				// Everything is in use or building; wait for a release.
				p.cond.Wait()
				continue
			}
		}

		placeholder := &entry{key: key, building: true, inUse: true, createdAt: time.Now()}
		p.entries[key] = placeholder
		p.mu.Unlock()

		transport, err := p.buildWithRetry(ctx, desc)

		p.mu.Lock()
		if err != nil {
			delete(p.entries, key)
			p.cond.Broadcast()
			p.mu.Unlock()
			return nil, err
		}
		if p.closed {
			delete(p.entries, key)
			p.cond.Broadcast()
			p.mu.Unlock()
			transport.Close()
			return nil, errors.New(errors.ErrConnect, "Connection pool is shut down", "")
		}

		placeholder.transport = transport
		placeholder.building = false
		placeholder.lastUsed = time.Now()
		p.mu.Unlock()
		return &Lease{Transport: transport, Key: key, HopCount: transport.HopCount(), pool: p}, nil
	}
}

// buildWithRetry retries transient connect failures with linear backoff.
// Authentication failures are never retried; re-dialing would just
// re-prompt the operator.
func (p *Pool) buildWithRetry(ctx context.Context, desc *sshutil.HostDescriptor) (sshutil.Transport, error) {
	attempts := p.cfg.ConnectRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := p.cfg.RetryBackoff * time.Duration(attempt)
			p.log.Debug("retrying connect to %s in %v (attempt %d/%d)", desc.Key(), backoff, attempt+1, attempts)
			select {
			case <-ctx.Done():
				return nil, connectError(desc, ctx.Err())
			case <-time.After(backoff):
			}
		}

		transport, err := p.build(ctx, desc)
		if err == nil {
			return transport, nil
		}
		lastErr = err

		var authErr *sshutil.AuthError
		if goerrors.As(err, &authErr) {
			return nil, errors.WrapWithCode(err, errors.ErrAuth,
				fmt.Sprintf("Authentication failed for %s", desc.Hop.String()),
				"Check your SSH keys, or load the key into your agent with ssh-add")
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, connectError(desc, lastErr)
}

func connectError(desc *sshutil.HostDescriptor, cause error) error {
	return errors.WrapWithCode(cause, errors.ErrConnect,
		fmt.Sprintf("Could not connect to %s", desc.Hop.String()),
		"Verify the host is reachable and sshd is running")
}

// evictIdleLRU removes the least recently used idle entry. Returns false
// when every entry is leased or building. Callers must hold p.mu.
func (p *Pool) evictIdleLRU() bool {
	var victim *entry
	for _, e := range p.entries {
		if e.inUse || e.building {
			continue
		}
		if victim == nil || e.lastUsed.Before(victim.lastUsed) {
			victim = e
		}
	}
	if victim == nil {
		return false
	}

	p.log.Debug("evicting idle connection %s", victim.key)
	delete(p.entries, victim.key)
	victim.transport.Close()
	return true
}

func (p *Pool) release(l *Lease) {
	p.mu.Lock()
	e, ok := p.entries[l.Key]
	if !ok {
		p.mu.Unlock()
		return
	}

	if l.broken || p.closed {
		delete(p.entries, l.Key)
		p.cond.Broadcast()
		p.mu.Unlock()
		e.transport.Close()
		if l.broken {
			p.log.Debug("discarded broken connection %s", l.Key)
		}
		return
	}

	e.inUse = false
	e.lastUsed = time.Now()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// discard removes a claimed entry whose liveness probe failed.
func (p *Pool) discard(e *entry) {
	p.mu.Lock()
	delete(p.entries, e.key)
	p.cond.Broadcast()
	p.mu.Unlock()
	e.transport.Close()
}

// Len returns the number of pooled connections, including in-flight builds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close shuts the pool down: stops the sweep, closes every idle connection,
// and fails all pending acquires. Leased connections are closed as their
// holders release them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	var open []sshutil.Transport
	for key, e := range p.entries {
		if e.building || e.inUse {
			continue
		}
		open = append(open, e.transport)
		delete(p.entries, key)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	close(p.sweepStop)
	<-p.sweepDone

	for _, t := range open {
		t.Close()
	}
}

// sweep closes connections idle past the configured timeout.
func (p *Pool) sweep() {
	defer close(p.sweepDone)

	interval := p.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.sweepStop:
			return
		case <-ticker.C:
			p.sweepOnce(time.Now())
		}
	}
}

func (p *Pool) sweepOnce(now time.Time) {
	p.mu.Lock()
	var expired []sshutil.Transport
	for key, e := range p.entries {
		if e.inUse || e.building {
			continue
		}
		if now.Sub(e.lastUsed) >= p.cfg.IdleTimeout {
			p.log.Debug("idle timeout for %s", key)
			expired = append(expired, e.transport)
			delete(p.entries, key)
		}
	}
	if len(expired) > 0 {
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	for _, t := range expired {
		t.Close()
	}
}
