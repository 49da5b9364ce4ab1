// Package pool implements the per-provider NNTP connection pool (C1):
// bounded lifecycle management with idle reaping, priority reservations
// for interactive traffic, forced eviction, and an event stream for
// observability. Grounded on avogabo-EDRmount's idle-channel pool and
// datallboy-GoNZB's provider-failover manager, generalized to the
// two-level (local + process-wide) reservation-gated admission control
// spec.md describes — neither secondary example implements reservation
// gating or idle reaping, both of which come directly from spec.md.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nzbvault/nzbvault/internal/domain"
	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
	"github.com/nzbvault/nzbvault/internal/nntp"
)

// Dialer abstracts connection creation so tests can substitute a fake.
type Dialer interface {
	Dial(ctx context.Context) (*nntp.Client, error)
}

type dialerFunc func(ctx context.Context) (*nntp.Client, error)

func (f dialerFunc) Dial(ctx context.Context) (*nntp.Client, error) { return f(ctx) }

// Event reports a pool state transition for observability.
type Event struct {
	Provider string
	Live     int
	Idle     int
	Max      int
}

type idleConn struct {
	conn       *nntp.Client
	lastTouch  time.Time
}

// Pool is one provider's bounded connection pool.
type Pool struct {
	provider domain.Provider
	dialer   Dialer
	global   *semaphore.Weighted // process-wide cross-pool cap, shared by peers
	local    *semaphore.Weighted // this provider's own cap

	idleTimeout time.Duration

	mu     sync.Mutex
	idle   []idleConn
	live   int
	active map[*nntp.Client]*Lease

	events chan Event

	stopReaper chan struct{}
	reaperOnce sync.Once
}

// NewPool constructs a pool for one provider. global is the process-wide
// semaphore shared across every provider's pool, enforcing the overall
// connection ceiling jointly with each pool's own local cap.
func NewPool(provider domain.Provider, global *semaphore.Weighted, idleTimeout time.Duration, dialer Dialer) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	p := &Pool{
		provider:    provider,
		dialer:      dialer,
		global:      global,
		local:       semaphore.NewWeighted(int64(provider.MaxConnections)),
		idleTimeout: idleTimeout,
		active:      make(map[*nntp.Client]*Lease),
		events:      make(chan Event, 16),
		stopReaper:  make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Events returns the pool's event stream; (live, idle, max) is emitted
// on every state change. The channel is never closed by the pool.
func (p *Pool) Events() <-chan Event { return p.events }

func (p *Pool) emit() {
	p.mu.Lock()
	ev := Event{Provider: p.provider.ID, Live: p.live, Idle: len(p.idle), Max: p.provider.MaxConnections}
	p.mu.Unlock()
	select {
	case p.events <- ev:
	default:
	}
}

// Lease is a leased connection. Callers must call exactly one of
// Release or Destroy when finished. done is guarded by its own mutex
// (not the pool's) since ForceRelease marks it from a different
// goroutine than the one holding the lease.
type Lease struct {
	pool  *Pool
	conn  *nntp.Client
	usage domain.UsageType

	mu   sync.Mutex
	done bool
}

// Client exposes the NNTP command surface to the caller.
func (l *Lease) Client() *nntp.Client { return l.conn }

// Release returns the connection to the idle LIFO stack.
func (l *Lease) Release() {
	if !l.markDone() {
		return
	}
	l.pool.release(l.conn)
}

// Destroy discards the socket and frees its slot permanently.
func (l *Lease) Destroy() {
	if !l.markDone() {
		return
	}
	l.pool.destroy(l.conn)
}

// markDone reports whether this is the first call to Release/Destroy/
// ForceRelease for the lease, flipping done so every later caller is a
// no-op. This is what keeps ForceRelease's direct disposal from being
// double-released by the original caller's own Release/Destroy.
func (l *Lease) markDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return false
	}
	l.done = true
	return true
}

// Acquire returns a leased connection. ctx carries cancellation; oc
// carries the usage context (never ambient state, per spec §9). Acquire
// derives the reservation from oc via domain.OperationContext.Reserved;
// that many slots remain free for competing callers.
func (p *Pool) Acquire(ctx context.Context, oc domain.OperationContext) (*Lease, error) {
	reserved := oc.Reserved(p.provider.MaxConnections)

	if err := p.acquireWithReservation(ctx, reserved); err != nil {
		return nil, err
	}
	if err := p.global.Acquire(ctx, 1); err != nil {
		p.local.Release(1)
		return nil, &nzberrors.CancelledError{Op: "pool.Acquire"}
	}

	conn, err := p.takeOrDial(ctx)
	if err != nil {
		p.local.Release(1)
		p.global.Release(1)
		return nil, err
	}

	lease := &Lease{pool: p, conn: conn, usage: oc.Usage}
	p.mu.Lock()
	p.active[conn] = lease
	p.mu.Unlock()
	p.emit()

	return lease, nil
}

// acquireWithReservation blocks until at least reserved+1 of the local
// cap's permits are free, so that reserved permits remain free after our
// own acquisition succeeds.
// Implemented as TryAcquire against a cap reduced by reserved, polling
// on ctx.Done and a short backoff, since x/sync/semaphore has no native
// "acquire unless fewer than N would remain" primitive.
func (p *Pool) acquireWithReservation(ctx context.Context, reserved int) error {
	if reserved <= 0 {
		return p.local.Acquire(ctx, 1)
	}

	max := int64(p.provider.MaxConnections)
	budget := max - int64(reserved)
	if budget < 1 {
		budget = 1
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		inUse := int64(len(p.active))
		p.mu.Unlock()
		if inUse < budget {
			if p.local.TryAcquire(1) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return &nzberrors.CancelledError{Op: "pool.Acquire"}
		case <-ticker.C:
		}
	}
}

func (p *Pool) takeOrDial(ctx context.Context) (*nntp.Client, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		ic := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return ic.conn, nil
	}
	p.live++
	p.mu.Unlock()

	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return nil, err
	}
	return conn, nil
}

func (p *Pool) release(conn *nntp.Client) {
	p.mu.Lock()
	delete(p.active, conn)
	p.idle = append(p.idle, idleConn{conn: conn, lastTouch: time.Now()})
	p.mu.Unlock()
	p.local.Release(1)
	p.global.Release(1)
	p.emit()
}

func (p *Pool) destroy(conn *nntp.Client) {
	p.mu.Lock()
	delete(p.active, conn)
	p.live--
	p.mu.Unlock()
	_ = conn.Close()
	p.local.Release(1)
	p.global.Release(1)
	p.emit()
}

// ForceRelease destroys every active lease whose usage type matches
// filter (or all active leases if filter is nil), closing the
// underlying socket immediately so any in-flight read on it fails fast.
// Each affected lease is marked done here, before its caller's own
// Release/Destroy can run, so that call becomes a genuine no-op instead
// of releasing the connection's permits a second time.
func (p *Pool) ForceRelease(filter func(domain.UsageType) bool) {
	p.mu.Lock()
	var toClose []*Lease
	for _, lease := range p.active {
		if filter == nil || filter(lease.usage) {
			toClose = append(toClose, lease)
		}
	}
	p.mu.Unlock()

	for _, lease := range toClose {
		if lease.markDone() {
			p.destroy(lease.conn)
		}
	}
}

// Provider returns the immutable provider configuration this pool was
// built from.
func (p *Pool) Provider() domain.Provider { return p.provider }

// Live reports the pool's live connection count (active + idle).
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *Pool) reapLoop() {
	interval := p.idleTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *Pool) reapOnce() {
	cutoff := time.Now().Add(-p.idleTimeout)

	p.mu.Lock()
	var keep []idleConn
	var expired []*nntp.Client
	for _, ic := range p.idle {
		if ic.lastTouch.Before(cutoff) {
			expired = append(expired, ic.conn)
		} else {
			keep = append(keep, ic)
		}
	}
	p.idle = keep
	p.live -= len(expired)
	p.mu.Unlock()

	// Idle connections hold no local/global permit — release() already
	// returned both when the connection went idle — so reaping one only
	// closes the socket and drops it from live; releasing permits here
	// too would push the semaphores below zero and panic.
	for _, conn := range expired {
		_ = conn.Close()
	}
	if len(expired) > 0 {
		p.emit()
		slog.Debug("pool: reaped idle connections", slog.String("provider", p.provider.ID), slog.Int("count", len(expired)))
	}
}

// Shutdown disposes of every idle and active connection and stops the
// idle reaper.
func (p *Pool) Shutdown() {
	p.reaperOnce.Do(func() { close(p.stopReaper) })

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	active := make([]*nntp.Client, 0, len(p.active))
	for conn := range p.active {
		active = append(active, conn)
	}
	p.active = make(map[*nntp.Client]*Lease)
	p.live = 0
	p.mu.Unlock()

	for _, ic := range idle {
		_ = ic.conn.Close()
	}
	for _, conn := range active {
		_ = conn.Close()
	}
}
