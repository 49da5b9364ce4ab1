package pool

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/nzbvault/nzbvault/internal/domain"
)

// startFakeNNTPServer spins up a minimal NNTP greeting/STAT/QUIT server
// so pool tests exercise the real dialer instead of a hand-rolled double,
// matching the teacher's preference for in-package fakes over mocking
// frameworks.
func startFakeNNTPServer(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeConn(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func serveFakeConn(conn net.Conn) {
	defer conn.Close()
	_, _ = conn.Write([]byte("200 fake nntp server ready\r\n"))
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "STAT"):
			_, _ = conn.Write([]byte("223 0 <msg> article exists\r\n"))
		case strings.HasPrefix(line, "QUIT"):
			_, _ = conn.Write([]byte("205 bye\r\n"))
			return
		default:
			_, _ = conn.Write([]byte("500 unknown command\r\n"))
		}
	}
}

func newTestPool(t *testing.T, maxConns int) *Pool {
	t.Helper()
	host, port := startFakeNNTPServer(t)
	provider := domain.Provider{ID: "p1", Host: host, Port: port, MaxConnections: maxConns}
	global := semaphore.NewWeighted(int64(maxConns))
	p := NewPool(provider, global, 50*time.Millisecond, NewNNTPDialer(provider))
	return p
}

func TestPoolAcquireRelease(t *testing.T) {
	p := newTestPool(t, 2)
	defer p.Shutdown()

	ctx := context.Background()
	oc := domain.OperationContext{Usage: domain.UsageStreaming}

	lease, err := p.Acquire(ctx, oc)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Live())

	lease.Release()

	lease2, err := p.Acquire(ctx, oc)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Live(), "releasing then re-acquiring should reuse the idle connection, not grow live count")
	lease2.Release()
}

func TestPoolReservationLeavesSlotsForStreaming(t *testing.T) {
	p := newTestPool(t, 6)
	defer p.Shutdown()

	ctx := context.Background()
	bg := domain.OperationContext{Usage: domain.UsageQueue}

	// Background usage reserves ceil(6/6)=1 slot; it may take at most 5.
	var leases []*Lease
	for i := 0; i < 5; i++ {
		l, err := p.Acquire(ctx, bg)
		require.NoError(t, err)
		leases = append(leases, l)
	}

	blockCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err := p.Acquire(blockCtx, bg)
	assert.Error(t, err, "6th background acquisition should block past its reservation budget")

	for _, l := range leases {
		l.Release()
	}
}

func TestPoolDestroyFreesSlot(t *testing.T) {
	p := newTestPool(t, 1)
	defer p.Shutdown()

	ctx := context.Background()
	oc := domain.OperationContext{Usage: domain.UsageStreaming}

	lease, err := p.Acquire(ctx, oc)
	require.NoError(t, err)
	lease.Destroy()
	assert.Equal(t, 0, p.Live())

	lease2, err := p.Acquire(ctx, oc)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Live())
	lease2.Release()
}

func TestPoolIdleReapDoesNotOverReleasePermits(t *testing.T) {
	p := newTestPool(t, 1) // idleTimeout 50ms, reaps every 25ms
	defer p.Shutdown()

	ctx := context.Background()
	oc := domain.OperationContext{Usage: domain.UsageStreaming}

	lease, err := p.Acquire(ctx, oc)
	require.NoError(t, err)
	lease.Release() // goes idle, already returns its permits

	// Wait well past idleTimeout so the reaper expires and closes it.
	// A regression here (reaper double-releasing the idle connection's
	// already-returned permits) would panic the reaper goroutine.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, p.Live(), "reaped idle connection should drop live count")

	// The local semaphore must still have exactly 1 permit outstanding
	// (not 2 from an over-release): acquiring once succeeds...
	l2, err := p.Acquire(ctx, oc)
	require.NoError(t, err)

	// ...and a second concurrent acquisition against this max=1 pool
	// must block, proving no extra permit leaked in from the reaper.
	blockCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(blockCtx, oc)
	assert.Error(t, err, "second acquisition on a max=1 pool must block if permits are accounted correctly")

	l2.Release()
}

func TestForceReleaseMakesCallerReleaseANoop(t *testing.T) {
	p := newTestPool(t, 1)
	defer p.Shutdown()

	ctx := context.Background()
	oc := domain.OperationContext{Usage: domain.UsageStreaming}

	lease, err := p.Acquire(ctx, oc)
	require.NoError(t, err)

	// Simulate an external disposal (e.g. provider marked unhealthy)
	// racing with the caller's own cleanup.
	p.ForceRelease(nil)

	// The caller's terminal call must be a no-op now, not a second
	// permit release — this must not allow more than max=1 concurrent
	// acquisitions afterward.
	assert.NotPanics(t, func() { lease.Release() })

	l2, err := p.Acquire(ctx, oc)
	require.NoError(t, err)

	blockCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(blockCtx, oc)
	assert.Error(t, err, "a double-released permit would let this second acquisition through")

	l2.Release()
}

func TestStatSucceedsAgainstFakeServer(t *testing.T) {
	p := newTestPool(t, 1)
	defer p.Shutdown()

	ctx := context.Background()
	lease, err := p.Acquire(ctx, domain.OperationContext{Usage: domain.UsageStreaming})
	require.NoError(t, err)
	defer lease.Release()

	err = lease.Client().Stat(ctx, "msg-id-1")
	require.NoError(t, err)
}
