package sizeoracle

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/pool"
)

// startHeaderServer serves BODY requests with a canned set of header
// lines per message-id, ignoring everything after (real segment bodies
// are much larger; the oracle only ever reads the header).
func startHeaderServer(t *testing.T, headers map[string][]string) (string, int) {
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
			go func(c net.Conn) {
				defer c.Close()
				_, _ = c.Write([]byte("200 ready\r\n"))
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					line = strings.TrimRight(line, "\r\n")
					if !strings.HasPrefix(line, "BODY") {
						_, _ = c.Write([]byte("500 unknown\r\n"))
						continue
					}
					fields := strings.Fields(line)
					id := strings.Trim(fields[1], "<>")
					lines, ok := headers[id]
					if !ok {
						_, _ = c.Write([]byte("430 no such article\r\n"))
						continue
					}
					_, _ = c.Write([]byte("222 body follows\r\n"))
					for _, l := range lines {
						_, _ = c.Write([]byte(l + "\r\n"))
					}
					_, _ = c.Write([]byte(".\r\n"))
					return // connection only needs to serve one request per test
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func newManager(t *testing.T, host string, port int) *pool.Manager {
	t.Helper()
	provider := domain.Provider{ID: "p1", Host: host, Port: port, MaxConnections: 8}
	m := pool.NewManager(8, 30)
	m.SetProviders([]domain.Provider{provider})
	t.Cleanup(m.Shutdown)
	return m
}

func TestFastAnalyzeSingleSegment(t *testing.T) {
	headers := map[string][]string{
		"seg1": {"=ybegin line=128 size=12345 name=test.bin"},
	}
	host, port := startHeaderServer(t, headers)
	manager := newManager(t, host, port)

	o := NewOracle(manager)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sizes, err := o.FastAnalyze(ctx, domain.OperationContext{Usage: domain.UsageAnalysis}, []domain.Segment{{MessageID: "seg1"}}, 4)
	require.NoError(t, err)
	require.Len(t, sizes, 1)
	assert.Equal(t, int64(12345), sizes[0])
}

func TestFastAnalyzeMultiplePartedSegments(t *testing.T) {
	headers := map[string][]string{
		"seg1": {
			"=ybegin part=1 total=2 line=128 size=2000 name=test.bin",
			"=ypart begin=1 end=1000",
		},
		"seg2": {
			"=ybegin part=2 total=2 line=128 size=2000 name=test.bin",
			"=ypart begin=1001 end=2000",
		},
	}
	host, port := startHeaderServer(t, headers)

	// startHeaderServer closes each connection after one request, but the
	// oracle destroys its lease per-segment anyway (a header-peek leaves
	// the connection mid-response), so a pool with room for 2 concurrent
	// dials covers both segments.
	provider := domain.Provider{ID: "p1", Host: host, Port: port, MaxConnections: 8}
	manager := pool.NewManager(8, 30)
	manager.SetProviders([]domain.Provider{provider})
	defer manager.Shutdown()

	o := NewOracle(manager)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	segs := []domain.Segment{{MessageID: "seg1", Ordinal: 0}, {MessageID: "seg2", Ordinal: 1}}
	sizes, err := o.FastAnalyze(ctx, domain.OperationContext{Usage: domain.UsageAnalysis}, segs, 4)
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	assert.Equal(t, int64(1000), sizes[0])
	assert.Equal(t, int64(1000), sizes[1])
}

func TestFastAnalyzeMissingSegmentErrors(t *testing.T) {
	host, port := startHeaderServer(t, map[string][]string{})
	manager := newManager(t, host, port)

	o := NewOracle(manager)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := o.FastAnalyze(ctx, domain.OperationContext{Usage: domain.UsageAnalysis}, []domain.Segment{{MessageID: "missing"}}, 2)
	require.Error(t, err)
}

func TestSmartAnalyzeInfersUniformInterior(t *testing.T) {
	const n = 20
	const partSize = 1000
	headers := make(map[string][]string)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("seg%d", i)
		begin := int64(i)*partSize + 1
		end := int64(i+1) * partSize
		headers[id] = []string{
			fmt.Sprintf("=ybegin part=%d total=%d line=128 size=%d name=big.bin", i+1, n, n*partSize),
			fmt.Sprintf("=ypart begin=%d end=%d", begin, end),
		}
	}
	host, port := startHeaderServer(t, headers)
	provider := domain.Provider{ID: "p1", Host: host, Port: port, MaxConnections: 16}
	manager := pool.NewManager(16, 30)
	manager.SetProviders([]domain.Provider{provider})
	defer manager.Shutdown()

	segs := make([]domain.Segment, n)
	for i := range segs {
		segs[i] = domain.Segment{MessageID: fmt.Sprintf("seg%d", i), Ordinal: i}
	}

	o := NewOracle(manager)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sizes, err := o.SmartAnalyze(ctx, domain.OperationContext{Usage: domain.UsageAnalysis}, segs, n*partSize)
	require.NoError(t, err)
	require.Len(t, sizes, n)

	var sum int64
	for _, s := range sizes {
		sum += s
	}
	assert.Equal(t, int64(n*partSize), sum)
	// Unsampled interior segments should have inferred the uniform size.
	assert.Equal(t, int64(partSize), sizes[smartSampleHead])
}
