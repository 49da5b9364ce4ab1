package usenetfs

import (
	"bufio"
	"context"
	"hash/crc32"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/fetch"
	"github.com/nzbvault/nzbvault/internal/pool"
)

// encodeArticle yEnc-encodes payload the same way fetch's own tests do,
// so this package can exercise a real Fetcher over a fake BODY server
// without importing the fetch package's unexported test helpers.
func encodeArticle(payload []byte) []byte {
	var buf strings.Builder
	buf.WriteString("=ybegin line=128 size=")
	buf.WriteString(itoa(len(payload)))
	buf.WriteString(" name=seg\r\n")
	for _, b := range payload {
		v := b + 42
		if v == '=' || v == '\r' || v == '\n' || v == 0 {
			buf.WriteByte('=')
			buf.WriteByte(v + 64)
		} else {
			buf.WriteByte(v)
		}
	}
	buf.WriteString("\r\n=yend size=")
	buf.WriteString(itoa(len(payload)))
	buf.WriteString(" crc32=")
	buf.WriteString(hex32(crc32.ChecksumIEEE(payload)))
	buf.WriteString("\r\n")
	return []byte(buf.String())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func hex32(v uint32) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = hexDigits[v&0xF]
		v >>= 4
	}
	return string(out)
}

func startFakeNNTP(t *testing.T, bodies map[string][]byte) (string, int) {
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
					switch {
					case strings.HasPrefix(line, "BODY"):
						fields := strings.Fields(line)
						id := ""
						if len(fields) >= 2 {
							id = strings.Trim(fields[1], "<>")
						}
						body, ok := bodies[id]
						if !ok {
							_, _ = c.Write([]byte("430 no such article\r\n"))
							continue
						}
						_, _ = c.Write([]byte("222 body follows\r\n"))
						_, _ = c.Write(body)
						_, _ = c.Write([]byte(".\r\n"))
					case strings.HasPrefix(line, "QUIT"):
						_, _ = c.Write([]byte("205 bye\r\n"))
						return
					default:
						_, _ = c.Write([]byte("500 unknown\r\n"))
					}
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestFS_OpenReadsSegmentBackedFile(t *testing.T) {
	payload := []byte("archive volume header bytes and then some more trailing bytes")
	host, port := startFakeNNTP(t, map[string][]byte{"vol1": encodeArticle(payload)})

	manager := pool.NewManager(2, 30)
	manager.SetProviders([]domain.Provider{{ID: "p1", Host: host, Port: port, MaxConnections: 2}})
	defer manager.Shutdown()

	fetcher := fetch.NewFetcher(manager)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	files := map[string][]domain.Segment{
		"movie.rar": {{MessageID: "vol1", Ordinal: 0, Size: int64(len(payload))}},
	}
	fsys := New(ctx, fetcher, domain.OperationContext{Usage: domain.UsageQueue}, 2, 4, files)

	info, err := fsys.Stat("movie.rar")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size())

	f, err := fsys.Open("movie.rar")
	require.NoError(t, err)
	defer f.Close()

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFS_OpenUnknownNameFails(t *testing.T) {
	fsys := New(context.Background(), nil, domain.OperationContext{}, 1, 1, nil)
	_, err := fsys.Open("nope.bin")
	assert.Error(t, err)
}

func TestAferoFS_ReadOnlyMutationsRejected(t *testing.T) {
	fsys := New(context.Background(), nil, domain.OperationContext{}, 1, 1, nil)
	afs := NewAfero(fsys)

	_, err := afs.Create("x")
	assert.Error(t, err)
	assert.Error(t, afs.Mkdir("x", 0))
	assert.Error(t, afs.Remove("x"))
}
