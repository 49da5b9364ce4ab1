package compositestream

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSubStream is an in-memory SubStream that records whether it has
// been closed, so tests can assert on open/close bookkeeping.
type memSubStream struct {
	*bytes.Reader
	closed *bool
}

func (m *memSubStream) Close() error {
	*m.closed = true
	return nil
}

func newPart(data []byte, closed *bool) Part {
	return Part{
		Length: int64(len(data)),
		Factory: func(ctx context.Context) (SubStream, error) {
			*closed = false
			return &memSubStream{Reader: bytes.NewReader(data), closed: closed}, nil
		},
	}
}

func TestCompositeStreamReadAcrossParts(t *testing.T) {
	var c1, c2 bool
	parts := []Part{
		newPart([]byte("hello "), &c1),
		newPart([]byte("world"), &c2),
	}
	cs := New(context.Background(), parts, 4)
	defer cs.Close()

	buf := make([]byte, 11)
	n, err := io.ReadFull(cs, buf)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf))
}

func TestCompositeStreamSeekWithinAndAcrossParts(t *testing.T) {
	var c1, c2, c3 bool
	parts := []Part{
		newPart([]byte("AAAA"), &c1),
		newPart([]byte("BBBB"), &c2),
		newPart([]byte("CCCC"), &c3),
	}
	cs := New(context.Background(), parts, 4)
	defer cs.Close()

	_, err := cs.Seek(6, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := io.ReadFull(cs, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "BBCC", string(buf))

	_, err = cs.Seek(100, io.SeekStart)
	assert.Error(t, err)
}

func TestCompositeStreamPassthroughClosesImmediately(t *testing.T) {
	var closed bool
	parts := []Part{newPart([]byte("data"), &closed)}
	cs := New(context.Background(), parts, 0)
	defer cs.Close()

	buf := make([]byte, 2)
	_, err := cs.Read(buf)
	require.NoError(t, err)
	assert.True(t, closed, "passthrough mode (cacheSize=0) should close the sub-stream after each read")
}

func TestCompositeStreamCachedModeKeepsStreamOpenUntilEvicted(t *testing.T) {
	var closed bool
	parts := []Part{newPart([]byte("data"), &closed)}
	cs := New(context.Background(), parts, 4)
	defer cs.Close()

	buf := make([]byte, 2)
	_, err := cs.Read(buf)
	require.NoError(t, err)
	assert.False(t, closed, "cached mode should keep the sub-stream open across reads")

	require.NoError(t, cs.Close())
	assert.True(t, closed, "Close should close every still-cached sub-stream")
}
