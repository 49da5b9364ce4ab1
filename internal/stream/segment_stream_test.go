package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/fetch"
)

// fakeFetcher serves fixed byte blocks per message-id, with an optional
// artificial delay and an optional always-missing set, so tests can
// exercise ordering, blocking-read, and failure semantics without a
// real network round trip.
type fakeFetcher struct {
	mu      sync.Mutex
	blocks  map[string][]byte
	missing map[string]bool
	delay   time.Duration
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, oc domain.OperationContext, seg domain.Segment, expectedSize int64, allowDegraded bool) (fetch.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return fetch.Result{}, ctx.Err()
		}
	}

	if f.missing[seg.MessageID] {
		if allowDegraded {
			return fetch.Result{Bytes: make([]byte, expectedSize), Degraded: true}, nil
		}
		return fetch.Result{}, errors.New("missing")
	}

	b, ok := f.blocks[seg.MessageID]
	if !ok {
		return fetch.Result{}, errors.New("no such block")
	}
	return fetch.Result{Bytes: b}, nil
}

func segs(sizes ...int) []domain.Segment {
	out := make([]domain.Segment, len(sizes))
	for i, sz := range sizes {
		out[i] = domain.Segment{MessageID: string(rune('a' + i)), Ordinal: i, Size: int64(sz)}
	}
	return out
}

func TestSegmentStreamSequentialRead(t *testing.T) {
	segments := segs(4, 4, 4)
	f := &fakeFetcher{blocks: map[string][]byte{
		"a": {1, 1, 1, 1},
		"b": {2, 2, 2, 2},
		"c": {3, 3, 3, 3},
	}}

	s := New(context.Background(), f, Config{Segments: segments, WorkerCount: 2, WindowSize: 2})
	defer s.Close()

	buf := make([]byte, 12)
	n, err := io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, []byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3}, buf)

	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSegmentStreamSeek(t *testing.T) {
	segments := segs(4, 4, 4)
	f := &fakeFetcher{blocks: map[string][]byte{
		"a": {1, 1, 1, 1},
		"b": {2, 2, 2, 2},
		"c": {3, 3, 3, 3},
	}}

	s := New(context.Background(), f, Config{Segments: segments, WorkerCount: 2, WindowSize: 2})
	defer s.Close()

	pos, err := s.Seek(8, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos)

	buf := make([]byte, 4)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{3, 3, 3, 3}, buf)

	_, err = s.Seek(100, io.SeekStart)
	assert.Error(t, err)
}

func TestSegmentStreamGracefulDegradation(t *testing.T) {
	segments := segs(4, 4)
	f := &fakeFetcher{
		blocks:  map[string][]byte{"a": {1, 1, 1, 1}},
		missing: map[string]bool{"b": true},
	}

	s := New(context.Background(), f, Config{Segments: segments, WorkerCount: 2, WindowSize: 2, AllowDegraded: true})
	defer s.Close()

	buf := make([]byte, 8)
	n, err := io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{1, 1, 1, 1, 0, 0, 0, 0}, buf)
	assert.True(t, s.Corrupted())
}

func TestSegmentStreamPropagatesFailureWithoutDegradation(t *testing.T) {
	segments := segs(4, 4)
	f := &fakeFetcher{
		blocks:  map[string][]byte{"a": {1, 1, 1, 1}},
		missing: map[string]bool{"b": true},
	}

	s := New(context.Background(), f, Config{Segments: segments, WorkerCount: 2, WindowSize: 2, AllowDegraded: false})
	defer s.Close()

	buf := make([]byte, 8)
	_, err := io.ReadFull(s, buf)
	assert.Error(t, err)
}

func TestSegmentStreamRespectsGlobalLimiter(t *testing.T) {
	segments := segs(4, 4, 4, 4)
	f := &fakeFetcher{
		blocks: map[string][]byte{"a": {1, 1, 1, 1}, "b": {2, 2, 2, 2}, "c": {3, 3, 3, 3}, "d": {4, 4, 4, 4}},
		delay:  20 * time.Millisecond,
	}

	limiter := semaphore.NewWeighted(1)
	s := New(context.Background(), f, Config{Segments: segments, WorkerCount: 4, WindowSize: 4, Limiter: limiter})
	defer s.Close()

	buf := make([]byte, 16)
	n, err := io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestSegmentStreamCloseCancelsPrefetch(t *testing.T) {
	segments := segs(4, 4)
	f := &fakeFetcher{
		blocks: map[string][]byte{"a": {1, 1, 1, 1}, "b": {2, 2, 2, 2}},
		delay:  200 * time.Millisecond,
	}

	s := New(context.Background(), f, Config{Segments: segments, WorkerCount: 2, WindowSize: 2})

	readDone := make(chan struct{})
	go func() {
		_, _ = s.Read(make([]byte, 1)) // blocks on the slow fetch until Close cancels it
		close(readDone)
	}()
	time.Sleep(20 * time.Millisecond) // let the fetch actually start

	closeDone := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
	case <-time.After(1 * time.Second):
		t.Fatal("Close did not return after context cancellation")
	}
	<-readDone
}
