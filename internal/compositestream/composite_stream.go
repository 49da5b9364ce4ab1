// Package compositestream implements the composite stream (C6):
// concatenates multiple independently-openable sub-streams into one
// seekable logical stream, with a bounded LRU of live sub-streams so
// random-access seeks across many parts don't accumulate unbounded open
// connections. Cumulative-offset binary search is grounded on
// javi11-altmount/internal/usenet/range.go's logicalFilePos bookkeeping;
// the bounded-cache-of-open-parts design has no direct teacher analogue
// (see DESIGN.md) and is built fresh around
// github.com/hashicorp/golang-lru/v2, a teacher dependency otherwise
// unused by this module.
package compositestream

import (
	"context"
	"io"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
)

// SubStream is any seekable, closeable byte source a Part can open.
type SubStream interface {
	io.Reader
	io.Seeker
	io.Closer
}

// Part is one contiguous span of the composite stream, lazily opened by
// Factory on first access.
type Part struct {
	Factory func(ctx context.Context) (SubStream, error)
	Length  int64
}

// CompositeStream concatenates Parts into one seekable stream. Not safe
// for concurrent Read/Seek calls from multiple goroutines.
type CompositeStream struct {
	ctx   context.Context
	parts []Part
	offsets []int64 // cumulative offsets, len == len(parts)+1

	passthrough bool // cacheSize == 0: never retain an open sub-stream
	cache       *lru.Cache[int, SubStream]

	mu     sync.Mutex
	pos    int64
	closed bool
}

// New builds a CompositeStream. cacheSize bounds how many sub-streams
// stay open concurrently; cacheSize == 0 means every part access opens
// and immediately closes its sub-stream (SPEC_FULL.md's resolution for
// the composite-cache retirement open question — lru.New panics on a
// non-positive size, so this is handled as a distinct passthrough path
// rather than passed through to the LRU constructor).
func New(ctx context.Context, parts []Part, cacheSize int) *CompositeStream {
	offsets := make([]int64, len(parts)+1)
	for i, p := range parts {
		offsets[i+1] = offsets[i] + p.Length
	}

	cs := &CompositeStream{ctx: ctx, parts: parts, offsets: offsets}
	if cacheSize <= 0 {
		cs.passthrough = true
		return cs
	}

	cache, _ := lru.NewWithEvict(cacheSize, func(_ int, s SubStream) {
		_ = s.Close()
	})
	cs.cache = cache
	return cs
}

// Len reports the stream's total logical length.
func (cs *CompositeStream) Len() int64 { return cs.offsets[len(cs.offsets)-1] }

func (cs *CompositeStream) partAt(off int64) int {
	idx := sort.Search(len(cs.offsets)-1, func(i int) bool { return cs.offsets[i+1] > off })
	if idx >= len(cs.parts) {
		idx = len(cs.parts) - 1
	}
	return idx
}

// Seek implements io.Seeker over the logical concatenated length.
func (cs *CompositeStream) Seek(offset int64, whence int) (int64, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return 0, io.ErrClosedPipe
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = cs.pos + offset
	case io.SeekEnd:
		target = cs.Len() + offset
	default:
		return 0, &nzberrors.SeekPositionNotFoundError{Offset: offset, Length: cs.Len()}
	}
	if target < 0 || target > cs.Len() {
		return 0, &nzberrors.SeekPositionNotFoundError{Offset: target, Length: cs.Len()}
	}
	cs.pos = target
	return target, nil
}

// Read implements io.Reader, opening (or reusing a cached) sub-stream
// for the part covering the current position and seeking it to the
// right internal offset before copying bytes.
func (cs *CompositeStream) Read(p []byte) (int, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return 0, io.ErrClosedPipe
	}
	if cs.pos >= cs.Len() {
		return 0, io.EOF
	}
	if len(cs.parts) == 0 {
		return 0, io.EOF
	}

	idx := cs.partAt(cs.pos)
	sub, err := cs.openLocked(idx)
	if err != nil {
		return 0, err
	}

	within := cs.pos - cs.offsets[idx]
	if _, err := sub.Seek(within, io.SeekStart); err != nil {
		return 0, err
	}

	maxLen := cs.offsets[idx+1] - cs.pos
	if int64(len(p)) > maxLen {
		p = p[:maxLen]
	}

	n, err := sub.Read(p)
	cs.pos += int64(n)

	if cs.passthrough {
		_ = sub.Close()
	}

	if err == io.EOF && n > 0 {
		err = nil // more of the composite stream may follow
	}
	return n, err
}

// openLocked returns the sub-stream for part idx, opening it fresh if
// not already cached (or always fresh, under passthrough mode).
func (cs *CompositeStream) openLocked(idx int) (SubStream, error) {
	if !cs.passthrough {
		if sub, ok := cs.cache.Get(idx); ok {
			return sub, nil
		}
	}

	sub, err := cs.parts[idx].Factory(cs.ctx)
	if err != nil {
		return nil, err
	}

	if !cs.passthrough {
		cs.cache.Add(idx, sub)
	}
	return sub, nil
}

// Close closes every cached sub-stream and marks the composite closed.
func (cs *CompositeStream) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return nil
	}
	cs.closed = true
	if cs.cache != nil {
		for _, idx := range cs.cache.Keys() {
			if sub, ok := cs.cache.Peek(idx); ok {
				_ = sub.Close()
			}
		}
		cs.cache.Purge()
	}
	return nil
}
