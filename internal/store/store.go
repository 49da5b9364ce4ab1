package store

import (
	"context"

	"github.com/nzbvault/nzbvault/internal/config"
	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/fetch"
	"github.com/nzbvault/nzbvault/internal/pool"

	"golang.org/x/sync/semaphore"
)

// Store is the virtual filesystem store (C9): item-tree lookups over the
// Repository, plus Open's composition of C5/C6/C7 into a ready-to-read
// stream. It is the sole entry point the WebDAV adapter and the health
// scheduler use to reach the metadata layer.
type Store struct {
	repo    *Repository
	manager *pool.Manager
	fetcher *fetch.Fetcher
	limiter *semaphore.Weighted
	cfg     config.StreamingConfig
}

// New builds a Store over an already-migrated DB and a configured
// provider pool manager. limiter bounds the process-wide count of
// concurrently open streaming reads (spec §4.9's global streaming limit).
func New(db *DB, manager *pool.Manager, cfg config.StreamingConfig) *Store {
	return &Store{
		repo:    db.Repo,
		manager: manager,
		fetcher: fetch.NewFetcher(manager),
		limiter: semaphore.NewWeighted(int64(cfg.GlobalStreamingLimit)),
		cfg:     cfg,
	}
}

// Get resolves a '/'-separated path to an item.
func (s *Store) Get(ctx context.Context, path string) (domain.Item, error) {
	return s.repo.GetByPath(ctx, path)
}

// GetByID resolves an item by its id directly, bypassing path walking.
func (s *Store) GetByID(ctx context.Context, id string) (domain.Item, error) {
	return s.repo.GetItem(ctx, id)
}

// List returns the direct children of a directory item.
func (s *Store) List(ctx context.Context, parentID string) ([]domain.Item, error) {
	return s.repo.ListChildren(ctx, parentID)
}

// Delete removes an item, recursively for directories, per spec §4.9.
func (s *Store) Delete(ctx context.Context, id string, recursive bool) error {
	return s.repo.DeleteItems(ctx, id, recursive)
}

// Open builds a seekable read stream over item's bytes, attaching a
// Streaming usage context whose affinity key is the item's parent
// directory name, normalised to strip obfuscation suffixes, so repeated
// opens of files from the same release share provider round-robin state
// (spec §4.9, §4.3).
func (s *Store) Open(ctx context.Context, id string) (Stream, domain.Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, domain.Item{}, err
	}

	if err := s.limiter.Acquire(ctx, 1); err != nil {
		return nil, domain.Item{}, err
	}

	oc := domain.OperationContext{
		Usage:       domain.UsageStreaming,
		AffinityKey: s.affinityKeyFor(ctx, item),
		ItemID:      item.ID,
	}

	var out Stream
	switch item.Type {
	case domain.ItemNzbFile:
		out, err = s.buildNzbStream(ctx, item, oc)
	case domain.ItemRarFile, domain.ItemMultipartFile:
		out, err = s.buildMultipartStream(ctx, item, oc)
	default:
		s.limiter.Release(1)
		return nil, domain.Item{}, errNotOpenable
	}
	if err != nil {
		s.limiter.Release(1)
		return nil, domain.Item{}, err
	}

	return &releasingStream{Stream: out, limiter: s.limiter}, item, nil
}

// affinityKeyFor derives the normalised parent directory name, falling
// back to the item's own name if it sits directly under the root.
func (s *Store) affinityKeyFor(ctx context.Context, item domain.Item) string {
	if item.ParentID == "" || item.ParentID == RootID {
		return normalizeAffinityKey(item.Name)
	}
	parent, err := s.repo.GetItem(ctx, item.ParentID)
	if err != nil || parent.Name == "" {
		return normalizeAffinityKey(item.Name)
	}
	return normalizeAffinityKey(parent.Name)
}

// releasingStream returns its process-wide streaming permit on Close,
// the counterpart to Open's Acquire.
type releasingStream struct {
	Stream
	limiter *semaphore.Weighted
	closed  bool
}

func (r *releasingStream) Close() error {
	err := r.Stream.Close()
	if !r.closed {
		r.closed = true
		r.limiter.Release(1)
	}
	return err
}

type notOpenableError struct{ msg string }

func (e *notOpenableError) Error() string { return e.msg }

var errNotOpenable = &notOpenableError{msg: "store: item is not an openable file"}
