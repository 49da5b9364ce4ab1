// Package fetch implements the segment fetcher (C3): fetch + decode +
// validate one segment across providers, with failover, graceful
// degradation, and per-(job, provider) metrics. Grounded on
// datallboy-GoNZB/internal/nntp/manager.go's provider-failover loop
// (MissingFrom tracking, sequential candidate iteration), combined with
// graceful degradation, which that simpler example lacks. Failover to the
// next provider is immediate: no backoff delay is applied between
// provider attempts, and no provider is tried twice within one Fetch.
package fetch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/nzbvault/nzbvault/internal/domain"
	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
	"github.com/nzbvault/nzbvault/internal/nntp"
	"github.com/nzbvault/nzbvault/internal/pool"
	"github.com/nzbvault/nzbvault/internal/yenc"
)

// Fetcher fetches and yEnc-decodes individual segments, failing over
// across the configured providers per spec §4.3.
type Fetcher struct {
	manager *pool.Manager

	mu      sync.Mutex
	offsets map[string]int // per affinity-key randomised round-robin offsets, set once
}

// NewFetcher builds a Fetcher over the given provider pool manager.
func NewFetcher(manager *pool.Manager) *Fetcher {
	return &Fetcher{manager: manager, offsets: make(map[string]int)}
}

// Result is the outcome of a successful segment fetch.
type Result struct {
	Bytes      []byte
	Provider   string
	Header     yenc.Header
	Degraded   bool // true if graceful-degradation substituted zero-fill
}

// Fetch fetches one segment's decoded bytes, trying providers in
// affinity/priority order and failing over to the next candidate on
// missing-article, CRC-mismatch, or connection fault, per spec §4.3
// steps 1-6 and §7 ("a yEnc CRC failure is retried once on another
// provider"). A given provider is attempted exactly once per call; a
// CRC failure is never retried against the same provider.
//
// expectedSize, when > 0, is used to build a zero-filled substitute on
// graceful degradation (streaming reads only, per SPEC_FULL.md's
// resolution of the degradation-scope open question — callers doing
// ingestion-time reads must pass allowDegraded=false).
func (f *Fetcher) Fetch(ctx context.Context, oc domain.OperationContext, seg domain.Segment, expectedSize int64, allowDegraded bool) (Result, error) {
	order := f.providerOrder(oc.JobName, oc.AffinityKey)
	if len(order) == 0 {
		return Result{}, &nzberrors.ArticleNotFoundError{MessageID: seg.MessageID}
	}

	exhausted := make(map[string]bool) // ruled out: missing article or CRC mismatch
	var lastErr error

	for _, providerID := range order {
		if exhausted[providerID] {
			continue
		}

		p := f.manager.GetPool(providerID)
		if p == nil {
			continue
		}

		result, err := f.fetchFromProvider(ctx, oc, p, seg)
		if err == nil {
			return result, nil
		}

		var respErr *nntp.ResponseError
		if asResponseError(err, &respErr) && respErr.IsMissing() {
			exhausted[providerID] = true
			f.manager.GetMetrics().RecordMissing(oc.JobName, providerID)
			continue
		}

		var crcErr *nzberrors.CrcMismatchError
		if asCrcError(err, &crcErr) {
			exhausted[providerID] = true
			f.manager.GetMetrics().RecordFailure(oc.JobName, providerID)
			lastErr = err
			continue
		}

		f.manager.GetMetrics().RecordFailure(oc.JobName, providerID)
		lastErr = err
	}

	if len(exhausted) == len(order) {
		if allowDegraded && expectedSize > 0 {
			return Result{Bytes: make([]byte, expectedSize), Degraded: true}, nil
		}
		// Persistent CRC mismatch or missing-article across every
		// provider surfaces as ArticleNotFound, per spec §7, rather than
		// leaking the raw CRC error to callers.
		return Result{}, &nzberrors.ArticleNotFoundError{MessageID: seg.MessageID, Providers: order}
	}

	if lastErr != nil {
		return Result{}, lastErr
	}
	return Result{}, &nzberrors.ArticleNotFoundError{MessageID: seg.MessageID, Providers: order}
}

func asResponseError(err error, target **nntp.ResponseError) bool {
	return errors.As(err, target)
}

// fetchFromProvider performs exactly one attempt against p: acquire,
// fetch the raw article, and yEnc-decode it. A CRC mismatch here is
// reported to the caller's provider-failover loop rather than retried
// against the same provider, per spec §7.
func (f *Fetcher) fetchFromProvider(ctx context.Context, oc domain.OperationContext, p *pool.Pool, seg domain.Segment) (Result, error) {
	start := time.Now()
	lease, err := p.Acquire(ctx, oc)
	if err != nil {
		return Result{}, err
	}

	body, err := lease.Client().Body(ctx, seg.MessageID)
	if err != nil {
		lease.Destroy()
		return Result{}, err
	}
	lease.Release()

	hdr, decoded, err := yenc.Decode(seg.MessageID, body)
	if err != nil {
		return Result{}, err
	}

	f.manager.GetMetrics().RecordSuccess(oc.JobName, p.Provider().ID, int64(len(decoded)), time.Since(start))
	return Result{Bytes: decoded, Provider: p.Provider().ID, Header: hdr}, nil
}

func asCrcError(err error, target **nzberrors.CrcMismatchError) bool {
	return errors.As(err, target)
}

// providerOrder computes the candidate order for one acquisition: primary
// providers ranked by recent EWMA speed for jobName if stats exist,
// otherwise round-robin with a randomised initial offset seeded once per
// affinityKey (SPEC_FULL.md's resolution of the primaries-tie-break open
// question), then backup providers last.
func (f *Fetcher) providerOrder(jobName, affinityKey string) []string {
	all := f.manager.Providers() // already primary-tier-first, id-ordered within tier
	if len(all) == 0 {
		return nil
	}

	var primaries, backups []string
	for _, id := range all {
		p := f.manager.GetPool(id)
		if p == nil {
			continue
		}
		if p.Provider().Priority == domain.PriorityBackup {
			backups = append(backups, id)
		} else {
			primaries = append(primaries, id)
		}
	}

	if best, ok := f.manager.GetMetrics().BestProvider(jobName, primaries); ok {
		reordered := []string{best}
		for _, id := range primaries {
			if id != best {
				reordered = append(reordered, id)
			}
		}
		primaries = reordered
	} else {
		primaries = f.rotate(affinityKey, primaries)
	}

	return append(primaries, backups...)
}

// rotate applies a stable, once-per-key randomised rotation offset to
// primaries so concurrently opened streams sharing an affinity key don't
// all hit the same first provider (thundering herd), while any single
// key's fetches are consistently round-robin distributed over its
// lifetime.
func (f *Fetcher) rotate(affinityKey string, ids []string) []string {
	if len(ids) <= 1 {
		return ids
	}

	f.mu.Lock()
	offset, ok := f.offsets[affinityKey]
	if !ok {
		offset = rand.Intn(len(ids))
		f.offsets[affinityKey] = offset
	}
	f.mu.Unlock()

	out := make([]string, len(ids))
	for i := range ids {
		out[i] = ids[(i+offset)%len(ids)]
	}
	return out
}
