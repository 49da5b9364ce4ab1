// Package health implements the health-check scheduler (C10): a tiered
// re-check schedule (scheduler.go, kept from the teacher verbatim), a
// per-item checker that probes segment existence across providers, and a
// cron-ticked worker that drains due items with bounded concurrency.
// checker.go/worker.go are rewritten fresh against this module's own
// domain.Item/store.Repository types — the teacher's equivalents
// (internal/health/checker.go, worker.go) are built directly against its
// metadata.MetadataService/metapb rows and an arrs.Service Non-goal, so
// only their *shape* (EventType enum, WorkerStatus/WorkerStats,
// cycleRunning guard, conc/pool-bounded per-item checks) is carried
// forward; see DESIGN.md.
package health

import (
	"context"
	"fmt"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/pool"
	"github.com/nzbvault/nzbvault/internal/store"
)

// EventType classifies the outcome of one item's health check.
type EventType string

const (
	EventHealthy     EventType = "healthy"
	EventUnhealthy   EventType = "unhealthy"
	EventCheckFailed EventType = "check_failed"
)

// Event is the outcome of checking one item.
type Event struct {
	ItemID    string
	Type      EventType
	Detail    string
	CheckedAt time.Time
}

// Checker probes segment existence for one item, using a fuller HEAD
// check on every fullCheckFrequency-th call and a cheap STAT otherwise,
// per spec §4.10.
type Checker struct {
	manager             *pool.Manager
	repo                *store.Repository
	maxSegmentChecks    int
	fullCheckFrequency  int
}

// NewChecker builds a Checker against the given provider pool manager
// and repository. maxSegmentChecks bounds per-item concurrent segment
// probes; fullCheckFrequency is how often (in check cycles) the fuller
// HEAD-based check runs instead of a bare STAT.
func NewChecker(manager *pool.Manager, repo *store.Repository, maxSegmentChecks, fullCheckFrequency int) *Checker {
	if maxSegmentChecks < 1 {
		maxSegmentChecks = 5
	}
	if fullCheckFrequency < 1 {
		fullCheckFrequency = 10
	}
	return &Checker{manager: manager, repo: repo, maxSegmentChecks: maxSegmentChecks, fullCheckFrequency: fullCheckFrequency}
}

// CheckItem probes item's backing segments for existence. cycle is the
// caller's running check count for this item, used to decide whether
// this pass uses the fuller HEAD check.
func (c *Checker) CheckItem(ctx context.Context, item domain.Item, cycle int64) Event {
	now := time.Now().UTC()
	segmentIDs, err := c.segmentIDsFor(ctx, item)
	if err != nil {
		return Event{ItemID: item.ID, Type: EventCheckFailed, Detail: err.Error(), CheckedAt: now}
	}
	if len(segmentIDs) == 0 {
		return Event{ItemID: item.ID, Type: EventCheckFailed, Detail: "no segment data", CheckedAt: now}
	}

	full := c.fullCheckFrequency > 0 && cycle%int64(c.fullCheckFrequency) == 0

	oc := domain.OperationContext{Usage: domain.UsageHealthCheck, ItemID: item.ID}
	if err := c.probeSegments(ctx, oc, segmentIDs, full); err != nil {
		return Event{ItemID: item.ID, Type: EventUnhealthy, Detail: err.Error(), CheckedAt: now}
	}
	return Event{ItemID: item.ID, Type: EventHealthy, CheckedAt: now}
}

func (c *Checker) segmentIDsFor(ctx context.Context, item domain.Item) ([]string, error) {
	switch item.Type {
	case domain.ItemNzbFile:
		backing, err := c.repo.ReadNzbMetadata(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		return backing.SegmentIDs, nil
	case domain.ItemRarFile, domain.ItemMultipartFile:
		backing, err := c.repo.ReadMultipartMetadata(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		var ids []string
		for _, part := range backing.Parts {
			ids = append(ids, part.SegmentIDs...)
		}
		return ids, nil
	default:
		return nil, nil
	}
}

// probeSegments checks every id with bounded concurrency, STAT for a
// cheap check or HEAD for a full one, returning the first failure.
func (c *Checker) probeSegments(ctx context.Context, oc domain.OperationContext, ids []string, full bool) error {
	p := concpool.New().WithErrors().WithFirstError().WithMaxGoroutines(c.maxSegmentChecks).WithContext(ctx)
	for _, id := range ids {
		id := id
		p.Go(func(ctx context.Context) error {
			return c.probeOne(ctx, oc, id, full)
		})
	}
	return p.Wait()
}

func (c *Checker) probeOne(ctx context.Context, oc domain.OperationContext, messageID string, full bool) error {
	providerIDs := c.manager.Providers()
	if len(providerIDs) == 0 {
		return fmt.Errorf("health: no providers configured")
	}

	var lastErr error
	for _, providerID := range providerIDs {
		p := c.manager.GetPool(providerID)
		if p == nil {
			continue
		}
		lease, err := p.Acquire(ctx, oc)
		if err != nil {
			lastErr = err
			continue
		}

		if full {
			_, err = lease.Client().Head(ctx, messageID)
		} else {
			err = lease.Client().Stat(ctx, messageID)
		}
		if err != nil {
			lease.Destroy()
			lastErr = err
			continue
		}
		lease.Release()
		return nil
	}
	return fmt.Errorf("health: article %s missing from every provider: %w", messageID, lastErr)
}
