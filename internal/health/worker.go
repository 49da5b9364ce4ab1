package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/nzbvault/nzbvault/internal/domain"
	"github.com/nzbvault/nzbvault/internal/store"
)

// WorkerStatus mirrors the teacher's worker lifecycle states
// (internal/health/worker.go's WorkerStatus), unchanged in meaning.
type WorkerStatus string

const (
	StatusStopped WorkerStatus = "stopped"
	StatusRunning WorkerStatus = "running"
)

// Stats reports the scheduler's last/ongoing cycle, mirroring the
// teacher's WorkerStats shape, trimmed to this module's scope.
type Stats struct {
	Status              WorkerStatus
	LastRunTime         *time.Time
	TotalRunsCompleted  int64
	TotalItemsChecked   int64
	TotalItemsHealthy   int64
	TotalItemsUnhealthy int64
	LastError           string
}

// Worker ticks on a cron schedule, draining items due for a health check
// with bounded concurrency and recording results, per spec §4.10.
type Worker struct {
	checker      *Checker
	repo         *store.Repository
	batch        int
	tickInterval int

	cron *cron.Cron

	mu           sync.Mutex
	status       WorkerStatus
	cycleRunning bool
	stats        Stats

	cyclesByItem   map[string]int64
	cyclesByItemMu sync.Mutex
}

// NewWorker builds a Worker. tickIntervalSeconds sets the "@every"
// schedule; batch bounds how many due items one cycle drains.
func NewWorker(checker *Checker, repo *store.Repository, tickIntervalSeconds, batch int) *Worker {
	if tickIntervalSeconds < 1 {
		tickIntervalSeconds = 300
	}
	if batch < 1 {
		batch = 50
	}
	return &Worker{
		checker:      checker,
		repo:         repo,
		batch:        batch,
		tickInterval: tickIntervalSeconds,
		cron:         cron.New(),
		status:       StatusStopped,
		cyclesByItem: make(map[string]int64),
	}
}

// Start schedules the periodic drain cycle and begins the cron scheduler.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.status == StatusRunning {
		w.mu.Unlock()
		return fmt.Errorf("health worker already running")
	}
	w.status = StatusRunning
	w.mu.Unlock()

	spec := fmt.Sprintf("@every %ds", w.tickInterval)
	if _, err := w.cron.AddFunc(spec, func() { w.runCycleSafely(ctx) }); err != nil {
		return fmt.Errorf("scheduling health check tick: %w", err)
	}
	w.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any running cycle's jobs
// already dispatched by cron to return.
func (w *Worker) Stop() {
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
	w.mu.Lock()
	w.status = StatusStopped
	w.mu.Unlock()
}

// Stats returns a snapshot of the worker's run statistics.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) runCycleSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.mu.Lock()
			w.stats.LastError = fmt.Sprintf("panic in health check cycle: %v", r)
			w.mu.Unlock()
		}
	}()

	w.mu.Lock()
	if w.cycleRunning {
		w.mu.Unlock()
		return
	}
	w.cycleRunning = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.cycleRunning = false
		w.mu.Unlock()
	}()

	if err := w.runCycle(ctx); err != nil {
		w.mu.Lock()
		w.stats.LastError = err.Error()
		w.mu.Unlock()
	}
}

// runCycle drains up to w.batch due items and probes each concurrently,
// per spec §4.10's "select items whose next-health-check <= now".
func (w *Worker) runCycle(ctx context.Context) error {
	now := time.Now().UTC()
	items, err := w.repo.DueForHealthCheck(ctx, now, w.batch)
	if err != nil {
		return fmt.Errorf("listing due items: %w", err)
	}
	if len(items) == 0 {
		w.finishCycle(now, 0, 0, 0)
		return nil
	}

	p := concpool.New().WithMaxGoroutines(w.checker.maxSegmentChecks)
	var mu sync.Mutex
	var healthy, unhealthy int64

	for _, item := range items {
		item := item
		p.Go(func() {
			cycle := w.nextCycleFor(item.ID)
			event := w.checker.CheckItem(ctx, item, cycle)
			w.recordResult(ctx, item, event)

			mu.Lock()
			if event.Type == EventHealthy {
				healthy++
			} else {
				unhealthy++
			}
			mu.Unlock()
		})
	}
	p.Wait()

	w.finishCycle(now, int64(len(items)), healthy, unhealthy)
	return nil
}

func (w *Worker) nextCycleFor(itemID string) int64 {
	w.cyclesByItemMu.Lock()
	defer w.cyclesByItemMu.Unlock()
	n := w.cyclesByItem[itemID] + 1
	w.cyclesByItem[itemID] = n
	return n
}

// recordResult persists the check outcome: a healthy item gets its next
// check time from the tiered schedule, an unhealthy one is re-checked 15
// minutes later, and a check that could not run (check_failed) is stored
// as unhealthy with no next check time, which DueForHealthCheck treats
// as due at once.
func (w *Worker) recordResult(ctx context.Context, item domain.Item, event Event) {
	status := "healthy"
	var next *time.Time
	switch event.Type {
	case EventHealthy:
		releaseDate := item.ReleaseDate
		if releaseDate.IsZero() {
			releaseDate = item.CreatedAt
		}
		t := CalculateNextCheck(releaseDate, event.CheckedAt)
		next = &t
	case EventUnhealthy:
		status = "unhealthy"
		t := event.CheckedAt.Add(15 * time.Minute)
		next = &t
	default:
		status = "unhealthy"
	}

	res := store.HealthResult{ItemID: item.ID, Status: status, CheckedAt: event.CheckedAt, Detail: event.Detail}
	if err := w.repo.RecordHealthResult(ctx, res, next); err != nil {
		w.mu.Lock()
		w.stats.LastError = err.Error()
		w.mu.Unlock()
	}
}

func (w *Worker) finishCycle(at time.Time, checked, healthy, unhealthy int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastRunTime = &at
	w.stats.TotalRunsCompleted++
	w.stats.TotalItemsChecked += checked
	w.stats.TotalItemsHealthy += healthy
	w.stats.TotalItemsUnhealthy += unhealthy
}

// MarkUrgent promotes item for an immediate re-check, per spec §4.10's
// "urgent promotion" triggered by a runtime streaming failure.
func (w *Worker) MarkUrgent(ctx context.Context, itemID string) error {
	return w.repo.MarkUrgent(ctx, itemID)
}
