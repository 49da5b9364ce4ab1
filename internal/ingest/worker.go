package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
	"github.com/nzbvault/nzbvault/internal/store"
)

// WorkerStatus mirrors internal/health/worker.go's lifecycle states.
type WorkerStatus string

const (
	StatusStopped WorkerStatus = "stopped"
	StatusRunning WorkerStatus = "running"
)

// Stats reports the worker's drain activity, trimmed from the teacher's
// health.Stats shape to what the ingestion queue needs.
type Stats struct {
	Status             WorkerStatus
	LastRunTime        *time.Time
	TotalJobsCompleted int64
	TotalJobsFailed    int64
	LastError          string
}

const maxConsecutiveFailures = 3

// Worker polls the ingestion queue on a fixed interval, draining one job
// at a time through a Pipeline and recording its terminal outcome to
// history, adapted from internal/health/worker.go's cron-driven cycle
// loop onto a single-item pull instead of a due-item batch.
type Worker struct {
	pipeline     *Pipeline
	repo         *store.Repository
	pollInterval time.Duration

	mu      sync.Mutex
	status  WorkerStatus
	stats   Stats
	cancel  context.CancelFunc
	done    chan struct{}
	fails   map[string]int
	failsMu sync.Mutex
}

// NewWorker builds a Worker. pollIntervalSeconds sets how often an empty
// queue is re-checked; it has no effect on back-to-back draining while
// items remain.
func NewWorker(pipeline *Pipeline, repo *store.Repository, pollIntervalSeconds int) *Worker {
	if pollIntervalSeconds < 1 {
		pollIntervalSeconds = 5
	}
	return &Worker{
		pipeline:     pipeline,
		repo:         repo,
		pollInterval: time.Duration(pollIntervalSeconds) * time.Second,
		status:       StatusStopped,
		fails:        make(map[string]int),
	}
}

// Start begins the drain loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.status == StatusRunning {
		w.mu.Unlock()
		return fmt.Errorf("ingest worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.status = StatusRunning
	w.mu.Unlock()

	go w.loop(runCtx)
	return nil
}

// Stop cancels the drain loop and waits for the in-flight job, if any, to
// return.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	w.mu.Lock()
	w.status = StatusStopped
	w.mu.Unlock()
}

// Stats returns a snapshot of the worker's drain activity.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		drained := w.drainOne(ctx)
		if ctx.Err() != nil {
			return
		}
		if drained {
			continue // keep draining back-to-back while items remain
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drainOne pulls and processes one queue item, recording the terminal
// outcome. It reports whether an item was found, so the caller can skip
// the poll-interval wait while the queue is non-empty.
func (w *Worker) drainOne(ctx context.Context) bool {
	rec, nzbXML, err := w.repo.GetTopQueueItem(ctx, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			w.recordError(fmt.Errorf("fetching next queue item: %w", err))
		}
		return false
	}

	result, runErr := w.pipeline.Run(ctx, rec.QueueItem, nzbXML)

	var crit *nzberrors.CriticalIngestFailureError
	switch {
	case runErr == nil:
		w.finishJob(ctx, rec.ID, store.HistoryItem{
			JobName:    rec.JobName,
			Category:   rec.Category,
			Status:     "completed",
			Message:    fmt.Sprintf("ingested %d item(s), skipped %d par2 volume(s)", result.ItemCount, result.SkippedPar2),
			FinishedAt: time.Now().UTC(),
		}, true)

	case errors.As(runErr, &crit):
		w.finishJob(ctx, rec.ID, store.HistoryItem{
			JobName:    rec.JobName,
			Category:   rec.Category,
			Status:     "failed",
			ReasonCode: crit.Reason,
			Message:    crit.Message,
			FinishedAt: time.Now().UTC(),
		}, w.shouldDropAfterFailure(rec.ID))

	default:
		// Not a terminal classification: back off and retry later rather
		// than discarding the job outright.
		w.recordError(fmt.Errorf("job %s: %w", rec.JobName, runErr))
		if err := w.repo.PauseQueueItem(ctx, rec.ID, time.Now().UTC().Add(time.Minute)); err != nil {
			w.recordError(fmt.Errorf("pausing job %s after error: %w", rec.JobName, err))
		}
	}

	return true
}

// shouldDropAfterFailure tracks consecutive critical failures per queue
// item id and reports whether the item should now be dropped from the
// queue rather than paused for another retry (SPEC_FULL.md supplemental
// feature: unbounded retry of a permanently-broken NZB would wedge the
// queue forever).
func (w *Worker) shouldDropAfterFailure(id string) bool {
	w.failsMu.Lock()
	defer w.failsMu.Unlock()
	w.fails[id]++
	if w.fails[id] >= maxConsecutiveFailures {
		delete(w.fails, id)
		return true
	}
	return false
}

func (w *Worker) finishJob(ctx context.Context, queueID string, h store.HistoryItem, drop bool) {
	if err := w.repo.InsertHistoryItem(ctx, h); err != nil {
		w.recordError(fmt.Errorf("recording history for job %s: %w", h.JobName, err))
	}

	if drop {
		if err := w.repo.DeleteQueueItem(ctx, queueID); err != nil {
			w.recordError(fmt.Errorf("removing completed queue item %s: %w", queueID, err))
		}
	} else if err := w.repo.PauseQueueItem(ctx, queueID, time.Now().UTC().Add(time.Minute)); err != nil {
		w.recordError(fmt.Errorf("pausing retryable queue item %s: %w", queueID, err))
	}

	w.mu.Lock()
	now := time.Now().UTC()
	w.stats.LastRunTime = &now
	if h.Status == "completed" {
		w.stats.TotalJobsCompleted++
	} else {
		w.stats.TotalJobsFailed++
	}
	w.mu.Unlock()
}

func (w *Worker) recordError(err error) {
	w.mu.Lock()
	w.stats.LastError = err.Error()
	w.mu.Unlock()
}
