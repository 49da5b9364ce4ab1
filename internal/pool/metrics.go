package pool

import (
	"sync"
	"time"
)

// ProviderMetrics is the per-(job, provider) counter set spec §4.3 step 7
// requires: success/fail segment counts, byte totals, elapsed time, and
// an EWMA of per-segment bytes/sec with simple outlier rejection.
// Grounded on the teacher's MetricsTracker/MetricsSnapshot shape
// (internal/pool/metrics_tracker.go), trimmed of its database
// persistence layer (that layer belongs to the non-goal admin/API
// surface; this module has no component that needs cross-restart
// counters).
type ProviderMetrics struct {
	SuccessSegments int64
	MissingSegments int64
	FailedSegments  int64
	BytesTotal      int64
	ElapsedTotal    time.Duration
	EWMASpeedBps    float64
}

const ewmaAlpha = 0.3

// outlierRejectionFactor: a sample more than this many times the current
// EWMA (in either direction) is treated as noise and dropped, per
// spec's "EWMA of per-segment Bps with outlier rejection".
const outlierRejectionFactor = 10

// MetricsTracker aggregates ProviderMetrics keyed by (jobName, providerID).
type MetricsTracker struct {
	mu   sync.RWMutex
	rows map[string]*ProviderMetrics
}

// NewMetricsTracker constructs an empty tracker.
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{rows: make(map[string]*ProviderMetrics)}
}

func key(jobName, providerID string) string { return jobName + "\x00" + providerID }

// RecordSuccess records a successful segment fetch and folds its
// observed speed into the (job, provider) EWMA.
func (mt *MetricsTracker) RecordSuccess(jobName, providerID string, bytes int64, elapsed time.Duration) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	row := mt.row(jobName, providerID)
	row.SuccessSegments++
	row.BytesTotal += bytes
	row.ElapsedTotal += elapsed

	if elapsed <= 0 {
		return
	}
	sample := float64(bytes) / elapsed.Seconds()
	if row.EWMASpeedBps == 0 {
		row.EWMASpeedBps = sample
		return
	}
	if sample > row.EWMASpeedBps*outlierRejectionFactor || sample*outlierRejectionFactor < row.EWMASpeedBps {
		return // reject outlier sample, keep prior estimate
	}
	row.EWMASpeedBps = ewmaAlpha*sample + (1-ewmaAlpha)*row.EWMASpeedBps
}

// RecordMissing records a provider-reported "no such article" (430/423).
func (mt *MetricsTracker) RecordMissing(jobName, providerID string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.row(jobName, providerID).MissingSegments++
}

// RecordFailure records a transient failure (timeout, connection fault).
func (mt *MetricsTracker) RecordFailure(jobName, providerID string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.row(jobName, providerID).FailedSegments++
}

func (mt *MetricsTracker) row(jobName, providerID string) *ProviderMetrics {
	k := key(jobName, providerID)
	row, ok := mt.rows[k]
	if !ok {
		row = &ProviderMetrics{}
		mt.rows[k] = row
	}
	return row
}

// Snapshot returns a copy of the metrics recorded for (jobName, providerID).
func (mt *MetricsTracker) Snapshot(jobName, providerID string) ProviderMetrics {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if row, ok := mt.rows[key(jobName, providerID)]; ok {
		return *row
	}
	return ProviderMetrics{}
}

// BestProvider returns the providerID among candidates with the highest
// recorded EWMA speed for jobName, and whether any candidate had
// recorded stats at all (the second return lets C3 fall back to
// round-robin when no affinity data exists yet).
func (mt *MetricsTracker) BestProvider(jobName string, candidates []string) (string, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	best := ""
	bestSpeed := -1.0
	found := false
	for _, id := range candidates {
		row, ok := mt.rows[key(jobName, id)]
		if !ok || row.EWMASpeedBps == 0 {
			continue
		}
		found = true
		if row.EWMASpeedBps > bestSpeed {
			bestSpeed = row.EWMASpeedBps
			best = id
		}
	}
	return best, found
}
