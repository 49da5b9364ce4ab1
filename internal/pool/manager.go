package pool

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nzbvault/nzbvault/internal/domain"
)

// Manager owns one Pool per configured provider and a single process-wide
// semaphore shared by all of them, so the whole process obeys a global
// connection ceiling in addition to each provider's own cap. API shape
// (GetPool/SetProviders/HasPool/GetMetrics) follows the teacher's
// internal/pool.Manager façade naming.
type Manager struct {
	globalMax   int64
	idleTimeout time.Duration

	mu      sync.RWMutex
	global  *semaphore.Weighted
	pools   map[string]*Pool
	metrics *MetricsTracker
}

// NewManager constructs an empty Manager; call SetProviders to populate it.
func NewManager(globalMax int, idleTimeoutSeconds int) *Manager {
	return &Manager{
		globalMax:   int64(globalMax),
		idleTimeout: time.Duration(idleTimeoutSeconds) * time.Second,
		global:      semaphore.NewWeighted(int64(globalMax)),
		pools:       make(map[string]*Pool),
		metrics:     NewMetricsTracker(),
	}
}

// SetProviders (re)builds the set of per-provider pools. Pools for
// providers no longer present are shut down.
func (m *Manager) SetProviders(providers []domain.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*Pool, len(providers))
	for _, p := range providers {
		if existing, ok := m.pools[p.ID]; ok {
			next[p.ID] = existing
			continue
		}
		next[p.ID] = NewPool(p, m.global, m.idleTimeout, NewNNTPDialer(p))
	}

	for id, old := range m.pools {
		if _, keep := next[id]; !keep {
			old.Shutdown()
		}
	}
	m.pools = next
}

// HasPool reports whether a pool exists for the given provider id.
func (m *Manager) HasPool(providerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pools[providerID]
	return ok
}

// GetPool returns the pool for providerID, or nil if unconfigured.
func (m *Manager) GetPool(providerID string) *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[providerID]
}

// Providers returns provider ids ordered primary-first (each tier
// alphabetical by id for determinism), grounded on datallboy-GoNZB's
// manager's Priority() ordering of its provider list. The order is
// recomputed on every call.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := m.pools[ids[i]].Provider(), m.pools[ids[j]].Provider()
		if pi.Priority != pj.Priority {
			return pi.Priority < pj.Priority
		}
		return pi.ID < pj.ID
	})
	return ids
}

// ClearPool shuts down and removes the pool for providerID.
func (m *Manager) ClearPool(providerID string) {
	m.mu.Lock()
	p, ok := m.pools[providerID]
	if ok {
		delete(m.pools, providerID)
	}
	m.mu.Unlock()
	if ok {
		p.Shutdown()
	}
}

// GetMetrics returns the shared metrics tracker.
func (m *Manager) GetMetrics() *MetricsTracker { return m.metrics }

// Shutdown disposes every pool.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()
	for _, p := range pools {
		p.Shutdown()
	}
}
