package metrics

import "sync"

// Mock is a mock implementation of the Metrics interface for testing.
// It is safe for concurrent use.
type Mock struct {
	mu          sync.Mutex
	ingested    int
	rejected    map[string]int
	conflicts   int
	levelUps    int
	durations   []float64
	cacheHits   int
	cacheMisses int
}

// NewMock creates a new mock instance.
func NewMock() *Mock {
	return &Mock{rejected: make(map[string]int)}
}

func (m *Mock) IncStatRecordsIngested() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested++
}

func (m *Mock) IncStatRecordsRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *Mock) IncProgressionConflicts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *Mock) IncLevelUps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levelUps++
}

func (m *Mock) ObserveIngestDuration(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = append(m.durations, seconds)
}

func (m *Mock) IncLeaderboardCache(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

// Ingested returns the number of times IncStatRecordsIngested was called.
func (m *Mock) Ingested() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ingested
}

// Rejected returns how often IncStatRecordsRejected was called with reason.
func (m *Mock) Rejected(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[reason]
}

// Conflicts returns the number of recorded version conflicts.
func (m *Mock) Conflicts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflicts
}

// LevelUps returns the number of recorded level ups.
func (m *Mock) LevelUps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levelUps
}

// CacheLookups returns the recorded cache hits and misses.
func (m *Mock) CacheLookups() (hits, misses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cacheHits, m.cacheMisses
}
