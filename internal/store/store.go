// Package store persists latency records flushed from the metrics
// sink.
//
// DESIGN: The in-memory sink (internal/metrics) is the source of
// truth during a process lifetime; the store is where records land
// for inspection across restarts. MemoryStore backs tests and the
// default config; SQLiteStore (sqlite.go) backs deployments that set
// metrics.store: sqlite.
package store

import (
	"sync"

	"github.com/compresr/llm-adapter/internal/metrics"
)

// Store persists completion latency records.
type Store interface {
	// SaveLatency appends one latency record.
	SaveLatency(rec metrics.ResponseLatency) error

	// RecentLatencies returns up to limit records, most recent first.
	RecentLatencies(limit int) ([]metrics.ResponseLatency, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore keeps latency records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records []metrics.ResponseLatency
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveLatency appends one record.
func (s *MemoryStore) SaveLatency(rec metrics.ResponseLatency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	return nil
}

// RecentLatencies returns up to limit records, most recent first.
func (s *MemoryStore) RecentLatencies(limit int) ([]metrics.ResponseLatency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]metrics.ResponseLatency, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
