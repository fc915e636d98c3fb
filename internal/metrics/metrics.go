// Package metrics accumulates per-response latency measurements.
//
// DESIGN: The sink is owned by the caller and shared by reference
// with one or more adapters, which append to it after every
// successful completion. Appends are mutex-guarded so adapters on
// separate goroutines can share a single sink. The sink never drops
// or rewrites records; persistence is delegated to an optional store
// (see internal/store).
package metrics

import (
	"sync"
	"time"
)

// ResponseLatency is one recorded completion round trip.
type ResponseLatency struct {
	ResponseID string        `json:"response_id"`
	Model      string        `json:"model"`
	Latency    time.Duration `json:"latency"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Metrics is an append-only latency sink keyed by model name.
type Metrics struct {
	mu        sync.Mutex
	modelName string
	latencies []ResponseLatency
}

// New creates a sink seeded with the model name it reports for.
func New(modelName string) *Metrics {
	return &Metrics{modelName: modelName}
}

// ModelName returns the model this sink was seeded with.
func (m *Metrics) ModelName() string {
	return m.modelName
}

// AddResponseLatency appends one latency record. Safe for concurrent
// writers.
func (m *Metrics) AddResponseLatency(latency time.Duration, responseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, ResponseLatency{
		ResponseID: responseID,
		Model:      m.modelName,
		Latency:    latency,
		RecordedAt: time.Now(),
	})
}

// ResponseLatencies returns a snapshot of all recorded latencies in
// insertion order.
func (m *Metrics) ResponseLatencies() []ResponseLatency {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ResponseLatency, len(m.latencies))
	copy(out, m.latencies)
	return out
}

// AverageLatency returns the mean recorded latency, or zero when
// nothing has been recorded.
func (m *Metrics) AverageLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range m.latencies {
		total += l.Latency
	}
	return total / time.Duration(len(m.latencies))
}
