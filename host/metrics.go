package host

import (
	"runtime"
	"sync"
	"time"
)

// Metrics collects runtime-wide operational counters.
type Metrics struct {
	mu          sync.Mutex
	Spawns      int64
	Teardowns   int64
	GuestErrors int64
	Requests    map[string]int64 // trigger kind → count
	StartedAt   time.Time
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		Requests:  make(map[string]int64),
		StartedAt: time.Now(),
	}
}

// RecordSpawn increments the spawned-instance counter.
func (m *Metrics) RecordSpawn() {
	m.mu.Lock()
	m.Spawns++
	m.mu.Unlock()
}

// RecordTeardown increments the torn-down-instance counter.
func (m *Metrics) RecordTeardown() {
	m.mu.Lock()
	m.Teardowns++
	m.mu.Unlock()
}

// RecordGuestError increments the per-trigger failure counter.
func (m *Metrics) RecordGuestError() {
	m.mu.Lock()
	m.GuestErrors++
	m.mu.Unlock()
}

// RecordTrigger counts one handled trigger by kind ("http", "message", "socket").
func (m *Metrics) RecordTrigger(kind string) {
	m.mu.Lock()
	m.Requests[kind]++
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time metrics report.
type MetricsSnapshot struct {
	Spawns        int64            `json:"spawns"`
	Teardowns     int64            `json:"teardowns"`
	GuestErrors   int64            `json:"guest_errors"`
	Requests      map[string]int64 `json:"requests"`
	UptimeSeconds int              `json:"uptime_seconds"`
	Goroutines    int              `json:"goroutines"`
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := make(map[string]int64, len(m.Requests))
	for k, v := range m.Requests {
		reqs[k] = v
	}
	return MetricsSnapshot{
		Spawns:        m.Spawns,
		Teardowns:     m.Teardowns,
		GuestErrors:   m.GuestErrors,
		Requests:      reqs,
		UptimeSeconds: int(time.Since(m.StartedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}
}
