package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsProcessed atomic.Uint64
	eventsSkipped   atomic.Uint64
	ordersPlaced    atomic.Uint64
	ordersTriggered atomic.Uint64
	ordersCancelled atomic.Uint64
	redemptions     atomic.Uint64
	scansReverted   atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	circuitOpen       atomic.Int32 // 1 = open, 0 = closed
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.eventsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordSkipped records a feed event dropped before the engine saw it
// (duplicate sequence or self-induced update).
func (m *Metrics) RecordSkipped() {
	m.eventsSkipped.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordPlaced records a placed order.
func (m *Metrics) RecordPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordTriggered records an executed order.
func (m *Metrics) RecordTriggered() {
	m.ordersTriggered.Add(1)
}

// RecordCancelled records a cancellation.
func (m *Metrics) RecordCancelled() {
	m.ordersCancelled.Add(1)
}

// RecordRedemption records a redemption.
func (m *Metrics) RecordRedemption() {
	m.redemptions.Add(1)
}

// RecordScanReverted records a price update whose scan was rolled back.
func (m *Metrics) RecordScanReverted() {
	m.scansReverted.Add(1)
}

// SetActiveConnections sets the current active connection count.
func (m *Metrics) SetActiveConnections(count int32) {
	m.activeConnections.Store(count)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	if open {
		m.circuitOpen.Store(1)
	} else {
		m.circuitOpen.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsProcessed   uint64    `json:"events_processed"`
	EventsSkipped     uint64    `json:"events_skipped"`
	OrdersPlaced      uint64    `json:"orders_placed"`
	OrdersTriggered   uint64    `json:"orders_triggered"`
	OrdersCancelled   uint64    `json:"orders_cancelled"`
	Redemptions       uint64    `json:"redemptions"`
	ScansReverted     uint64    `json:"scans_reverted"`
	ErrorsTotal       uint64    `json:"errors_total"`
	AvgLatencyNs      int64     `json:"avg_latency_ns"`
	ActiveConnections int32     `json:"active_connections"`
	CircuitOpen       bool      `json:"circuit_open"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsProcessed:   m.eventsProcessed.Load(),
		EventsSkipped:     m.eventsSkipped.Load(),
		OrdersPlaced:      m.ordersPlaced.Load(),
		OrdersTriggered:   m.ordersTriggered.Load(),
		OrdersCancelled:   m.ordersCancelled.Load(),
		Redemptions:       m.redemptions.Load(),
		ScansReverted:     m.scansReverted.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		CircuitOpen:       m.circuitOpen.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsProcessed.Store(0)
	m.eventsSkipped.Store(0)
	m.ordersPlaced.Store(0)
	m.ordersTriggered.Store(0)
	m.ordersCancelled.Store(0)
	m.redemptions.Store(0)
	m.scansReverted.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.circuitOpen.Store(0)
}
