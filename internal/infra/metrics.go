package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	buys             atomic.Uint64
	sells            atomic.Uint64
	tradesRejected   atomic.Uint64
	errorsTotal      atomic.Uint64
	upstreamErrors   atomic.Uint64
	fallbackPrices   atomic.Uint64
	simulatedReceipt atomic.Uint64
	bookRegenerated  atomic.Uint64

	// Settlement latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	streamClients atomic.Int32
	circuitOpen   atomic.Int32 // 1 = open, 0 = closed
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTrade records a settled trade with its end-to-end latency.
func (m *Metrics) RecordTrade(buy bool, latency time.Duration) {
	if buy {
		m.buys.Add(1)
	} else {
		m.sells.Add(1)
	}
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordRejected records a trade refused by validation or balance checks.
func (m *Metrics) RecordRejected() {
	m.tradesRejected.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordUpstreamError records a failed quote or intraday fetch.
func (m *Metrics) RecordUpstreamError() {
	m.upstreamErrors.Add(1)
}

// RecordFallbackPrice records a caller substituting its fallback price.
func (m *Metrics) RecordFallbackPrice() {
	m.fallbackPrices.Add(1)
}

// RecordSimulatedReceipt records a locally synthesized settlement receipt.
func (m *Metrics) RecordSimulatedReceipt() {
	m.simulatedReceipt.Add(1)
}

// RecordBookRegenerated records an order-book loop rebuild.
func (m *Metrics) RecordBookRegenerated() {
	m.bookRegenerated.Add(1)
}

// IncrementStreamClients increments connected stream clients by 1.
func (m *Metrics) IncrementStreamClients() {
	m.streamClients.Add(1)
}

// DecrementStreamClients decrements connected stream clients by 1.
func (m *Metrics) DecrementStreamClients() {
	m.streamClients.Add(-1)
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
	Buys              uint64
	Sells             uint64
	TradesRejected    uint64
	ErrorsTotal       uint64
	UpstreamErrors    uint64
	FallbackPrices    uint64
	SimulatedReceipts uint64
	BookRegenerations uint64
	AvgLatencyNs      int64
	StreamClients     int32
	CircuitOpen       bool
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		Buys:              m.buys.Load(),
		Sells:             m.sells.Load(),
		TradesRejected:    m.tradesRejected.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		UpstreamErrors:    m.upstreamErrors.Load(),
		FallbackPrices:    m.fallbackPrices.Load(),
		SimulatedReceipts: m.simulatedReceipt.Load(),
		BookRegenerations: m.bookRegenerated.Load(),
		AvgLatencyNs:      avgLatency,
		StreamClients:     m.streamClients.Load(),
		CircuitOpen:       m.circuitOpen.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.buys.Store(0)
	m.sells.Store(0)
	m.tradesRejected.Store(0)
	m.errorsTotal.Store(0)
	m.upstreamErrors.Store(0)
	m.fallbackPrices.Store(0)
	m.simulatedReceipt.Store(0)
	m.bookRegenerated.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.streamClients.Store(0)
	m.circuitOpen.Store(0)
}
