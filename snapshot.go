package perfmon

import (
	"math"
	"time"
)

// NewMetrics instantiates a zeroed metrics snapshot. Latency.Min starts
// at +Inf so the first sample always becomes the minimum.
func NewMetrics() Metrics {
	return Metrics{
		Latency: LatencyStats{Min: math.Inf(1)},
	}
}

// Metrics is a snapshot of the collected metrics. Every field is a
// value type, so an assignment is a deep copy.
type Metrics struct {
	Latency    LatencyStats
	Throughput ThroughputStats
	Errors     ErrorCounts
	Memory     MemoryStats
}

// LatencyStats holds latency aggregates in milliseconds. Min and Max
// span the monitor's lifetime; Avg, P95 and P99 are derived from the
// live sample window only.
type LatencyStats struct {
	Min float64
	Max float64
	Avg float64
	P95 float64
	P99 float64
}

// ThroughputStats holds smoothed rates in operations per second.
// PeakThroughput is a running maximum of instantaneous rates and never
// decreases except on reset.
type ThroughputStats struct {
	VerificationsPerSecond float64
	BatchesPerSecond       float64
	PeakThroughput         float64
}

// ErrorCounts holds the fixed set of error categories. Counters only
// ever grow until an explicit reset.
type ErrorCounts struct {
	Validation    uint64
	Cryptographic uint64
	Configuration uint64
	System        uint64
}

// Total returns the sum over all categories.
func (e ErrorCounts) Total() uint64 {
	return e.Validation + e.Cryptographic + e.Configuration + e.System
}

// MemoryStats is a point-in-time host memory snapshot in bytes,
// refreshed only when a snapshot is requested.
type MemoryStats struct {
	HeapUsed  uint64
	HeapTotal uint64
	External  uint64
	RSS       uint64
}

// Summary is a condensed view derived from a fresh metrics snapshot.
type Summary struct {
	Uptime            time.Duration
	AverageLatency    float64
	CurrentThroughput float64
	PeakThroughput    float64
	ErrorRate         float64
	MemoryUsage       uint64
	Status            HealthStatus
}
