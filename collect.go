package perfmon

import (
	"math"
	"time"
)

// MetricType represents the type of a metric.
type MetricType int

const (
	Counter MetricType = iota
	Gauge
)

// Metric represents a single exported data point.
type Metric struct {
	Name       string
	Value      float64
	Labels     map[string]string
	MetricType MetricType
	Timestamp  time.Time
}

// Collector is anything that can be flattened into exportable metrics.
// The Reporter drains a Collector on every push.
type Collector interface {
	Collect() []Metric
	Name() string
}

// Name implements Collector.
func (m *Monitor) Name() string { return "perfmon" }

// Collect flattens the current snapshot into exportable metrics:
// latency gauges (omitted until the first sample arrives), throughput
// gauges, error counters, memory gauges, the window-relative error rate
// and the health verdict as a numeric gauge.
func (m *Monitor) Collect() []Metric {
	mem := readMemoryStats()

	m.mu.Lock()
	m.metrics.Memory = mem
	snap := m.metrics
	rate := m.errorRateLocked()
	m.mu.Unlock()

	status := classify(snap.Latency.Avg, rate, m.thresholds)
	now := m.clock.Now()

	metrics := make([]Metric, 0, 16)
	gauge := func(name string, value float64) {
		metrics = append(metrics, Metric{
			Name:       name,
			Value:      value,
			Labels:     map[string]string{},
			MetricType: Gauge,
			Timestamp:  now,
		})
	}
	counter := func(name string, value uint64) {
		metrics = append(metrics, Metric{
			Name:       name,
			Value:      float64(value),
			Labels:     map[string]string{},
			MetricType: Counter,
			Timestamp:  now,
		})
	}

	// Min holds its +Inf sentinel until the first sample; remote write
	// cannot carry Inf, so latency gauges wait for data.
	if !math.IsInf(snap.Latency.Min, 1) {
		gauge("latency_min_ms", snap.Latency.Min)
		gauge("latency_max_ms", snap.Latency.Max)
		gauge("latency_avg_ms", snap.Latency.Avg)
		gauge("latency_p95_ms", snap.Latency.P95)
		gauge("latency_p99_ms", snap.Latency.P99)
	}

	gauge("throughput_verifications_per_second", snap.Throughput.VerificationsPerSecond)
	gauge("throughput_batches_per_second", snap.Throughput.BatchesPerSecond)
	gauge("throughput_peak", snap.Throughput.PeakThroughput)

	counter("errors_validation_total", snap.Errors.Validation)
	counter("errors_cryptographic_total", snap.Errors.Cryptographic)
	counter("errors_configuration_total", snap.Errors.Configuration)
	counter("errors_system_total", snap.Errors.System)

	gauge("memory_heap_used_bytes", float64(snap.Memory.HeapUsed))
	gauge("memory_heap_total_bytes", float64(snap.Memory.HeapTotal))
	gauge("memory_external_bytes", float64(snap.Memory.External))
	gauge("memory_rss_bytes", float64(snap.Memory.RSS))

	gauge("error_rate", rate)
	gauge("health_status", float64(status))

	return metrics
}
