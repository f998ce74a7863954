package perfmon

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidSample is returned when a record operation receives input
// that would poison the aggregates: negative durations, durations above
// the acceptable-latency ceiling, non-positive batch sizes or
// durations, or success counts outside the batch.
var ErrInvalidSample = errors.New("perfmon: invalid sample")

const (
	// windowCapacity bounds the latency sample window; the oldest
	// sample is evicted once the window is full.
	windowCapacity = 1000

	// ewmaAlpha is the smoothing factor for throughput rates.
	ewmaAlpha = 0.1

	// throughputWindowMs is the fixed conceptual window the per-sample
	// throughput tick is measured against.
	throughputWindowMs = 5000

	// recentSampleCount is how many trailing window entries feed the
	// throughput tick.
	recentSampleCount = 100
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Monitor. The zero value is usable: default
// thresholds, real clock, no logging.
type Options struct {
	// Thresholds parameterizes the health classifier and producer
	// bounds. The zero value means DefaultThresholds().
	Thresholds Thresholds

	// Optional logger; the ingestion hot path never logs.
	Logger *zap.Logger

	// Optional clock override for tests.
	Clock Clock
}

// Monitor aggregates per-operation and per-batch timing/outcome samples
// into windowed statistics and a health verdict. All methods are safe
// for concurrent use; each ingestion runs as one critical section so
// readers always observe a consistent view.
type Monitor struct {
	mu         sync.RWMutex
	clock      Clock
	logger     *zap.Logger
	thresholds Thresholds

	window  []float64
	metrics Metrics
	start   time.Time
}

// New creates a monitor with zeroed aggregates and the start timestamp
// set to now. It fails fast on out-of-range thresholds.
func New(opts Options) (*Monitor, error) {
	t := opts.Thresholds
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}

	m := &Monitor{
		clock:      clock,
		logger:     opts.Logger,
		thresholds: t,
		window:     make([]float64, 0, windowCapacity),
		metrics:    NewMetrics(),
		start:      clock.Now(),
	}

	if m.logger != nil {
		m.logger.Info("performance monitor initialized",
			zap.Float64("warn_latency_ms", t.WarnLatencyMs),
			zap.Float64("critical_latency_ms", t.CriticalLatencyMs))
	}
	return m, nil
}

// RecordVerification ingests a single verification outcome. The
// duration is appended to the sample window (evicting the oldest entry
// when full) and all latency and throughput aggregates are recomputed.
// A failed verification increments the validation error counter.
func (m *Monitor) RecordVerification(durationMs float64, success bool) error {
	if durationMs < 0 || math.IsNaN(durationMs) || math.IsInf(durationMs, 0) {
		return ErrInvalidSample
	}
	if durationMs > m.thresholds.MaxAcceptableLatencyMs {
		return ErrInvalidSample
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.window) >= windowCapacity {
		copy(m.window, m.window[1:])
		m.window = m.window[:len(m.window)-1]
	}
	m.window = append(m.window, durationMs)

	if !success {
		m.metrics.Errors.Validation++
	}

	m.recomputeLatency()
	m.recomputeThroughput()
	return nil
}

// RecordBatch ingests a batch verification outcome. The batch rate and
// the batch-per-second rate are folded into the smoothed throughput;
// failed verifications within the batch are added to the validation
// error counter. The latency window is not touched.
func (m *Monitor) RecordBatch(batchSize int, durationMs float64, successes int) error {
	if batchSize <= 0 || durationMs <= 0 || successes < 0 || successes > batchSize {
		return ErrInvalidSample
	}
	if math.IsNaN(durationMs) || math.IsInf(durationMs, 0) {
		return ErrInvalidSample
	}
	if batchSize > m.thresholds.MaxBatchSize {
		return ErrInvalidSample
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	secs := durationMs / 1000
	rate := float64(batchSize) / secs

	t := &m.metrics.Throughput
	t.VerificationsPerSecond = ewma(t.VerificationsPerSecond, rate)
	t.BatchesPerSecond = ewma(t.BatchesPerSecond, 1/secs)
	if rate > t.PeakThroughput {
		t.PeakThroughput = rate
	}

	m.metrics.Errors.Validation += uint64(batchSize - successes)
	return nil
}

// RecordCryptographicOperation ingests a cryptographic operation
// outcome. The duration is accepted but not folded into the latency
// window; only failures are counted.
func (m *Monitor) RecordCryptographicOperation(durationMs float64, success bool) error {
	if durationMs < 0 || math.IsNaN(durationMs) || math.IsInf(durationMs, 0) {
		return ErrInvalidSample
	}
	if durationMs > m.thresholds.MaxAcceptableLatencyMs {
		return ErrInvalidSample
	}
	if success {
		return nil
	}
	m.mu.Lock()
	m.metrics.Errors.Cryptographic++
	m.mu.Unlock()
	return nil
}

// RecordConfigurationError increments the configuration error counter.
func (m *Monitor) RecordConfigurationError() {
	m.mu.Lock()
	m.metrics.Errors.Configuration++
	m.mu.Unlock()
}

// RecordSystemError increments the system error counter.
func (m *Monitor) RecordSystemError() {
	m.mu.Lock()
	m.metrics.Errors.System++
	m.mu.Unlock()
}

// SampleCount returns the number of latency samples currently held in
// the window.
func (m *Monitor) SampleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.window)
}

// Metrics refreshes the memory snapshot and returns a copy of the
// current metrics. Mutating the returned value never affects the
// monitor.
func (m *Monitor) Metrics() Metrics {
	mem := readMemoryStats()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.Memory = mem
	return m.metrics
}

// Summary derives the condensed report from a fresh metrics snapshot.
func (m *Monitor) Summary() Summary {
	mem := readMemoryStats()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.Memory = mem

	avg := m.metrics.Latency.Avg
	rate := m.errorRateLocked()

	return Summary{
		Uptime:            m.clock.Now().Sub(m.start),
		AverageLatency:    avg,
		CurrentThroughput: m.metrics.Throughput.VerificationsPerSecond,
		PeakThroughput:    m.metrics.Throughput.PeakThroughput,
		ErrorRate:         rate,
		MemoryUsage:       mem.HeapUsed,
		Status:            classify(avg, rate, m.thresholds),
	}
}

// Status returns the current tri-state health verdict.
func (m *Monitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return classify(m.metrics.Latency.Avg, m.errorRateLocked(), m.thresholds)
}

// Healthy is the strict boolean gate: average latency, error rate and
// heap usage must all sit strictly below their warning bounds.
func (m *Monitor) Healthy() bool {
	mem := readMemoryStats()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return performanceHealthy(m.metrics.Latency.Avg, m.errorRateLocked(), mem.HeapUsed, m.thresholds)
}

// Reset reinitializes all counters and aggregates, empties the sample
// window and restarts the uptime clock.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = m.window[:0]
	m.metrics = NewMetrics()
	m.start = m.clock.Now()

	if m.logger != nil {
		m.logger.Info("performance monitor reset")
	}
}

// errorRateLocked computes the window-relative error rate. The
// denominator counts live window samples only, so evicted history is
// deliberately excluded.
func (m *Monitor) errorRateLocked() float64 {
	total := m.metrics.Errors.Total()
	denom := uint64(len(m.window)) + total
	if denom == 0 {
		return 0
	}
	return float64(total) / float64(denom)
}

// recomputeLatency rebuilds the latency aggregates from the full
// window. Min and Max fold the window extrema into their lifetime
// values, so they survive eviction; Avg and the percentiles are
// window-only.
func (m *Monitor) recomputeLatency() {
	n := len(m.window)
	if n == 0 {
		return
	}

	sorted := make([]float64, n)
	copy(sorted, m.window)
	sort.Float64s(sorted)

	l := &m.metrics.Latency
	if sorted[0] < l.Min {
		l.Min = sorted[0]
	}
	if sorted[n-1] > l.Max {
		l.Max = sorted[n-1]
	}

	var sum float64
	for _, v := range m.window {
		sum += v
	}
	l.Avg = sum / float64(n)

	l.P95 = nearestRank(sorted, 0.95)
	l.P99 = nearestRank(sorted, 0.99)
}

// recomputeThroughput folds the trailing-sample rate into the smoothed
// verification throughput. With fewer than 2 recent samples the tick is
// skipped and the throughput left unchanged.
func (m *Monitor) recomputeThroughput() {
	recent := len(m.window)
	if recent > recentSampleCount {
		recent = recentSampleCount
	}
	if recent < 2 {
		return
	}

	rate := float64(recent) / (throughputWindowMs / 1000.0)

	t := &m.metrics.Throughput
	t.VerificationsPerSecond = ewma(t.VerificationsPerSecond, rate)
	if rate > t.PeakThroughput {
		t.PeakThroughput = rate
	}
}

// nearestRank returns the p-th percentile of a sorted slice using the
// nearest-rank method: index ceil(n*p)-1, clamped to the slice bounds.
// A rank landing exactly on a half resolves to the lower neighbor, so
// p95 over ten samples is the 9th sorted value, not the 10th.
func nearestRank(sorted []float64, p float64) float64 {
	rank := float64(len(sorted)) * p
	idx := int(math.Ceil(rank)) - 1
	if rank == math.Floor(rank)+0.5 {
		idx--
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ewma blends a new observation into the smoothed value.
func ewma(smoothed, observed float64) float64 {
	return ewmaAlpha*observed + (1-ewmaAlpha)*smoothed
}
