package perfmon

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

// Mock clock for deterministic testing
type MockClock struct {
	current time.Time
}

func (m *MockClock) Now() time.Time {
	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.current = m.current.Add(d)
}

func newTestMonitor(t *testing.T) (*Monitor, *MockClock) {
	t.Helper()
	clock := &MockClock{current: time.Unix(1700000000, 0)}
	mon, err := New(Options{Clock: clock})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return mon, clock
}

func TestNew_InvalidThresholds(t *testing.T) {
	bad := DefaultThresholds()
	bad.CriticalLatencyMs = 20000
	if _, err := New(Options{Thresholds: bad}); err == nil {
		t.Error("expected error for out-of-range critical latency")
	}
}

func TestMetrics_InitialState(t *testing.T) {
	mon, _ := newTestMonitor(t)

	snap := mon.Metrics()
	if !math.IsInf(snap.Latency.Min, 1) {
		t.Errorf("expected Min sentinel +Inf before first sample, got %v", snap.Latency.Min)
	}
	if snap.Latency.Max != 0 {
		t.Errorf("expected Max to start at 0, got %v", snap.Latency.Max)
	}
	if snap.Errors.Total() != 0 {
		t.Errorf("expected zero errors, got %d", snap.Errors.Total())
	}
	if mon.SampleCount() != 0 {
		t.Errorf("expected empty window, got %d samples", mon.SampleCount())
	}
}

func TestRecordVerification_LatencyScenario(t *testing.T) {
	mon, _ := newTestMonitor(t)

	for _, d := range []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		if err := mon.RecordVerification(d, true); err != nil {
			t.Fatalf("RecordVerification(%v) failed: %v", d, err)
		}
	}

	snap := mon.Metrics()
	if snap.Latency.Avg != 55 {
		t.Errorf("expected avg 55, got %v", snap.Latency.Avg)
	}
	// nearest-rank: ceil(10*0.95)-1 = 9th zero-based sorted index is 90
	if snap.Latency.P95 != 90 {
		t.Errorf("expected p95 90, got %v", snap.Latency.P95)
	}
	if snap.Latency.P99 != 100 {
		t.Errorf("expected p99 100, got %v", snap.Latency.P99)
	}
	if snap.Latency.Min != 10 {
		t.Errorf("expected min 10, got %v", snap.Latency.Min)
	}
	if snap.Latency.Max != 100 {
		t.Errorf("expected max 100, got %v", snap.Latency.Max)
	}
	if snap.Errors.Validation != 0 {
		t.Errorf("expected 0 validation errors, got %d", snap.Errors.Validation)
	}
}

func TestRecordVerification_WindowEviction(t *testing.T) {
	mon, _ := newTestMonitor(t)

	// One small outlier, then enough samples to push it out.
	if err := mon.RecordVerification(5, true); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}
	for i := 0; i < windowCapacity; i++ {
		if err := mon.RecordVerification(10, true); err != nil {
			t.Fatalf("RecordVerification failed: %v", err)
		}
	}

	if got := mon.SampleCount(); got != windowCapacity {
		t.Errorf("expected window capped at %d, got %d", windowCapacity, got)
	}

	snap := mon.Metrics()
	// The 5ms sample was evicted: the window-only aggregates no longer
	// see it, but the lifetime extrema still do.
	if snap.Latency.Avg != 10 {
		t.Errorf("expected avg 10 after eviction, got %v", snap.Latency.Avg)
	}
	if snap.Latency.P95 != 10 {
		t.Errorf("expected p95 10 after eviction, got %v", snap.Latency.P95)
	}
	if snap.Latency.Min != 5 {
		t.Errorf("expected lifetime min 5, got %v", snap.Latency.Min)
	}
}

func TestRecordVerification_FailureCountsValidationError(t *testing.T) {
	mon, _ := newTestMonitor(t)

	if err := mon.RecordVerification(10, false); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}
	if err := mon.RecordVerification(10, true); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}

	snap := mon.Metrics()
	if snap.Errors.Validation != 1 {
		t.Errorf("expected 1 validation error, got %d", snap.Errors.Validation)
	}
}

func TestRecordVerification_ThroughputTick(t *testing.T) {
	mon, _ := newTestMonitor(t)

	// With fewer than 2 samples the tick is skipped.
	if err := mon.RecordVerification(1, true); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}
	if vps := mon.Metrics().Throughput.VerificationsPerSecond; vps != 0 {
		t.Errorf("expected throughput unchanged with <2 samples, got %v", vps)
	}

	// Second sample: rate = 2/(5000/1000) = 0.4, folded from 0 by α=0.1.
	if err := mon.RecordVerification(1, true); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}
	snap := mon.Metrics()
	if diff := math.Abs(snap.Throughput.VerificationsPerSecond - 0.04); diff > 1e-12 {
		t.Errorf("expected smoothed vps 0.04, got %v", snap.Throughput.VerificationsPerSecond)
	}
	if snap.Throughput.PeakThroughput != 0.4 {
		t.Errorf("expected peak 0.4 (instantaneous), got %v", snap.Throughput.PeakThroughput)
	}
}

func TestRecordBatch_Scenario(t *testing.T) {
	mon, _ := newTestMonitor(t)

	if err := mon.RecordBatch(100, 1000, 90); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}

	snap := mon.Metrics()
	// Instantaneous rate 100/s folded into a zeroed EWMA: 0.1*100 = 10.
	if diff := math.Abs(snap.Throughput.VerificationsPerSecond - 10); diff > 1e-12 {
		t.Errorf("expected smoothed vps 10, got %v", snap.Throughput.VerificationsPerSecond)
	}
	if diff := math.Abs(snap.Throughput.BatchesPerSecond - 0.1); diff > 1e-12 {
		t.Errorf("expected smoothed bps 0.1, got %v", snap.Throughput.BatchesPerSecond)
	}
	if snap.Throughput.PeakThroughput != 100 {
		t.Errorf("expected peak 100, got %v", snap.Throughput.PeakThroughput)
	}
	if snap.Errors.Validation != 10 {
		t.Errorf("expected 10 validation errors, got %d", snap.Errors.Validation)
	}
	if mon.SampleCount() != 0 {
		t.Errorf("batch path must not touch the latency window, got %d samples", mon.SampleCount())
	}
}

func TestRecordBatch_EWMAConvergence(t *testing.T) {
	mon, _ := newTestMonitor(t)

	const target = 50.0
	prevDist := target
	for i := 0; i < 100; i++ {
		if err := mon.RecordBatch(50, 1000, 50); err != nil {
			t.Fatalf("RecordBatch failed: %v", err)
		}
		dist := math.Abs(target - mon.Metrics().Throughput.VerificationsPerSecond)
		if dist >= prevDist {
			t.Fatalf("iteration %d: distance to target did not decrease (%v -> %v)", i, prevDist, dist)
		}
		prevDist = dist
	}
	if prevDist > 0.01 {
		t.Errorf("expected vps to converge near %v, still %v away", target, prevDist)
	}
}

func TestPeakThroughput_NonDecreasing(t *testing.T) {
	mon, _ := newTestMonitor(t)

	rates := []struct {
		batch      int
		durationMs float64
	}{
		{100, 1000}, // 100/s
		{50, 1000},  // 50/s: peak holds
		{200, 1000}, // 200/s: peak advances
		{10, 1000},  // 10/s: peak holds
	}
	var peak float64
	for _, r := range rates {
		if err := mon.RecordBatch(r.batch, r.durationMs, r.batch); err != nil {
			t.Fatalf("RecordBatch failed: %v", err)
		}
		got := mon.Metrics().Throughput.PeakThroughput
		if got < peak {
			t.Fatalf("peak decreased from %v to %v", peak, got)
		}
		peak = got
	}
	if peak != 200 {
		t.Errorf("expected final peak 200, got %v", peak)
	}
}

func TestNearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	cases := []struct {
		name string
		p    float64
		want float64
	}{
		// rank 9.5 sits exactly on a half and resolves downward.
		{"p95 half rank resolves down", 0.95, 90},
		{"p99", 0.99, 100},
		{"median integer rank", 0.5, 50},
		{"fractional rank rounds up", 0.92, 100},
		{"p10", 0.10, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nearestRank(sorted, tc.p); got != tc.want {
				t.Errorf("nearestRank(p=%v) = %v, want %v", tc.p, got, tc.want)
			}
		})
	}

	if got := nearestRank([]float64{7}, 0.5); got != 7 {
		t.Errorf("expected single-sample percentile 7, got %v", got)
	}
}

func TestPercentileOrdering(t *testing.T) {
	mon, _ := newTestMonitor(t)

	durations := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5, 8, 9, 7, 9, 3, 2, 3, 8, 4}
	for _, d := range durations {
		if err := mon.RecordVerification(d, true); err != nil {
			t.Fatalf("RecordVerification failed: %v", err)
		}
	}

	snap := mon.Metrics()
	if snap.Latency.P99 < snap.Latency.P95 {
		t.Errorf("p99 %v below p95 %v", snap.Latency.P99, snap.Latency.P95)
	}
	if snap.Latency.Max < snap.Latency.P99 {
		t.Errorf("max %v below p99 %v", snap.Latency.Max, snap.Latency.P99)
	}
}

func TestRecordCryptographicOperation(t *testing.T) {
	mon, _ := newTestMonitor(t)

	if err := mon.RecordCryptographicOperation(2.5, true); err != nil {
		t.Fatalf("RecordCryptographicOperation failed: %v", err)
	}
	if err := mon.RecordCryptographicOperation(2.5, false); err != nil {
		t.Fatalf("RecordCryptographicOperation failed: %v", err)
	}

	snap := mon.Metrics()
	if snap.Errors.Cryptographic != 1 {
		t.Errorf("expected 1 cryptographic error, got %d", snap.Errors.Cryptographic)
	}
	// Crypto timing is not folded into the latency window.
	if mon.SampleCount() != 0 {
		t.Errorf("expected empty window, got %d samples", mon.SampleCount())
	}
}

func TestRecordCategoryCounters(t *testing.T) {
	mon, _ := newTestMonitor(t)

	mon.RecordConfigurationError()
	mon.RecordConfigurationError()
	mon.RecordSystemError()

	snap := mon.Metrics()
	if snap.Errors.Configuration != 2 {
		t.Errorf("expected 2 configuration errors, got %d", snap.Errors.Configuration)
	}
	if snap.Errors.System != 1 {
		t.Errorf("expected 1 system error, got %d", snap.Errors.System)
	}
	if snap.Errors.Total() != 3 {
		t.Errorf("expected 3 total errors, got %d", snap.Errors.Total())
	}
}

func TestInvalidSamples(t *testing.T) {
	mon, _ := newTestMonitor(t)

	cases := []struct {
		name string
		call func() error
	}{
		{"negative verification duration", func() error { return mon.RecordVerification(-1, true) }},
		{"NaN verification duration", func() error { return mon.RecordVerification(math.NaN(), true) }},
		{"verification above latency ceiling", func() error { return mon.RecordVerification(10001, true) }},
		{"zero batch size", func() error { return mon.RecordBatch(0, 1000, 0) }},
		{"zero batch duration", func() error { return mon.RecordBatch(10, 0, 5) }},
		{"negative successes", func() error { return mon.RecordBatch(10, 1000, -1) }},
		{"successes above batch size", func() error { return mon.RecordBatch(10, 1000, 11) }},
		{"batch above ceiling", func() error { return mon.RecordBatch(10001, 1000, 10001) }},
		{"negative crypto duration", func() error { return mon.RecordCryptographicOperation(-0.1, false) }},
		{"crypto above latency ceiling", func() error { return mon.RecordCryptographicOperation(10001, true) }},
	}
	for _, tc := range cases {
		if err := tc.call(); !errors.Is(err, ErrInvalidSample) {
			t.Errorf("%s: expected ErrInvalidSample, got %v", tc.name, err)
		}
	}

	// Rejected samples must leave no trace.
	snap := mon.Metrics()
	if mon.SampleCount() != 0 || snap.Errors.Total() != 0 {
		t.Errorf("rejected samples mutated state: %d samples, %d errors", mon.SampleCount(), snap.Errors.Total())
	}
	if snap.Throughput.VerificationsPerSecond != 0 || snap.Throughput.PeakThroughput != 0 {
		t.Errorf("rejected samples mutated throughput: %+v", snap.Throughput)
	}
}

func TestReset(t *testing.T) {
	mon, clock := newTestMonitor(t)

	for i := 0; i < 10; i++ {
		if err := mon.RecordVerification(42, i%2 == 0); err != nil {
			t.Fatalf("RecordVerification failed: %v", err)
		}
	}
	if err := mon.RecordBatch(100, 1000, 90); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}
	mon.RecordSystemError()

	clock.Advance(5 * time.Minute)
	mon.Reset()

	snap := mon.Metrics()
	if snap.Errors.Total() != 0 {
		t.Errorf("expected zeroed errors after reset, got %d", snap.Errors.Total())
	}
	if mon.SampleCount() != 0 {
		t.Errorf("expected empty window after reset, got %d samples", mon.SampleCount())
	}
	if !math.IsInf(snap.Latency.Min, 1) {
		t.Errorf("expected Min sentinel restored after reset, got %v", snap.Latency.Min)
	}
	if snap.Throughput.PeakThroughput != 0 {
		t.Errorf("expected peak reset to 0, got %v", snap.Throughput.PeakThroughput)
	}
	if up := mon.Summary().Uptime; up != 0 {
		t.Errorf("expected uptime restarted at reset, got %v", up)
	}
}

func TestSummary(t *testing.T) {
	mon, clock := newTestMonitor(t)

	for _, d := range []float64{10, 20, 30} {
		if err := mon.RecordVerification(d, true); err != nil {
			t.Fatalf("RecordVerification failed: %v", err)
		}
	}
	if err := mon.RecordVerification(40, false); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}
	clock.Advance(30 * time.Second)

	sum := mon.Summary()
	if sum.Uptime != 30*time.Second {
		t.Errorf("expected uptime 30s, got %v", sum.Uptime)
	}
	if sum.AverageLatency != 25 {
		t.Errorf("expected average latency 25, got %v", sum.AverageLatency)
	}
	// 1 error over 4 window samples + 1 error.
	if diff := math.Abs(sum.ErrorRate - 0.2); diff > 1e-12 {
		t.Errorf("expected error rate 0.2, got %v", sum.ErrorRate)
	}
	if sum.Status != StatusCritical {
		t.Errorf("expected critical status at 20%% error rate, got %v", sum.Status)
	}
	if sum.MemoryUsage == 0 {
		t.Error("expected non-zero heap usage in summary")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	mon, _ := newTestMonitor(t)

	if err := mon.RecordVerification(10, true); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}

	snap := mon.Metrics()
	snap.Latency.Avg = 9999
	snap.Errors.Validation = 9999

	fresh := mon.Metrics()
	if fresh.Latency.Avg == 9999 || fresh.Errors.Validation == 9999 {
		t.Error("mutating a returned snapshot leaked into monitor state")
	}
}

func TestConcurrentIngestion(t *testing.T) {
	mon, _ := newTestMonitor(t)

	const workers = 8
	const perWorker = 250

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := mon.RecordVerification(1, true); err != nil {
					t.Errorf("RecordVerification failed: %v", err)
					return
				}
				mon.RecordSystemError()
				_ = mon.Metrics()
			}
		}()
	}
	wg.Wait()

	if got := mon.SampleCount(); got > windowCapacity {
		t.Errorf("window exceeded capacity under concurrency: %d", got)
	}
	snap := mon.Metrics()
	if snap.Errors.System != workers*perWorker {
		t.Errorf("expected %d system errors, got %d", workers*perWorker, snap.Errors.System)
	}
}
