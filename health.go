package perfmon

// HealthStatus is a coarse tri-state classification of the monitored
// pipeline.
type HealthStatus int

const (
	StatusHealthy HealthStatus = iota
	StatusWarning
	StatusCritical
)

// String implements fmt.Stringer.
func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// classify derives the health verdict from the average window latency
// and the window-relative error rate. Critical thresholds are strict;
// warning thresholds are inclusive, so a pipeline sitting exactly on
// the warning ceiling is already flagged.
func classify(avgLatencyMs, errorRate float64, t Thresholds) HealthStatus {
	if avgLatencyMs > t.CriticalLatencyMs || errorRate > t.CriticalErrorRate {
		return StatusCritical
	}
	if avgLatencyMs >= t.WarnLatencyMs || errorRate >= t.WarnErrorRate {
		return StatusWarning
	}
	return StatusHealthy
}

// performanceHealthy is the strict boolean gate. It is independent of
// the verdict: all three bounds must hold strictly, including the heap
// ceiling, which the verdict never looks at.
func performanceHealthy(avgLatencyMs, errorRate float64, heapUsed uint64, t Thresholds) bool {
	return avgLatencyMs < t.WarnLatencyMs &&
		errorRate < t.WarnErrorRate &&
		heapUsed < t.MaxHeapBytes
}
