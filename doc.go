// Package perfmon provides an embeddable performance monitor for
// verification pipelines: bounded latency sampling, nearest-rank
// percentiles, EWMA-smoothed throughput, categorized error counters
// and a threshold-based health verdict.
//
// Design goals:
//   - Sub-millisecond, allocation-light ingestion under a single lock
//   - Immutable snapshots; callers can never alias internal state
//   - Explicitly constructed monitors, any number per process
//   - Optional Prometheus Remote Write export of snapshots
//
// Basic usage:
//
//	mon, err := perfmon.New(perfmon.Options{})
//	if err != nil {
//	  log.Fatal(err)
//	}
//
//	mon.RecordVerification(12.5, true)
//	mon.RecordBatch(100, 1000, 98)
//
//	sum := mon.Summary()
//	if sum.Status == perfmon.StatusCritical {
//	  // shed load, page someone, ...
//	}
package perfmon
