package perfmon

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix for environment overrides of threshold
// settings, e.g. PERFMON_WARN_LATENCY_MS=75.
const envPrefix = "PERFMON_"

const defaultMaxHeapBytes = 100 << 20 // 100 MiB

// Thresholds parameterizes the health classifier plus the producer
// bounds supplied by external rule sets. Zero values are invalid; use
// DefaultThresholds as the baseline and override selectively.
type Thresholds struct {
	// Health classifier bounds.
	WarnLatencyMs     float64 `koanf:"warn_latency_ms"`
	CriticalLatencyMs float64 `koanf:"critical_latency_ms"`
	WarnErrorRate     float64 `koanf:"warn_error_rate"`
	CriticalErrorRate float64 `koanf:"critical_error_rate"`
	MaxHeapBytes      uint64  `koanf:"max_heap_bytes"`

	// Producer bounds from the configuration collaborator; record
	// operations reject samples outside them with ErrInvalidSample.
	MaxAcceptableLatencyMs float64 `koanf:"max_acceptable_latency_ms"`
	MaxBatchSize           int     `koanf:"max_batch_size"`
}

// DefaultThresholds returns the fixed constants the monitor ships with:
// 50/100 ms latency ceilings, 5%/10% error-rate ceilings and a 100 MiB
// heap ceiling.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarnLatencyMs:          50,
		CriticalLatencyMs:      100,
		WarnErrorRate:          0.05,
		CriticalErrorRate:      0.10,
		MaxHeapBytes:           defaultMaxHeapBytes,
		MaxAcceptableLatencyMs: 10000,
		MaxBatchSize:           10000,
	}
}

// Validate rejects out-of-range bounds. Latency ceilings must lie in
// [1, 10000] ms, rates in (0, 1], and warning bounds must sit below
// their critical counterparts.
func (t Thresholds) Validate() error {
	if t.WarnLatencyMs < 1 || t.WarnLatencyMs > 10000 {
		return fmt.Errorf("warn latency %vms outside [1, 10000]", t.WarnLatencyMs)
	}
	if t.CriticalLatencyMs < 1 || t.CriticalLatencyMs > 10000 {
		return fmt.Errorf("critical latency %vms outside [1, 10000]", t.CriticalLatencyMs)
	}
	if t.WarnLatencyMs >= t.CriticalLatencyMs {
		return fmt.Errorf("warn latency %vms must be below critical latency %vms", t.WarnLatencyMs, t.CriticalLatencyMs)
	}
	if t.WarnErrorRate <= 0 || t.WarnErrorRate > 1 {
		return fmt.Errorf("warn error rate %v outside (0, 1]", t.WarnErrorRate)
	}
	if t.CriticalErrorRate <= 0 || t.CriticalErrorRate > 1 {
		return fmt.Errorf("critical error rate %v outside (0, 1]", t.CriticalErrorRate)
	}
	if t.WarnErrorRate >= t.CriticalErrorRate {
		return fmt.Errorf("warn error rate %v must be below critical error rate %v", t.WarnErrorRate, t.CriticalErrorRate)
	}
	if t.MaxHeapBytes == 0 {
		return fmt.Errorf("max heap bytes must be positive")
	}
	if t.MaxAcceptableLatencyMs < 1 || t.MaxAcceptableLatencyMs > 10000 {
		return fmt.Errorf("max acceptable latency %vms outside [1, 10000]", t.MaxAcceptableLatencyMs)
	}
	if t.MaxBatchSize < 1 {
		return fmt.Errorf("max batch size must be positive")
	}
	return nil
}

// LoadThresholds reads thresholds from a YAML or JSON file, applies
// PERFMON_-prefixed environment overrides on top, and validates the
// result. Missing keys keep their defaults. An empty path loads
// environment overrides over the defaults only.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()
	k := koanf.New(".")

	if path != "" {
		var parser koanf.Parser = yaml.Parser()
		if strings.EqualFold(filepath.Ext(path), ".json") {
			parser = json.Parser()
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Thresholds{}, fmt.Errorf("loading thresholds from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return Thresholds{}, fmt.Errorf("loading threshold env overrides: %w", err)
	}

	if err := k.Unmarshal("", &t); err != nil {
		return Thresholds{}, fmt.Errorf("unmarshaling thresholds: %w", err)
	}

	if err := t.Validate(); err != nil {
		return Thresholds{}, fmt.Errorf("invalid thresholds: %w", err)
	}
	return t, nil
}
