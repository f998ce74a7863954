package perfmon

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"go.uber.org/zap"
)

// Google's public resolver doubles as the route-probe target and the
// fallback UDP server for remote-write host refresh.
const (
	routeProbeAddr = "8.8.8.8:80"
	fallbackDNS    = "8.8.8.8:53"
)

// ReporterConfig configures the optional Prometheus Remote Write
// exporter. The core monitor never requires a reporter; deployments
// that want snapshots shipped off-process wrap a Monitor in one.
type ReporterConfig struct {
	// Service identification
	Namespace   string
	Subsystem   string
	ServiceName string

	// Remote write configuration
	RemoteWriteURL string
	Interval       time.Duration

	// Instance information
	InstanceIP   string
	CustomLabels map[string]string

	// Optional logger
	Logger *zap.Logger

	// Optional UDP resolvers for remote-write host refresh,
	// e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	DNSServers []string
	DNSTimeout time.Duration
}

// DefaultReporterConfig returns a default configuration.
func DefaultReporterConfig() ReporterConfig {
	ip, _ := OutboundIPv4()
	return ReporterConfig{
		Namespace:    "perfmon",
		Subsystem:    "prod",
		ServiceName:  "verifier",
		Interval:     15 * time.Second,
		InstanceIP:   ip,
		CustomLabels: make(map[string]string),
		DNSServers:   []string{fallbackDNS},
	}
}

// Reporter periodically pushes a Collector's metrics to a Prometheus
// Remote Write endpoint.
type Reporter struct {
	config   ReporterConfig
	source   Collector
	client   *promwrite.Client
	resolver *hostResolver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReporter creates a reporter draining source. It fails when the
// remote-write URL or service name is missing.
func NewReporter(config ReporterConfig, source Collector) (*Reporter, error) {
	if source == nil {
		return nil, fmt.Errorf("metrics source cannot be nil")
	}
	if config.ServiceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}
	if config.RemoteWriteURL == "" {
		return nil, fmt.Errorf("remote write URL cannot be empty")
	}

	if config.InstanceIP == "" {
		ip, err := OutboundIPv4()
		if err != nil {
			return nil, fmt.Errorf("failed to get outbound IPv4: %w", err)
		}
		config.InstanceIP = ip
	}

	u, err := url.Parse(config.RemoteWriteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote write URL: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reporter{
		config:   config,
		source:   source,
		client:   promwrite.NewClient(config.RemoteWriteURL),
		resolver: newHostResolver(u.Hostname(), config.DNSServers, config.DNSTimeout, config.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the periodic push loop.
func (r *Reporter) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		interval := r.config.Interval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := r.push(); err != nil {
					if r.config.Logger != nil {
						r.config.Logger.Error("failed to push metrics", zap.Error(err))
					}
				}
			case <-r.ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the push loop and waits for it to drain.
func (r *Reporter) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Flush pushes the current metrics immediately. Useful for health
// checks and shutdown hooks.
func (r *Reporter) Flush() error {
	return r.push()
}

func (r *Reporter) push() error {
	metrics := r.source.Collect()
	if len(metrics) == 0 {
		return nil
	}

	req := &promwrite.WriteRequest{
		TimeSeries: r.timeSeries(metrics),
	}

	ctx, cancel := context.WithTimeout(r.ctx, 15*time.Second)
	defer cancel()

	_, err := r.client.Write(ctx, req)
	if err == nil {
		return nil
	}

	// A moved endpoint looks like a write failure; re-resolve once and
	// retry with a fresh client before giving up.
	if r.resolver.refresh(true) {
		r.client = promwrite.NewClient(r.config.RemoteWriteURL)
		if _, retryErr := r.client.Write(ctx, req); retryErr != nil {
			return fmt.Errorf("writing time series failed after dns refresh: %w", retryErr)
		}
		return nil
	}
	return fmt.Errorf("writing time series failed: %w", err)
}

// timeSeries converts collected metrics to promwrite time series with
// the standard label set.
func (r *Reporter) timeSeries(metrics []Metric) []promwrite.TimeSeries {
	prefix := fmt.Sprintf("%s_%s", r.config.Namespace, r.config.Subsystem)

	result := make([]promwrite.TimeSeries, 0, len(metrics))
	for _, metric := range metrics {
		labels := make([]promwrite.Label, 0, 4+len(r.config.CustomLabels)+len(metric.Labels))

		labels = append(labels,
			promwrite.Label{Name: "__name__", Value: fmt.Sprintf("%s_%s", prefix, metric.Name)},
			promwrite.Label{Name: "instance", Value: r.config.InstanceIP},
			promwrite.Label{Name: "_target_", Value: r.config.ServiceName},
			promwrite.Label{Name: "_source_", Value: r.source.Name()},
		)

		for k, v := range r.config.CustomLabels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}
		for k, v := range metric.Labels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}

		result = append(result, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{
				Time:  metric.Timestamp,
				Value: metric.Value,
			},
		})
	}
	return result
}

// OutboundIPv4 returns the IPv4 address the host would use for
// outbound traffic. Dialing UDP sends no packets; it only forces the
// kernel to pick a route.
func OutboundIPv4() (string, error) {
	conn, err := net.Dial("udp", routeProbeAddr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
