package perfmon

import (
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// resolveThrottle is the minimum gap between unforced re-resolutions of
// the remote-write host.
const resolveThrottle = time.Minute

// hostResolver tracks the IP set behind the remote-write host so the
// reporter can detect endpoint moves and rebuild its client. Custom UDP
// resolvers are tried in order before falling back to the system
// resolver.
type hostResolver struct {
	host    string
	servers []string
	timeout time.Duration
	logger  *zap.Logger

	mu          sync.Mutex
	lastResolve time.Time
	ips         []string
}

func newHostResolver(host string, servers []string, timeout time.Duration, logger *zap.Logger) *hostResolver {
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	return &hostResolver{
		host:    host,
		servers: servers,
		timeout: timeout,
		logger:  logger,
	}
}

// refresh re-resolves the host and reports whether the IP set changed.
// Literal IPs and empty hosts never change; unforced calls are
// throttled to once per resolveThrottle.
func (r *hostResolver) refresh(force bool) bool {
	if r == nil || r.host == "" || net.ParseIP(r.host) != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !force && time.Since(r.lastResolve) < resolveThrottle {
		return false
	}
	r.lastResolve = time.Now()

	ips, err := r.resolve()
	if err != nil || len(ips) == 0 {
		if r.logger != nil {
			r.logger.Warn("DNS lookup failed", zap.String("host", r.host), zap.Error(err))
		}
		return false
	}

	if stringSlicesEqual(ips, r.ips) {
		return false
	}
	r.ips = ips

	if r.logger != nil {
		r.logger.Info("remote write host re-resolved",
			zap.String("host", r.host), zap.Strings("ips", ips))
	}
	return true
}

func (r *hostResolver) resolve() ([]string, error) {
	var firstErr error
	for _, srv := range r.servers {
		ips, err := resolveUDP(r.host, srv, r.timeout)
		if err == nil && len(ips) > 0 {
			return ips, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	netIPs, err := net.LookupIP(r.host)
	if err != nil {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, err
	}
	ips := make([]string, 0, len(netIPs))
	for _, ip := range netIPs {
		ips = append(ips, ip.String())
	}
	return ips, nil
}

func resolveUDP(host, server string, timeout time.Duration) ([]string, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(host), dns.TypeA)
	c := &dns.Client{Net: "udp", Timeout: timeout}
	resp, _, err := c.Exchange(q, server)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Rcode != dns.RcodeSuccess {
		return nil, &net.DNSError{Err: "non-success rcode", Name: host, Server: server}
	}
	ips := make([]string, 0, len(resp.Answer))
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips, nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
