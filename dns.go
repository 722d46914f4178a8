package monitor

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

const (
	defaultResolveTimeout  = 800 * time.Millisecond
	defaultResolveCacheTTL = 10 * time.Minute
	resolveThrottle        = time.Minute
)

// resolverPool resolves the backend host by racing plain-UDP and
// DNS-over-TLS servers against the system resolver, keeping the
// fastest successful answer. Results are cached with a TTL and
// resolves are throttled unless forced.
type resolverPool struct {
	host       string
	udpServers []string
	tlsServers []string
	timeout    time.Duration
	cacheTTL   time.Duration
	logger     *zap.Logger

	mu          sync.Mutex
	resolved    []string
	cachedUntil time.Time
	lastResolve time.Time
}

func newResolverPool(host string, cfg Config, logger *zap.Logger) *resolverPool {
	return &resolverPool{
		host:       host,
		udpServers: append([]string(nil), cfg.DNSUDPServers...),
		tlsServers: append([]string(nil), cfg.DNSTLSServers...),
		timeout:    pickDuration(cfg.DNSTimeout, defaultResolveTimeout),
		cacheTTL:   pickDuration(cfg.DNSCacheTTL, defaultResolveCacheTTL),
		logger:     logger,
	}
}

func pickDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func (p *resolverPool) addrs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resolved...)
}

// refresh re-resolves the host and reports whether the address set
// changed. Already-IP hosts and throttled or cached lookups report no
// change without touching the network.
func (p *resolverPool) refresh(ctx context.Context, force bool) (bool, error) {
	if net.ParseIP(p.host) != nil {
		return false, nil
	}

	p.mu.Lock()
	throttled := !force && time.Since(p.lastResolve) < resolveThrottle
	cached := !force && time.Now().Before(p.cachedUntil)
	p.mu.Unlock()
	if throttled || cached {
		return false, nil
	}

	addrs, err := p.resolve(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastResolve = time.Now()
	if err != nil {
		return false, err
	}

	sort.Strings(addrs)
	changed := !equalStrings(addrs, p.resolved)
	p.resolved = addrs
	p.cachedUntil = time.Now().Add(p.cacheTTL)
	return changed, nil
}

// resolve fans out one query per configured server plus the system
// resolver and returns the first non-empty answer.
func (p *resolverPool) resolve(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type answer struct {
		addrs []string
		err   error
	}
	ch := make(chan answer, 1)
	report := func(addrs []string, err error) {
		select {
		case ch <- answer{addrs, err}:
		default:
		}
	}

	for _, srv := range p.udpServers {
		go func(srv string) {
			report(p.exchange(ctx, "udp", srv))
		}(srv)
	}
	for _, srv := range p.tlsServers {
		go func(srv string) {
			report(p.exchange(ctx, "tcp-tls", srv))
		}(srv)
	}
	go func() {
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", p.host)
		addrs := make([]string, 0, len(ips))
		for _, ip := range ips {
			addrs = append(addrs, ip.String())
		}
		report(addrs, err)
	}()

	attempts := 1 + len(p.udpServers) + len(p.tlsServers)
	var firstErr error
	for i := 0; i < attempts; i++ {
		select {
		case a := <-ch:
			if a.err == nil && len(a.addrs) > 0 {
				return a.addrs, nil
			}
			if firstErr == nil {
				firstErr = a.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no dns answer for %q", p.host)
	}
	return nil, firstErr
}

func (p *resolverPool) exchange(ctx context.Context, network, server string) ([]string, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(p.host), dns.TypeA)
	c := &dns.Client{Net: network, Timeout: p.timeout}
	r, _, err := c.ExchangeContext(ctx, q, server)
	if err != nil {
		return nil, err
	}
	if r == nil || r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s query to %s failed", network, server)
	}
	addrs := make([]string, 0, len(r.Answer))
	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			addrs = append(addrs, a.A.String())
		}
	}
	return addrs, nil
}

func equalStrings(a, b []string) bool {
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
