// Package httpx builds the scraper's outbound HTTP clients: a
// DNS-caching transport shared across fetches (cutting repeat-lookup
// latency across the many subpage requests per site) and a tiny
// round-robin proxy ring.
package httpx

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

// NewTransport returns a tuned *http.Transport backed by a shared DNS
// resolver cache. When proxyURL is non-empty, the transport routes
// through it.
func NewTransport(resolver *dnscache.Resolver, proxyURL string) (*http.Transport, error) {
	t := &http.Transport{
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			var lastErr error
			for _, ip := range ips {
				conn, dialErr := d.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if dialErr == nil {
					return conn, nil
				}
				lastErr = dialErr
			}
			return nil, lastErr
		}
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		t.Proxy = http.ProxyURL(parsed)
	}
	return t, nil
}

// NewResolver creates a DNS resolver with a background refresh loop,
// stopped by cancelling ctx.
func NewResolver(ctx context.Context, refresh time.Duration) *dnscache.Resolver {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resolver.Refresh(true)
			}
		}
	}()
	return resolver
}

// ProxyRing round-robins through a configured proxy list under a tiny
// critical section. An empty ring always yields "" (direct connection).
type ProxyRing struct {
	mu   sync.Mutex
	next int
	list []string
}

// NewProxyRing builds a ring from a static proxy list.
func NewProxyRing(proxies []string) *ProxyRing {
	return &ProxyRing{list: proxies}
}

// Next returns the next proxy URL in rotation, or "" if none configured.
func (r *ProxyRing) Next() string {
	if len(r.list) == 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.list[r.next%len(r.list)]
	r.next++
	return p
}

// UserAgentRing picks at random from a pool of human-like user agents so
// consecutive requests from this process don't all present the same
// fingerprint.
type UserAgentRing struct {
	mu   sync.Mutex
	list []string
}

// NewUserAgentRing builds a ring from a static user-agent list, falling
// back to a single generic agent if the list is empty.
func NewUserAgentRing(agents []string) *UserAgentRing {
	if len(agents) == 0 {
		agents = []string{"Mozilla/5.0 (compatible; CompanyProfilerBot/1.0)"}
	}
	return &UserAgentRing{list: agents}
}

// Next returns a pseudo-randomly chosen user agent, so repeated fetches
// against the same host don't present an obviously cyclic pattern.
func (r *UserAgentRing) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list[rand.Intn(len(r.list))] //nolint:gosec // fingerprint diversity, not security sensitive
}
