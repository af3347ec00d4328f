// Package scraper implements the polite-but-aggressive web scraper:
// given a seed URL, it fetches the main page and a keyword-scored set of
// subpages via a cascading strategy (render -> impersonated HTTP -> raw
// HTTP), extracts clean text and outbound links, and enforces per-domain
// circuit breakers, proxy rotation, and global concurrency caps.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"companyprofiler/internal/circuit"
	"companyprofiler/internal/config"
	"companyprofiler/internal/logx"
	"companyprofiler/internal/metrics"
	"companyprofiler/internal/scraper/circuitmap"
	"companyprofiler/internal/scraper/htmlx"
	"companyprofiler/internal/scraper/httpx"

	"github.com/rs/dnscache"
)

// ErrCircuitOpen is returned when the seed URL's own domain has its
// circuit breaker open; the orchestrator treats this like any other
// scrape failure, not as a distinguished error.
var ErrCircuitOpen = errors.New("scraper: circuit breaker open for domain")

var log = logx.New("scraper")

const pageSentinelFmt = "--- PAGE START: %s ---\n%s\n--- PAGE END ---"

// Core is the process-wide scraper singleton. One instance is shared
// across all jobs a worker processes concurrently.
type Core struct {
	cfg      config.ScraperConfig
	siteSem  *semaphore.Weighted
	circuits *circuitmap.Map
	proxies  *httpx.ProxyRing
	agents   *httpx.UserAgentRing
	resolver *dnscache.Resolver

	render *renderFetcher // nil when no render endpoint is configured
}

// New builds a Core. ctx's lifetime bounds the background DNS-refresh
// goroutine; cancel it at worker shutdown.
func New(ctx context.Context, cfg config.ScraperConfig) (*Core, error) {
	circuits, err := circuitmap.New(
		circuit.Config{
			FailureThreshold: cfg.CircuitFailureThresh,
			Cooldown:         time.Duration(cfg.CircuitCooldownSeconds) * time.Second,
		},
		time.Duration(cfg.CircuitMapTTLSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("scraper: building circuit map: %w", err)
	}

	resolver := httpx.NewResolver(ctx, 5*time.Minute)
	agents := httpx.NewUserAgentRing(cfg.UserAgents)
	proxies := httpx.NewProxyRing(cfg.Proxies)

	core := &Core{
		cfg:      cfg,
		siteSem:  semaphore.NewWeighted(int64(maxInt(cfg.SiteConcurrency, 1))),
		circuits: circuits,
		proxies:  proxies,
		agents:   agents,
		resolver: resolver,
	}
	if cfg.RenderEndpoint != "" {
		transport, terr := httpx.NewTransport(resolver, "")
		if terr != nil {
			return nil, fmt.Errorf("scraper: building render transport: %w", terr)
		}
		core.render = &renderFetcher{
			client:   &http.Client{Transport: transport, Timeout: core.fetchTimeout()},
			endpoint: cfg.RenderEndpoint,
			agents:   agents,
		}
	}
	return core, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (c *Core) fetchTimeout() time.Duration {
	if c.cfg.FetchTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.cfg.FetchTimeoutSeconds) * time.Second
}

// Scrape fetches seedURL's main page and a keyword-scored set of
// same-domain subpages, returning aggregated extracted text, discovered
// PDF links, and the set of URLs actually visited. An empty Result
// (Empty() == true) is a terminal scrape failure to the orchestrator.
func (c *Core) Scrape(ctx context.Context, seedURL string) (Result, error) {
	base, err := url.Parse(seedURL)
	if err != nil || base.Host == "" {
		return Result{}, fmt.Errorf("scraper: invalid seed url %q: %w", seedURL, err)
	}

	if !c.siteSem.TryAcquire(1) {
		metrics.SiteConcurrencyWaits.Inc()
		if err := c.siteSem.Acquire(ctx, 1); err != nil {
			return Result{}, fmt.Errorf("scraper: waiting for site slot: %w", err)
		}
	}
	defer c.siteSem.Release(1)

	breaker := c.circuits.Get(base.Hostname())
	if !breaker.Allow() {
		return Result{}, ErrCircuitOpen
	}

	client := c.clientFor(base.Hostname())

	main, links, latency, err := c.fetchMainPage(ctx, client, seedURL, base)
	breaker.Record(err == nil)
	if err != nil {
		log.Warnf("main page fetch exhausted all strategies for %s: %v", seedURL, err)
		return Result{}, nil
	}

	var result Result
	result.PerPageLatencies = append(result.PerPageLatencies, latency)
	result.VisitedURLs = append(result.VisitedURLs, seedURL)
	result.AggregatedText = fmt.Sprintf(pageSentinelFmt, seedURL, main.Text)
	collectPDFLinks(&result, links)

	sameDomain := htmlx.SameDomainLinks(links, base)
	scored := scoreLinks(sameDomain, c.cfg.HighPriorityKeywords, c.cfg.LowPriorityKeywords)
	subpages := topSubpages(scored, c.cfg.MinSubpageScore, effectiveMax(c.cfg.MaxSubpages))

	c.fetchSubpages(ctx, client, base, subpages, &result)

	return result, nil
}

func effectiveMax(configured int) int {
	if configured <= 0 {
		return 10
	}
	return configured
}

// clientFor returns an HTTP client whose transport is pinned to a
// freshly rotated proxy for this call.
func (c *Core) clientFor(_ string) *http.Client {
	transport, err := httpx.NewTransport(c.resolver, c.proxies.Next())
	if err != nil {
		transport, _ = httpx.NewTransport(c.resolver, "")
	}
	return &http.Client{Transport: transport, Timeout: c.fetchTimeout()}
}

// fetchMainPage runs the three-tier cascade against the main page: a
// render-sidecar fetch, then impersonated HTTP, then a raw curl
// subprocess. Any tier yielding less than the configured
// SoftFailureMinChars (default defaultSoftFailureMinChars) of extracted text is treated as a soft 404 and falls through to the next
// tier.
func (c *Core) fetchMainPage(ctx context.Context, client *http.Client, rawURL string, base *url.URL) (htmlx.Extracted, []string, PageLatency, error) {
	var tiers []fetcher
	if c.render != nil {
		tiers = append(tiers, c.render)
	}
	tiers = append(tiers,
		&impersonatedFetcher{client: client, agents: c.agents},
		&curlFetcher{binary: curlBinary(c.cfg.CurlPath), timeout: c.fetchTimeout(), agents: c.agents, proxies: c.proxies},
	)

	var lastErr error
	for _, tier := range tiers {
		start := time.Now()
		fr, err := tier.fetch(ctx, rawURL)
		elapsed := time.Since(start)
		if err != nil {
			lastErr = err
			metrics.ScrapeStrategyOutcomes.WithLabelValues(string(tier.strategy()), "error").Inc()
			continue
		}
		extracted, extractErr := htmlx.Extract(fr.html, base)
		if extractErr != nil {
			lastErr = extractErr
			metrics.ScrapeStrategyOutcomes.WithLabelValues(string(tier.strategy()), "extract_error").Inc()
			continue
		}
		if len(extracted.Text) < softFailureMinCharsOr(c.cfg.SoftFailureMinChars) {
			lastErr = fmt.Errorf("soft 404: %d chars via %s", len(extracted.Text), tier.strategy())
			metrics.ScrapeStrategyOutcomes.WithLabelValues(string(tier.strategy()), "soft_404").Inc()
			continue
		}
		metrics.ScrapeStrategyOutcomes.WithLabelValues(string(tier.strategy()), "success").Inc()
		return extracted, extracted.Links, PageLatency{URL: rawURL, Strategy: tier.strategy(), Duration: elapsed}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no fetch strategies configured")
	}
	return htmlx.Extracted{}, nil, PageLatency{}, lastErr
}

// defaultSoftFailureMinChars matches the original scraper's documented
// constant: a response under 200 characters is treated as a soft 404.
const defaultSoftFailureMinChars = 200

func softFailureMinCharsOr(v int) int {
	if v <= 0 {
		return defaultSoftFailureMinChars
	}
	return v
}

// fetchSubpages fetches candidate subpages with bounded concurrency,
// impersonated-then-raw (never render — cost/value trade-off for bulk
// subpages), swallowing individual failures and appending whatever
// succeeds to result.
func (c *Core) fetchSubpages(ctx context.Context, client *http.Client, base *url.URL, subpages []string, result *Result) {
	if len(subpages) == 0 {
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(c.cfg.SubpageConcurrency, 1))

	for _, subpage := range subpages {
		subpage := subpage
		g.Go(func() error {
			u, err := url.Parse(subpage)
			if err != nil {
				return nil
			}
			breaker := c.circuits.Get(u.Hostname())
			if !breaker.Allow() {
				metrics.SubpagesSkippedCircuitOpen.WithLabelValues(u.Hostname()).Inc()
				return nil
			}

			subClient := c.clientFor(u.Hostname())
			tiers := []fetcher{
				&impersonatedFetcher{client: subClient, agents: c.agents},
				&curlFetcher{binary: curlBinary(c.cfg.CurlPath), timeout: c.fetchTimeout(), agents: c.agents, proxies: c.proxies},
			}

			var extracted htmlx.Extracted
			var used Strategy
			var elapsed time.Duration
			var fetchErr error
			for _, tier := range tiers {
				start := time.Now()
				fr, err := tier.fetch(gctx, subpage)
				elapsed = time.Since(start)
				if err != nil {
					fetchErr = err
					continue
				}
				ex, exErr := htmlx.Extract(fr.html, base)
				if exErr != nil || len(ex.Text) < softFailureMinCharsOr(c.cfg.SoftFailureMinChars) {
					fetchErr = fmt.Errorf("soft 404 or extract error on %s", subpage)
					continue
				}
				extracted, used, fetchErr = ex, tier.strategy(), nil
				break
			}

			breaker.Record(fetchErr == nil)
			if fetchErr != nil {
				return nil // swallowed: subpage failures don't abort the site scrape
			}

			mu.Lock()
			result.VisitedURLs = append(result.VisitedURLs, subpage)
			result.AggregatedText += "\n\n" + fmt.Sprintf(pageSentinelFmt, subpage, extracted.Text)
			result.PerPageLatencies = append(result.PerPageLatencies, PageLatency{URL: subpage, Strategy: used, Duration: elapsed})
			collectPDFLinks(result, extracted.Links)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // errors are swallowed per-subpage above; Wait never returns non-nil here
}

func collectPDFLinks(result *Result, links []string) {
	seen := make(map[string]struct{}, len(result.PDFLinks))
	for _, l := range result.PDFLinks {
		seen[l] = struct{}{}
	}
	for _, l := range links {
		if strings.HasSuffix(strings.ToLower(l), ".pdf") {
			if _, ok := seen[l]; !ok {
				seen[l] = struct{}{}
				result.PDFLinks = append(result.PDFLinks, l)
			}
		}
	}
}

func curlBinary(configured string) string {
	if configured == "" {
		return "curl"
	}
	return configured
}
