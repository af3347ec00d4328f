package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"companyprofiler/internal/scraper/httpx"
)

// fetcher is one tier of the strategy cascade. Each tier attempts to
// retrieve raw HTML for a URL and reports which strategy it is, so the
// caller can log and record per-page latency by tier.
type fetcher interface {
	strategy() Strategy
	fetch(ctx context.Context, rawURL string) (fetchResult, error)
}

// renderFetcher delegates to an optional headless-render sidecar (e.g. a
// Firecrawl-style microservice) for JS-heavy main pages. When no render
// endpoint is configured, it's omitted from the cascade entirely rather
// than embedding a browser into the worker process.
type renderFetcher struct {
	client   *http.Client
	endpoint string
	agents   *httpx.UserAgentRing
}

func (f *renderFetcher) strategy() Strategy { return StrategyRender }

func (f *renderFetcher) fetch(ctx context.Context, rawURL string) (fetchResult, error) {
	reqBody := fmt.Sprintf(`{"url":%q}`, rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewBufferString(reqBody))
	if err != nil {
		return fetchResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", f.agents.Next())

	resp, err := f.client.Do(req)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fetchResult{}, fmt.Errorf("render endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fetchResult{}, err
	}
	return fetchResult{html: string(body), strategy: StrategyRender}, nil
}

// impersonatedFetcher is a plain HTTP client presenting a rotated
// human-like User-Agent and full browser Accept/Accept-Language headers,
// over a DNS-cached transport. It doesn't forge a TLS fingerprint (no
// JA3-impersonation library is vendored here) but mirrors the browser
// request shape closely enough to clear naive bot filters that key off
// User-Agent and header ordering alone.
type impersonatedFetcher struct {
	client *http.Client
	agents *httpx.UserAgentRing
}

func (f *impersonatedFetcher) strategy() Strategy { return StrategyImpersonated }

func (f *impersonatedFetcher) fetch(ctx context.Context, rawURL string) (fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetchResult{}, err
	}
	req.Header.Set("User-Agent", f.agents.Next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fetchResult{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fetchResult{}, err
	}
	return fetchResult{html: string(body), strategy: StrategyImpersonated}, nil
}

// curlFetcher shells out to `curl -L -k`, a last-resort bypass for
// sites that reject Go's net/http at the TLS or HTTP/2 stack level in a
// way no header tweak fixes. Timeout is enforced by the context the
// caller passes in, same as the library-backed tiers.
type curlFetcher struct {
	binary  string
	timeout time.Duration
	agents  *httpx.UserAgentRing
	proxies *httpx.ProxyRing
}

func (f *curlFetcher) strategy() Strategy { return StrategyRaw }

func (f *curlFetcher) fetch(ctx context.Context, rawURL string) (fetchResult, error) {
	args := []string{"-L", "-k", "-sS", "--max-time", fmt.Sprintf("%.0f", f.timeout.Seconds()),
		"-A", f.agents.Next(), rawURL}
	if proxy := f.proxies.Next(); proxy != "" {
		args = append([]string{"-x", proxy}, args...)
	}

	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fetchResult{}, fmt.Errorf("curl fetch %s: %w: %s", rawURL, err, stderr.String())
	}
	return fetchResult{html: stdout.String(), strategy: StrategyRaw}, nil
}
