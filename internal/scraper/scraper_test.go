package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"companyprofiler/internal/config"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	longText := strings.Repeat("Somos uma empresa especializada em solucoes industriais. ", 10)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Home</title></head><body>
<nav><a href="/login">Login</a></nav>
<main><p>%s</p>
<a href="/quem-somos">Quem Somos</a>
<a href="/contato">Contato</a>
</main></body></html>`, longText)
	})
	mux.HandleFunc("/quem-somos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><p>%s</p></body></html>`, longText)
	})
	mux.HandleFunc("/contato", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><p>%s</p></body></html>`, longText)
	})
	return httptest.NewServer(mux)
}

func testScraperConfig() config.ScraperConfig {
	cfg := config.DefaultScraperConfig
	cfg.SiteConcurrency = 2
	cfg.SubpageConcurrency = 2
	cfg.MaxSubpages = 5
	cfg.MinSubpageScore = 0
	cfg.SoftFailureMinChars = 50
	cfg.FetchTimeoutSeconds = 5
	cfg.CircuitFailureThresh = 3
	cfg.CircuitCooldownSeconds = 60
	cfg.CircuitMapTTLSeconds = 3600
	return cfg
}

func TestScrapeMainPageAndSubpages(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	core, err := New(context.Background(), testScraperConfig())
	require.NoError(t, err)

	result, err := core.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	require.False(t, result.Empty())
	require.Contains(t, result.VisitedURLs, srv.URL)
	require.GreaterOrEqual(t, len(result.VisitedURLs), 2, "should have visited at least the main page plus one subpage")
	require.Contains(t, result.AggregatedText, "--- PAGE START:")
	require.Contains(t, result.AggregatedText, "--- PAGE END ---")
}

func TestScrapeOpenCircuitSkipsFetch(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	cfg := testScraperConfig()
	core, err := New(context.Background(), cfg)
	require.NoError(t, err)

	host := hostOf(t, srv.URL)
	breaker := core.circuits.Get(host)
	breaker.Record(false)
	breaker.Record(false)
	breaker.Record(false)

	result, err := core.Scrape(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.True(t, result.Empty())
}

func hostOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Hostname()
}
