// Package metrics exposes Prometheus instrumentation for the worker
// fleet: job throughput, per-step latency, provider call outcomes, and
// circuit breaker state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companyprofiler_jobs_total",
		Help: "Company profile jobs processed, by outcome.",
	}, []string{"outcome"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "companyprofiler_step_duration_seconds",
		Help:    "Duration of each pipeline step.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"step"})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companyprofiler_provider_calls_total",
		Help: "LLM provider calls, by provider and outcome kind.",
	}, []string{"provider", "kind"})

	ProviderTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companyprofiler_provider_tokens_total",
		Help: "Tokens consumed per provider, by direction.",
	}, []string{"provider", "direction"})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "companyprofiler_circuit_state",
		Help: "Per-domain circuit breaker state (0=closed, 1=open).",
	}, []string{"domain"})

	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companyprofiler_ratelimit_waits_total",
		Help: "Times a provider rate limiter made a caller wait.",
	}, []string{"provider"})

	SiteConcurrencyWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "companyprofiler_scraper_site_waits_total",
		Help: "Times a new site scrape had to wait for the global site-concurrency semaphore.",
	})

	SubpagesSkippedCircuitOpen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companyprofiler_scraper_subpages_skipped_total",
		Help: "Subpage fetches skipped because the domain's circuit breaker was open.",
	}, []string{"domain"})

	ScrapeStrategyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "companyprofiler_scraper_strategy_outcomes_total",
		Help: "Scrape fetch attempts by strategy tier and outcome.",
	}, []string{"strategy", "outcome"})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
