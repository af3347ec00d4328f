// Command worker runs the company profiling pipeline as a long-lived
// fleet process: it pulls jobs from a queue, runs each through the
// orchestrator, and acknowledges the result, until told to shut down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"companyprofiler/internal/config"
	"companyprofiler/internal/dispatch"
	"companyprofiler/internal/llm"
	"companyprofiler/internal/llm/anthropic"
	"companyprofiler/internal/llm/google"
	"companyprofiler/internal/llm/ollama"
	"companyprofiler/internal/llm/openaicompat"
	"companyprofiler/internal/logx"
	"companyprofiler/internal/metrics"
	"companyprofiler/internal/pipeline"
	"companyprofiler/internal/queue"
	"companyprofiler/internal/scraper"
	"companyprofiler/internal/search"
	"companyprofiler/internal/tokenaccount"
	"companyprofiler/internal/tracing"
)

func main() {
	os.Exit(run())
}

// run contains the full startup/serve/shutdown sequence and returns the
// process exit code: 0 on graceful shutdown, 1 on configuration error.
func run() int {
	var (
		configPath   string
		queueDBPath  string
		concurrency  int
		metricsAddr  string
		otelEndpoint string
		shutdownSec  int
	)
	flag.StringVar(&configPath, "config", "", "path to the worker fleet's JSON configuration file")
	flag.StringVar(&queueDBPath, "queue-db", "worker.db", "path to the sqlite job queue (single-node local-dev fallback)")
	flag.IntVar(&concurrency, "concurrency", 4, "maximum jobs processed concurrently by this worker")
	flag.StringVar(&metricsAddr, "metrics-addr", ":9090", "address the /metrics endpoint listens on")
	flag.StringVar(&otelEndpoint, "otel-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP/gRPC endpoint for tracing; empty disables tracing")
	flag.IntVar(&shutdownSec, "shutdown-timeout", 30, "seconds to wait for in-flight jobs to finish during graceful shutdown")
	flag.Parse()

	log := logx.New("worker")
	defer logx.Sync()

	if configPath == "" {
		fmt.Fprintln(os.Stderr, "worker: -config is required")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Errorf("loading config: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, otelEndpoint)
	if err != nil {
		log.Errorf("initializing tracing: %v", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warnf("tracing shutdown: %v", err)
		}
	}()

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		log.Errorf("building provider dispatcher: %v", err)
		return 1
	}

	scraperCore, err := scraper.New(ctx, cfg.Scraper)
	if err != nil {
		log.Errorf("building scraper core: %v", err)
		return 1
	}

	searchClient := buildSearchClient(cfg)

	counter, err := tokenaccount.NewCounterWithConfig(reduceModel(cfg), cfg.Chunking)
	if err != nil {
		log.Errorf("building token counter: %v", err)
		return 1
	}

	orchestrator := pipeline.New(dispatcher, scraperCore, searchClient, counter, cfg.Chunking, cfg.Pipeline)

	q, err := queue.OpenSQLiteQueue(queueDBPath)
	if err != nil {
		log.Errorf("opening job queue: %v", err)
		return 1
	}

	metricsServer := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()

	log.Infof("worker started: concurrency=%d metrics=%s queue=%s", concurrency, metricsAddr, queueDBPath)
	loopDone := make(chan struct{})
	go func() {
		runWorkerLoop(ctx, log, q, orchestrator, concurrency)
		close(loopDone)
	}()
	<-ctx.Done()

	log.Infof("draining, waiting up to %ds for in-flight jobs", shutdownSec)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownSec)*time.Second)
	defer cancel()
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		log.Warnf("shutdown timeout reached with jobs still in flight")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("metrics server shutdown: %v", err)
	}

	log.Infof("worker shut down cleanly")
	return 0
}

// runWorkerLoop dequeues jobs and runs each through the orchestrator,
// bounded to concurrency in-flight jobs at a time, until ctx is
// cancelled (by a SIGTERM/SIGINT), at which point it stops dequeuing
// new work and waits for whatever is already in flight.
func runWorkerLoop(ctx context.Context, log *logx.Logger, q queue.Queue, o *pipeline.Orchestrator, concurrency int) {
	slots := make(chan struct{}, maxInt(concurrency, 1))
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		job, err := q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				select {
				case <-time.After(500 * time.Millisecond):
				case <-ctx.Done():
					wg.Wait()
					return
				}
				continue
			}
			log.Errorf("dequeue: %v", err)
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(job *queue.Job) {
			defer wg.Done()
			defer func() { <-slots }()
			processJob(ctx, log, q, o, job)
		}(job)
	}
}

func processJob(ctx context.Context, log *logx.Logger, q queue.Queue, o *pipeline.Orchestrator, job *queue.Job) {
	outcome, err := o.Run(ctx, job)
	if err != nil {
		if failErr := q.Fail(ctx, job.ID, err); failErr != nil {
			log.Errorf("job %s failed (%v) and could not be nacked: %v", job.ID, err, failErr)
		}
		return
	}
	result := queue.Result{Profile: outcome.Profile, Timings: outcome.Timings}
	if err := q.Complete(ctx, job.ID, result); err != nil {
		log.Errorf("job %s succeeded but could not be acked: %v", job.ID, err)
	}
}

// buildDispatcher assembles the provider gateway. SGLANG_BASE_URL pins
// the worker to a single self-hosted backend with no fallback, per the
// launcher's environment-variable contract; otherwise every enabled
// provider in cfg is registered.
func buildDispatcher(cfg *config.Config) (*dispatch.Dispatcher, error) {
	if base := os.Getenv("SGLANG_BASE_URL"); base != "" {
		name := os.Getenv("SGLANG_INSTANCE_NAME")
		if name == "" {
			name = "sglang"
		}
		provider := config.Provider{
			Name:          name,
			Kind:          "openai_compatible",
			BaseURL:       base,
			Model:         name,
			ContextWindow: 32_000,
			RPM:           600,
			TPM:           600_000,
			Weight:        1,
			SelfHosted:    true,
			Tier:          config.TierBoth,
		}
		client := openaicompat.New(name, "", provider.Model, provider.ContextWindow, provider.BaseURL, false)
		return dispatch.New([]dispatch.ProviderEntry{{Config: provider, Client: client}})
	}

	entries := make([]dispatch.ProviderEntry, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		client, err := buildProviderClient(p)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		entries = append(entries, dispatch.ProviderEntry{Config: p, Client: client})
	}
	return dispatch.New(entries)
}

func buildProviderClient(p config.Provider) (llm.Client, error) {
	switch p.Kind {
	case "anthropic":
		return anthropic.New(p.APIKey(), p.Model, p.ContextWindow), nil
	case "google":
		return google.New(p.APIKey(), p.Model, p.ContextWindow), nil
	case "ollama":
		return ollama.New(p.BaseURL, p.Model, p.ContextWindow), nil
	case "openai", "openai_compatible":
		return openaicompat.New(p.Name, p.APIKey(), p.Model, p.ContextWindow, p.BaseURL, !p.SelfHosted), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// buildSearchClient wires the Serper-backed discovery search client
// when an API key is configured; discovery simply finds nothing when
// it isn't, which the orchestrator already treats as a normal failure.
func buildSearchClient(cfg *config.Config) search.Client {
	keyEnv := cfg.SerperAPIKeyEnv
	if keyEnv == "" {
		keyEnv = "SERPER_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return search.NewFakeClient()
	}
	return search.NewSerperClient(apiKey, "br", "pt")
}

// reduceModel picks the model the chunker's token counter should target:
// the first NORMAL-eligible provider's model, so chunk sizing matches
// whichever backend will actually consume the REDUCE step's calls.
func reduceModel(cfg *config.Config) string {
	for _, p := range cfg.Providers {
		if p.ServesNormal() {
			return p.Model
		}
	}
	if len(cfg.Providers) > 0 {
		return cfg.Providers[0].Model
	}
	return "gpt-4"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
