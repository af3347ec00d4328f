package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"companyprofiler/internal/chunker"
	"companyprofiler/internal/config"
	"companyprofiler/internal/dispatch"
	"companyprofiler/internal/llm"
	"companyprofiler/internal/logx"
	"companyprofiler/internal/metrics"
	"companyprofiler/internal/queue"
	"companyprofiler/internal/scraper"
	"companyprofiler/internal/search"
	"companyprofiler/internal/tokenaccount"
	"companyprofiler/internal/tracing"
)

// Dispatcher is the subset of *dispatch.Dispatcher the orchestrator
// needs, narrowed to an interface so pipeline tests can substitute a
// fake provider gateway.
type Dispatcher interface {
	Call(ctx context.Context, providerName string, req llm.CompletionRequest, priority dispatch.Priority, deadline time.Duration) (dispatch.CallResult, error)
	CallWithRetry(ctx context.Context, providerName string, req llm.CompletionRequest, priority dispatch.Priority, maxAttempts int, baseBackoff, deadline time.Duration) (dispatch.CallResult, error)
	WeightedSelection(priority dispatch.Priority, k int) []string
}

// Scraper is the subset of *scraper.Core the orchestrator needs.
type Scraper interface {
	Scrape(ctx context.Context, seedURL string) (scraper.Result, error)
}

// Orchestrator runs the per-company state machine. One instance is
// shared across all jobs a worker processes concurrently; all of its
// dependencies are themselves safe for concurrent use.
type Orchestrator struct {
	dispatcher Dispatcher
	scraper    Scraper
	search     search.Client
	counter    *tokenaccount.Counter

	chunkCfg    config.ChunkingConfig
	pipelineCfg config.PipelineConfig

	probeClient *http.Client
	log         *logx.Logger
}

// New builds an Orchestrator. counter is used for the chunker's token
// accounting and should be built from whichever model the REDUCE step's
// providers most commonly target.
func New(d Dispatcher, s Scraper, sc search.Client, counter *tokenaccount.Counter, chunkCfg config.ChunkingConfig, pipelineCfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		dispatcher:  d,
		scraper:     s,
		search:      sc,
		counter:     counter,
		chunkCfg:    chunkCfg,
		pipelineCfg: pipelineCfg,
		probeClient: &http.Client{},
		log:         logx.New("pipeline"),
	}
}

// Run executes the full state machine for one job: START -> (DISCOVER?)
// -> SCRAPE -> CHUNK -> REDUCE -> ASSEMBLE -> END, enforcing the job's
// end-to-end deadline throughout. A non-nil error is a *Error naming the
// failure kind; a cause with no more specific kind is reported as
// FailureTimeout.
func (o *Orchestrator) Run(ctx context.Context, job *queue.Job) (Outcome, error) {
	deadline := job.Deadline
	if deadline <= 0 {
		deadline = time.Duration(o.pipelineCfg.JobDeadlineSeconds) * time.Second
		if deadline <= 0 {
			deadline = 300 * time.Second
		}
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	log := o.log.WithJob(job.ID, job.CNPJ)
	var timings []StepTiming
	totalStart := time.Now()

	id := CompanyIdentifier{
		CNPJ:      job.CNPJ,
		TradeName: job.TradeName,
		LegalName: job.LegalName,
		City:      job.City,
		SeedURL:   job.SeedURL,
	}

	seedURL := job.SeedURL
	if seedURL == "" {
		var discovery DiscoveryResult
		elapsed, err := tracing.Timed(ctx, stepDiscovery, job.ID, job.CNPJ, func(stepCtx context.Context) error {
			var innerErr error
			discovery, innerErr = o.discover(stepCtx, id)
			return innerErr
		})
		timings = append(timings, StepTiming{Step: stepDiscovery, Key: job.ID, Duration: elapsed})
		metrics.StepDuration.WithLabelValues(stepDiscovery).Observe(elapsed.Seconds())
		if err != nil {
			return o.fail(job, timings, err)
		}
		if !discovery.Found {
			return o.fail(job, timings, newError(FailureScrapeEmpty, errors.New("discovery found no candidate site")))
		}
		seedURL = discovery.URL
	}

	var scrapeResult scraper.Result
	elapsed, err := tracing.Timed(ctx, stepScrape, job.ID, job.CNPJ, func(stepCtx context.Context) error {
		var innerErr error
		scrapeResult, innerErr = o.scraper.Scrape(stepCtx, seedURL)
		return innerErr
	})
	timings = append(timings, StepTiming{Step: stepScrape, Key: seedURL, Duration: elapsed})
	metrics.StepDuration.WithLabelValues(stepScrape).Observe(elapsed.Seconds())
	if err != nil || scrapeResult.Empty() {
		if ctx.Err() != nil {
			return o.fail(job, timings, newError(FailureTimeout, ctx.Err()))
		}
		return o.fail(job, timings, newError(FailureScrapeEmpty, err))
	}

	var chunks []chunker.Chunk
	elapsed, err = tracing.Timed(ctx, stepChunk, job.ID, job.CNPJ, func(context.Context) error {
		chunks = chunker.Process(o.counter, scrapeResult.AggregatedText, o.chunkCfg)
		return nil
	})
	timings = append(timings, StepTiming{Step: stepChunk, Key: seedURL, Duration: elapsed})
	metrics.StepDuration.WithLabelValues(stepChunk).Observe(elapsed.Seconds())
	if len(chunks) == 0 {
		return o.fail(job, timings, newError(FailureScrapeEmpty, errors.New("chunker produced no chunks")))
	}

	var partials []map[string]any
	elapsed, err = tracing.Timed(ctx, stepLLM, job.ID, job.CNPJ, func(stepCtx context.Context) error {
		var innerErr error
		partials, innerErr = o.reduceChunks(stepCtx, chunks)
		return innerErr
	})
	timings = append(timings, StepTiming{Step: stepLLM, Key: seedURL, Duration: elapsed})
	metrics.StepDuration.WithLabelValues(stepLLM).Observe(elapsed.Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(job, timings, newError(FailureTimeout, ctx.Err()))
		}
		return o.fail(job, timings, newError(FailureReduceInsufficient, err))
	}

	profile := assembleProfile(partials)
	timings = append(timings, StepTiming{Step: stepTotal, Key: seedURL, Duration: time.Since(totalStart)})
	metrics.StepDuration.WithLabelValues(stepTotal).Observe(time.Since(totalStart).Seconds())
	metrics.JobsTotal.WithLabelValues("success").Inc()
	log.Infof("job completed: %d chunks, %d partials reduced", len(chunks), len(partials))

	return Outcome{Profile: profile, Timings: timings}, nil
}

func (o *Orchestrator) fail(job *queue.Job, timings []StepTiming, cause error) (Outcome, error) {
	var pipelineErr *Error
	if !errors.As(cause, &pipelineErr) {
		pipelineErr = newError(FailureTimeout, cause)
	}
	metrics.JobsTotal.WithLabelValues(string(pipelineErr.Kind)).Inc()
	o.log.WithJob(job.ID, job.CNPJ).Warnf("job failed: %v", pipelineErr)
	return Outcome{Timings: timings}, pipelineErr
}

// ResultFrom converts an Outcome into the queue.Result the orchestrator
// hands back on success.
func ResultFrom(outcome Outcome) queue.Result {
	return queue.Result{Profile: outcome.Profile, Timings: outcome.Timings}
}
