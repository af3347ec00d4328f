package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"companyprofiler/internal/chunker"
	"companyprofiler/internal/dispatch"
	"companyprofiler/internal/llm"
)

const singleChunkSystemPrompt = `Extract the company's profile from the page content below into a single JSON object matching the target schema. Return only the JSON object, no markdown, no prose.`

const multiChunkSystemPrompt = `This is one chunk of a multi-chunk document scraped from a company's website. Extract whatever fields of the target schema this chunk supports into a single JSON object; omit fields not present in this chunk. A later step merges chunks together. Return only the JSON object, no markdown, no prose.`

// reduceChunks calls the dispatcher once per chunk at NORMAL priority,
// with bounded parallelism so the scraper (not the LLM queue) remains
// the pipeline's intentional bottleneck. Chunk order is preserved in the
// returned slice regardless of completion order.
func (o *Orchestrator) reduceChunks(ctx context.Context, chunks []chunker.Chunk) ([]map[string]any, error) {
	systemPrompt := singleChunkSystemPrompt
	if len(chunks) > 1 {
		systemPrompt = multiChunkSystemPrompt
	}

	partials := make([]map[string]any, len(chunks))
	var succeeded int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(o.pipelineCfg.ReduceConcurrency, 1))

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			profile, err := o.reduceOneChunk(gctx, systemPrompt, chunk)
			if err != nil {
				o.log.Warnf("reduce: chunk %d failed: %v", chunk.Index, err)
				return nil // swallowed: a minority of failed chunks doesn't abort the job
			}
			mu.Lock()
			partials[i] = profile
			succeeded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	minRatio := o.pipelineCfg.ReduceMinSuccessRatio
	if minRatio <= 0 {
		minRatio = 0.5
	}
	if float64(succeeded)/float64(len(chunks)) < minRatio {
		return nil, fmt.Errorf("pipeline: only %d/%d chunks reduced successfully", succeeded, len(chunks))
	}

	out := make([]map[string]any, 0, succeeded)
	for _, p := range partials {
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (o *Orchestrator) reduceOneChunk(ctx context.Context, systemPrompt string, chunk chunker.Chunk) (map[string]any, error) {
	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: chunk.Content},
		},
		ResponseFormat: llm.JSONObject,
		Temperature:    0,
	}

	providers := o.dispatcher.WeightedSelection(dispatch.PriorityNormal, 1)
	if len(providers) == 0 {
		return nil, fmt.Errorf("pipeline: no NORMAL-eligible providers configured")
	}

	maxRetries := o.pipelineCfg.ReduceMaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	baseDelay := time.Duration(o.pipelineCfg.ReduceRetryBaseDelayMs) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	result, err := o.dispatcher.CallWithRetry(ctx, providers[0], req, dispatch.PriorityNormal, maxRetries, baseDelay, o.reduceCallDeadline())
	if err != nil {
		return nil, err
	}

	var profile map[string]any
	if err := json.Unmarshal([]byte(result.Content.Content), &profile); err != nil {
		return nil, fmt.Errorf("pipeline: chunk %d returned non-JSON content: %w", chunk.Index, err)
	}
	return profile, nil
}

func (o *Orchestrator) reduceCallDeadline() time.Duration {
	return 60 * time.Second
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
