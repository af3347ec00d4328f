package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"companyprofiler/internal/dispatch"
	"companyprofiler/internal/llm"
	"companyprofiler/internal/search"
)

const discoveryNotFoundToken = "nao_encontrado"

const discoverySystemPrompt = `You are deciding which official company website, if any, matches a set of search results.
Respond with a single JSON object: {"site": "<chosen URL>"}.
If none of the results plausibly belong to the company, respond with {"site": "nao_encontrado"}.
Return only the JSON object, no markdown, no prose.`

// discover resolves a job with no known seed URL to a candidate URL by
// querying a search API with two name/locality formulations, consolidating
// results into a HIGH-priority LLM decision, and probing the chosen URL
// for liveness before handing it to the scrape step.
func (o *Orchestrator) discover(ctx context.Context, id CompanyIdentifier) (DiscoveryResult, error) {
	results, err := o.consolidatedSearch(ctx, id)
	if err != nil {
		return DiscoveryResult{}, newError(FailureNoSearchResults, err)
	}

	decision, err := o.discoveryDecision(ctx, id, results)
	if err != nil {
		return DiscoveryResult{}, newError(FailureDiscoveryLLM, err)
	}
	if decision == "" || decision == discoveryNotFoundToken {
		return DiscoveryResult{Found: false}, nil
	}

	if !o.probeLive(ctx, decision) {
		o.log.Warnf("discovered url %s failed liveness probe", decision)
		return DiscoveryResult{Found: false}, nil
	}
	return DiscoveryResult{URL: decision, Found: true}, nil
}

// consolidatedSearch queries two name/locality formulations and merges
// their organic results; it only fails the job outright when neither
// formulation returns anything.
func (o *Orchestrator) consolidatedSearch(ctx context.Context, id CompanyIdentifier) ([]search.Result, error) {
	queries := searchQueries(id)
	if len(queries) == 0 {
		return nil, fmt.Errorf("pipeline: no name available to formulate a search query")
	}

	var all []search.Result
	var lastErr error
	for _, q := range queries {
		results, err := o.search.Search(ctx, q)
		if err != nil {
			lastErr = err
			continue
		}
		all = append(all, results...)
	}
	if len(all) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, search.ErrNoResults
	}
	return all, nil
}

func searchQueries(id CompanyIdentifier) []string {
	var queries []string
	if id.TradeName != "" {
		queries = append(queries, strings.TrimSpace(id.TradeName+" "+id.City))
	}
	if id.LegalName != "" && id.LegalName != id.TradeName {
		queries = append(queries, strings.TrimSpace(id.LegalName+" "+id.City))
	}
	return queries
}

// discoveryDecision consolidates search results into a prompt and asks
// the primary discovery provider, with one retry against a backup
// provider if the primary call fails for any reason.
func (o *Orchestrator) discoveryDecision(ctx context.Context, id CompanyIdentifier, results []search.Result) (string, error) {
	prompt := consolidatePrompt(id, results)
	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			{Role: llm.RoleSystem, Content: discoverySystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		ResponseFormat: llm.JSONObject,
		Temperature:    0,
	}

	timeout := time.Duration(o.pipelineCfg.DiscoveryLLMTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 35 * time.Second
	}

	providers := o.pipelineCfg.DiscoveryProviders
	if len(providers) == 0 {
		return "", fmt.Errorf("pipeline: no discovery providers configured")
	}

	result, err := o.dispatcher.Call(ctx, providers[0], req, dispatch.PriorityHigh, timeout)
	if err != nil && len(providers) > 1 {
		o.log.Warnf("discovery call to %s failed (%v), retrying with backup provider %s", providers[0], err, providers[1])
		result, err = o.dispatcher.Call(ctx, providers[1], req, dispatch.PriorityHigh, timeout)
	}
	if err != nil {
		return "", err
	}

	site := gjson.Get(result.Content.Content, "site")
	return site.String(), nil
}

func consolidatePrompt(id CompanyIdentifier, results []search.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s", id.TradeName)
	if id.LegalName != "" {
		fmt.Fprintf(&b, " (legal name: %s)", id.LegalName)
	}
	if id.City != "" {
		fmt.Fprintf(&b, ", city: %s", id.City)
	}
	b.WriteString("\n\nSearch results:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s - %s\n   %s\n", i+1, r.Title, r.Link, r.Snippet)
	}
	return b.String()
}

// probeLive issues a short-timeout HEAD request (falling back to GET,
// since some sites reject HEAD) to confirm the chosen URL actually
// resolves before the scraper invests in a full crawl.
func (o *Orchestrator) probeLive(ctx context.Context, rawURL string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, o.probeTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := o.probeClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 500 {
			return true
		}
	}

	req, err = http.NewRequestWithContext(probeCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err = o.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (o *Orchestrator) probeTimeout() time.Duration {
	if o.pipelineCfg.DiscoveryProbeTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(o.pipelineCfg.DiscoveryProbeTimeoutMs) * time.Millisecond
}
