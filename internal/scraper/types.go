package scraper

import "time"

// PageLatency records how long one page fetch took and which strategy
// ultimately produced it.
type PageLatency struct {
	URL      string
	Strategy Strategy
	Duration time.Duration
}

// Result is the scrape outcome for one seed URL: the extracted text of
// the main page and its selected subpages, concatenated page by page
// without line deduplication (the chunker dedupes later), PDF links
// discovered along the way, the set of URLs actually visited, and a
// latency breakdown per page. Ownership transfers to the pipeline
// orchestrator on return.
type Result struct {
	AggregatedText   string
	PDFLinks         []string
	VisitedURLs      []string
	PerPageLatencies []PageLatency
}

// Empty reports whether the scrape produced no usable content at all —
// the orchestrator treats this as a terminal scrape failure.
func (r Result) Empty() bool {
	return len(r.VisitedURLs) == 0
}

// Strategy identifies which fetch cascade tier produced a page.
type Strategy string

const (
	StrategyRender       Strategy = "render"
	StrategyImpersonated Strategy = "impersonated"
	StrategyRaw          Strategy = "raw_curl"
)

// fetchResult is the internal outcome of one fetch attempt, soft-404
// checked by the caller against the configured minimum content length.
type fetchResult struct {
	html     string
	strategy Strategy
}
