// Package chunker splits preprocessed scraped content into chunks that
// fit a provider's effective token budget: dedupe/normalize, split on
// page boundaries, group pages up to the effective budget, then validate and
// truncate anything that still doesn't fit.
package chunker

import (
	"strings"

	"companyprofiler/internal/config"
	"companyprofiler/internal/logx"
	"companyprofiler/internal/tokenaccount"
)

const pageSentinelPrefix = "--- PAGE START:"

var log = logx.New("chunker")

// SplitPages divides content on the page sentinel the scraper inserts
// between pages (`--- PAGE START: <url> ---`), keeping the sentinel as
// part of each page's content so downstream consumers can still see
// which URL a page came from.
func SplitPages(content string) []string {
	parts := strings.Split(content, pageSentinelPrefix)
	pages := make([]string, 0, len(parts))
	for i, part := range parts {
		if i == 0 {
			if strings.TrimSpace(part) != "" {
				pages = append(pages, part)
			}
			continue
		}
		pages = append(pages, pageSentinelPrefix+part)
	}
	return pages
}

// presplitOversizedPage breaks one page into pieces that each fit within
// maxTokens, splitting first by paragraph, then by line, and finally
// truncating by character count in the degenerate case of a single
// unsplittable line.
func presplitOversizedPage(counter *tokenaccount.Counter, page string, maxTokens int) []string {
	paragraphs := strings.Split(page, "\n\n")
	if len(paragraphs) == 1 {
		paragraphs = strings.Split(page, "\n")
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	appendPiece := func(piece string) {
		pieceTokens := counter.Count(piece)
		if pieceTokens > maxTokens {
			for _, line := range strings.Split(piece, "\n") {
				lineTokens := counter.Count(line)
				if lineTokens > maxTokens {
					flush()
					maxChars := maxTokens * 4
					if maxChars > len(line) {
						maxChars = len(line)
					}
					chunks = append(chunks, line[:maxChars])
					continue
				}
				if currentTokens+lineTokens > maxTokens {
					flush()
				}
				current.WriteString(line)
				current.WriteString("\n")
				currentTokens += lineTokens
			}
			return
		}
		if currentTokens+pieceTokens > maxTokens {
			flush()
		}
		current.WriteString(piece)
		currentTokens += pieceTokens
	}

	for _, p := range paragraphs {
		appendPiece(p)
	}
	flush()
	return chunks
}

// Group packs pages into chunks, greedily appending pages to the current
// group while the dynamic-margin-adjusted max still accommodates it,
// and starting a new group otherwise.
func Group(counter *tokenaccount.Counter, pages []string, effectiveMax int) []Chunk {
	var chunks []Chunk
	var currentPages []string
	var current strings.Builder
	currentTokens := 0
	sourcePages := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index:           len(chunks),
			Content:         current.String(),
			Tokens:          currentTokens,
			SourcePageCount: sourcePages,
		})
		current.Reset()
		currentTokens = 0
		sourcePages = 0
		currentPages = nil
	}

	for _, page := range pages {
		pageTokens := counter.Count(page)
		potentialTokens := currentTokens + pageTokens
		potentialContent := current.String()
		if potentialContent != "" {
			potentialContent += "\n\n" + page
		} else {
			potentialContent = page
		}

		adjustedMax, _ := tokenaccount.DynamicMargin(potentialContent, potentialTokens, effectiveMax)
		if potentialTokens > adjustedMax && current.Len() > 0 {
			flush()
			current.WriteString(page)
			currentTokens = pageTokens
			sourcePages = 1
			currentPages = []string{page}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(page)
		currentTokens = potentialTokens
		sourcePages++
		currentPages = append(currentPages, page)
	}
	flush()

	return chunks
}

// Validate re-measures each chunk including overhead and truncates
// iteratively at 90% of its length until it fits. A chunk that can't be
// made to fit is dropped entirely rather than risking a BadRequest
// downstream.
func Validate(counter *tokenaccount.Counter, chunks []Chunk, maxTokens int) []Chunk {
	var out []Chunk
	for _, c := range chunks {
		measured := counter.Count(c.Content) + tokenaccount.MessageOverheadTokens
		if measured <= maxTokens {
			c.Tokens = measured
			out = append(out, c)
			continue
		}

		content := c.Content
		for len(content) > 1000 {
			content = content[:int(float64(len(content))*0.9)]
			measured = counter.Count(content) + tokenaccount.MessageOverheadTokens
			if measured <= maxTokens {
				break
			}
		}
		if measured > maxTokens {
			log.Warnf("dropping chunk %d: cannot fit within %d tokens even after truncation", c.Index, maxTokens)
			continue
		}
		c.Content = content
		c.Tokens = measured
		out = append(out, c)
	}

	for i := range out {
		out[i].Index = i
	}
	return out
}

// Process runs the full canonical pipeline: preprocess, page-split,
// pre-split any oversized page, group, and validate.
func Process(counter *tokenaccount.Counter, content string, cfg config.ChunkingConfig) []Chunk {
	scope := DedupeScope(cfg.DedupeScope)
	if scope == "" {
		scope = DedupeDocument
	}
	preprocessed, stats := Preprocess(content, scope, cfg.MinLineLength, cfg.MaxBlankLineRun)
	if stats.Dedupe.RemovedLines > 0 {
		log.Infof("preprocess: %d/%d lines removed (%.1f%%), %d -> %d chars",
			stats.Dedupe.RemovedLines, stats.Dedupe.OriginalLines, stats.Dedupe.ReductionPercent,
			stats.OriginalChars, stats.FinalChars)
	}

	effectiveMax := cfg.EffectiveMaxTokens()

	pages := SplitPages(preprocessed)
	var splitPages []string
	for _, page := range pages {
		if counter.Count(page) > effectiveMax {
			splitPages = append(splitPages, presplitOversizedPage(counter, page, effectiveMax)...)
			continue
		}
		splitPages = append(splitPages, page)
	}

	grouped := Group(counter, splitPages, effectiveMax)
	return Validate(counter, grouped, effectiveMax)
}

// LegacyGroup is the pre-process_content grouping strategy the original
// repo kept alive behind a deprecation warning instead of deleting.
//
// Deprecated: use Process, which preprocesses content and applies the
// dynamic safety margin before grouping. LegacyGroup groups raw,
// unprocessed pages directly and is kept only for callers migrating off
// the old strategy.
func LegacyGroup(counter *tokenaccount.Counter, content string, maxTokens int) []string {
	pages := SplitPages(content)
	effectiveMax := maxTokens - 2500 - 200
	if effectiveMax <= 0 {
		effectiveMax = int(float64(maxTokens) * 0.8)
	}

	var raw []string
	for _, page := range pages {
		if counter.Count(page) > effectiveMax {
			raw = append(raw, presplitOversizedPage(counter, page, effectiveMax)...)
			continue
		}
		raw = append(raw, page)
	}

	chunks := Group(counter, raw, effectiveMax)
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}
