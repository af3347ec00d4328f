package chunker

import (
	"strings"
	"testing"

	"companyprofiler/internal/config"
	"companyprofiler/internal/tokenaccount"
)

func newCounter(t *testing.T) *tokenaccount.Counter {
	t.Helper()
	c, err := tokenaccount.NewCounter("gpt-4")
	if err != nil {
		t.Fatalf("NewCounter: %v", err)
	}
	return c
}

func TestDeduplicateDocumentScope(t *testing.T) {
	content := "line one\nline two\nline one\nshort\nshort\nline two"
	out, stats := Deduplicate(content, DedupeDocument, 6)
	if stats.RemovedLines != 2 {
		t.Fatalf("expected 2 removed lines, got %d (output: %q)", stats.RemovedLines, out)
	}
	lines := strings.Split(out, "\n")
	if lines[0] != "line one" || lines[1] != "line two" {
		t.Fatalf("unexpected survivor order: %v", lines)
	}
	// short lines always pass through, even if repeated
	shortCount := 0
	for _, l := range lines {
		if l == "short" {
			shortCount++
		}
	}
	if shortCount != 2 {
		t.Errorf("expected both short lines to survive, got %d", shortCount)
	}
}

func TestDeduplicateConsecutiveScope(t *testing.T) {
	content := "a\na\nb\na"
	out, stats := Deduplicate(content, DedupeConsecutive, 1)
	if stats.RemovedLines != 1 {
		t.Fatalf("expected 1 removed line, got %d", stats.RemovedLines)
	}
	if out != "a\nb\na" {
		t.Fatalf("expected non-consecutive repeats to survive, got %q", out)
	}
}

func TestNormalizeWhitespaceCollapsesBlankRuns(t *testing.T) {
	content := "a\n\n\n\n\nb  \nc\t\n"
	out := NormalizeWhitespace(content, 2)
	if strings.Contains(out, "\n\n\n\n") {
		t.Fatalf("expected blank runs collapsed to at most 2, got %q", out)
	}
	if strings.Contains(out, "b  ") || strings.Contains(out, "c\t") {
		t.Fatalf("expected trailing whitespace stripped, got %q", out)
	}
}

func TestSplitPages(t *testing.T) {
	content := "--- PAGE START: https://a.com ---\nhello\n--- PAGE START: https://b.com ---\nworld"
	pages := SplitPages(content)
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d: %v", len(pages), pages)
	}
	if !strings.Contains(pages[0], "https://a.com") || !strings.Contains(pages[0], "hello") {
		t.Errorf("unexpected first page: %q", pages[0])
	}
	if !strings.Contains(pages[1], "https://b.com") || !strings.Contains(pages[1], "world") {
		t.Errorf("unexpected second page: %q", pages[1])
	}
}

func TestSplitPagesNoSentinelIsOnePage(t *testing.T) {
	pages := SplitPages("just some plain content with no sentinel")
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
}

func TestGroupPacksSmallPagesTogether(t *testing.T) {
	counter := newCounter(t)
	pages := []string{"short page one", "short page two", "short page three"}
	chunks := Group(counter, pages, 100000)
	if len(chunks) != 1 {
		t.Fatalf("expected all small pages grouped into one chunk, got %d", len(chunks))
	}
	if chunks[0].SourcePageCount != 3 {
		t.Errorf("expected source page count 3, got %d", chunks[0].SourcePageCount)
	}
}

func TestGroupSplitsWhenOverCap(t *testing.T) {
	counter := newCounter(t)
	big := strings.Repeat("word ", 2000)
	pages := []string{big, big, big}
	chunks := Group(counter, pages, counter.Count(big)+10)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks when pages exceed the cap together, got %d", len(chunks))
	}
}

func TestValidateDropsUnfittableChunk(t *testing.T) {
	counter := newCounter(t)
	chunks := []Chunk{{Index: 0, Content: strings.Repeat("x", 2000)}}
	out := Validate(counter, chunks, 1) // impossible budget
	if len(out) != 0 {
		t.Fatalf("expected unfittable chunk to be dropped, got %d chunks", len(out))
	}
}

func TestValidateTruncatesOversizedChunk(t *testing.T) {
	counter := newCounter(t)
	content := strings.Repeat("hello world ", 5000)
	chunks := []Chunk{{Index: 0, Content: content}}
	maxTokens := counter.Count(content) / 3
	out := Validate(counter, chunks, maxTokens)
	if len(out) != 1 {
		t.Fatalf("expected chunk to survive via truncation, got %d chunks", len(out))
	}
	if out[0].Tokens > maxTokens {
		t.Errorf("truncated chunk still exceeds budget: %d > %d", out[0].Tokens, maxTokens)
	}
}

func TestProcessEndToEnd(t *testing.T) {
	counter := newCounter(t)
	content := "--- PAGE START: https://a.com ---\nWelcome to our site\nWelcome to our site\n--- PAGE START: https://b.com ---\nAbout us and our services"
	cfg := config.DefaultChunkingConfig
	chunks := Process(counter, content, cfg)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, c := range chunks {
		if c.Tokens > cfg.EffectiveMaxTokens()+tokenaccount.MessageOverheadTokens {
			t.Errorf("chunk %d tokens %d exceeds effective max", c.Index, c.Tokens)
		}
	}
}

func TestLegacyGroup(t *testing.T) {
	counter := newCounter(t)
	content := "--- PAGE START: https://a.com ---\nsome content here"
	out := LegacyGroup(counter, content, 500000)
	if len(out) == 0 {
		t.Fatal("expected legacy grouping to produce at least one chunk")
	}
}
