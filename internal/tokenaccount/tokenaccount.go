// Package tokenaccount counts tokens and derives the safety margins the
// chunker and dispatcher use to keep requests under a provider's context
// window.
package tokenaccount

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"companyprofiler/internal/config"
	"companyprofiler/internal/llm"
)

// MessageOverheadTokens approximates the per-message formatting cost
// (role, separators) that a raw character count misses.
const MessageOverheadTokens = 100

// charsPerTokenDefault matches the original estimator's CHARS_PER_TOKEN
// constant, used when no chunking config overrides it.
const charsPerTokenDefault = 3

// Counter provides token counting backed by a real BPE tokenizer, falling
// back to a chars-per-token estimate when the codec can't be built or
// fails on a given input.
type Counter struct {
	codec         tokenizer.Codec
	charsPerToken int
}

// NewCounter builds a counter with the default chars-per-token fallback.
// model selects the tokenizer family; unknown models fall back to the
// GPT-4 encoding, which is close enough for safety-margin purposes across
// providers that don't publish a BPE table.
func NewCounter(model string) (*Counter, error) {
	return NewCounterWithConfig(model, config.ChunkingConfig{CharsPerToken: charsPerTokenDefault})
}

// NewCounterWithConfig builds a counter whose chars-per-token fallback is
// taken from cfg.CharsPerToken (the config file's `chunking.chars_per_token`),
// defaulting to charsPerTokenDefault when unset.
func NewCounterWithConfig(model string, cfg config.ChunkingConfig) (*Counter, error) {
	fallback := cfg.CharsPerToken
	if fallback <= 0 {
		fallback = charsPerTokenDefault
	}

	tikModel := modelToTikToken(model)
	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return &Counter{charsPerToken: fallback}, nil //nolint:nilerr // degrade to char estimate, don't fail startup over it
	}
	return &Counter{codec: codec, charsPerToken: fallback}, nil
}

func modelToTikToken(model string) tokenizer.Model {
	switch {
	case strings.Contains(model, "gpt-4"), strings.Contains(model, "gpt-3.5"):
		return tokenizer.GPT4
	default:
		// Claude, Gemini, and local Llama/Mistral models don't have a public
		// tiktoken vocabulary; GPT-4 BPE is the closest stand-in used
		// throughout the pack for cross-provider estimates.
		return tokenizer.GPT4
	}
}

// Count returns the token count of text, falling back to a character
// estimate if no tokenizer codec is available. Never returns less than 1,
// so an empty or near-empty string is never treated as free.
func (c *Counter) Count(text string) int {
	n := c.count(text)
	if n < 1 {
		n = 1
	}
	return n
}

func (c *Counter) count(text string) int {
	fallback := c.charsPerToken
	if fallback <= 0 {
		fallback = charsPerTokenDefault
	}
	if c.codec == nil {
		return len(text) / fallback
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return len(text) / fallback
	}
	return n
}

// CountMessages counts tokens across a message list, adding a fixed
// per-message overhead for role/separator formatting. Returns at least
// 100 tokens, matching the floor the original estimator applies so an
// empty or near-empty request is never treated as free.
func (c *Counter) CountMessages(messages []llm.CompletionMessage) int {
	total := 0
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		total += c.Count(m.Content) + MessageOverheadTokens
	}
	if total < 100 {
		total = 100
	}
	return total
}

// RepetitionRate returns the fraction of lines in content that are
// duplicates of another line in the same content: (total - unique) / total.
// Highly repetitive scraped content (nav/footer boilerplate repeated across
// subpages) compresses worse than its raw token count suggests, which is
// why it gets an extra safety margin below.
func RepetitionRate(content string) float64 {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		seen[l] = struct{}{}
	}
	unique := len(seen)
	total := len(lines)
	return float64(total-unique) / float64(total)
}

// MarginInfo breaks down how a safety margin was derived, so callers can
// log why a chunk was split instead of just that it was.
type MarginInfo struct {
	RepetitionRate       float64
	RepetitionMargin     float64
	SizeMargin           float64
	TotalMargin          float64
	BaseEffectiveMax     int
	AdjustedEffectiveMax int
}

// DynamicMargin computes an adjusted effective-max-tokens figure for a
// chunk, applying extra safety margin when the content is highly
// repetitive or the chunk is already large, then escalating further if
// even the adjusted max isn't enough to accommodate estimatedTokens.
func DynamicMargin(content string, estimatedTokens, baseEffectiveMax int) (int, MarginInfo) {
	repRate := RepetitionRate(content)

	var repMargin float64
	switch {
	case repRate > 0.90:
		repMargin = 0.15
	case repRate > 0.80:
		repMargin = 0.10
	case repRate > 0.70:
		repMargin = 0.05
	}

	var sizeMargin float64
	switch {
	case estimatedTokens > 80000:
		sizeMargin = 0.25
	case estimatedTokens > 75000:
		sizeMargin = 0.20
	case estimatedTokens > 70000:
		sizeMargin = 0.15
	case estimatedTokens > 60000:
		sizeMargin = 0.10
	case estimatedTokens > 50000:
		sizeMargin = 0.05
	}

	totalMargin := repMargin
	if sizeMargin > totalMargin {
		totalMargin = sizeMargin
	}

	adjusted := int(float64(baseEffectiveMax) * (1 - totalMargin))

	if estimatedTokens > adjusted && baseEffectiveMax > 0 {
		requiredMargin := 1 - float64(estimatedTokens)/float64(baseEffectiveMax)
		safeMargin := requiredMargin + 0.05
		if safeMargin > 0.30 {
			safeMargin = 0.30
		}
		totalMargin = safeMargin
		adjusted = int(float64(baseEffectiveMax) * (1 - totalMargin))
	}

	return adjusted, MarginInfo{
		RepetitionRate:       repRate,
		RepetitionMargin:     repMargin,
		SizeMargin:           sizeMargin,
		TotalMargin:          totalMargin,
		BaseEffectiveMax:     baseEffectiveMax,
		AdjustedEffectiveMax: adjusted,
	}
}

// SafeInputTokens returns the portion of a context window that may be
// spent on input for a self-hosted backend, reserving the remainder for
// the model's own response and chat formatting overhead.
func SafeInputTokens(contextWindow int) int {
	return int(float64(contextWindow) * 0.8)
}
