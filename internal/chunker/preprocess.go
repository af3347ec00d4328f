package chunker

import "strings"

// DedupeScope selects how aggressively Deduplicate removes repeated
// lines.
type DedupeScope string

const (
	// DedupeDocument keeps only the first occurrence of each line across
	// the whole document.
	DedupeDocument DedupeScope = "document"
	// DedupeConsecutive removes only immediately repeated lines.
	DedupeConsecutive DedupeScope = "consecutive"
)

// Deduplicate removes repeated lines from content. Lines shorter than
// minLineLength always pass through unconditionally, since short lines
// often carry structural information (bullets, punctuation) rather than
// boilerplate. Line order among survivors is preserved.
func Deduplicate(content string, scope DedupeScope, minLineLength int) (string, DedupeStats) {
	lines := strings.Split(content, "\n")
	total := len(lines)

	var kept []string
	removed := 0

	switch scope {
	case DedupeConsecutive:
		var prev string
		hasPrev := false
		for _, line := range lines {
			if len(line) < minLineLength {
				kept = append(kept, line)
				hasPrev = false
				continue
			}
			if hasPrev && line == prev {
				removed++
				continue
			}
			kept = append(kept, line)
			prev = line
			hasPrev = true
		}
	default: // DedupeDocument
		seen := make(map[string]struct{}, total)
		for _, line := range lines {
			if len(line) < minLineLength {
				kept = append(kept, line)
				continue
			}
			if _, ok := seen[line]; ok {
				removed++
				continue
			}
			seen[line] = struct{}{}
			kept = append(kept, line)
		}
	}

	deduped := strings.Join(kept, "\n")
	reduction := 0.0
	if total > 0 {
		reduction = float64(removed) / float64(total) * 100
	}

	return deduped, DedupeStats{
		OriginalLines:    total,
		UniqueLines:      len(kept),
		RemovedLines:     removed,
		ReductionPercent: reduction,
	}
}

// NormalizeWhitespace strips trailing spaces from every line and
// collapses runs of blank lines down to maxBlankLineRun.
func NormalizeWhitespace(content string, maxBlankLineRun int) string {
	lines := strings.Split(content, "\n")
	var out []string
	blankRun := 0

	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			blankRun++
			if blankRun <= maxBlankLineRun {
				out = append(out, "")
			}
			continue
		}
		blankRun = 0
		out = append(out, trimmed)
	}

	return strings.Join(out, "\n")
}

// Preprocess runs the dedupe + whitespace-normalize pipeline in order,
// matching the original profile builder's preprocessing stage.
func Preprocess(content string, scope DedupeScope, minLineLength, maxBlankLineRun int) (string, PreprocessStats) {
	originalChars := len(content)

	deduped, dedupeStats := Deduplicate(content, scope, minLineLength)
	normalized := NormalizeWhitespace(deduped, maxBlankLineRun)

	finalChars := len(normalized)
	reduction := 0.0
	if originalChars > 0 {
		reduction = float64(originalChars-finalChars) / float64(originalChars) * 100
	}

	return normalized, PreprocessStats{
		Dedupe:           dedupeStats,
		OriginalChars:    originalChars,
		FinalChars:       finalChars,
		ReductionPercent: reduction,
	}
}
