package chunker

// Chunk is an ordered piece of scraped content sized to fit a provider's
// effective token budget. Immutable once produced.
type Chunk struct {
	Index           int
	Content         string
	Tokens          int
	SourcePageCount int
}

// DedupeStats reports how much a dedupe pass removed, so callers can log
// why content shrank instead of just that it did.
type DedupeStats struct {
	OriginalLines    int
	UniqueLines      int
	RemovedLines     int
	ReductionPercent float64
}

// PreprocessStats reports the combined effect of dedupe + whitespace
// normalization.
type PreprocessStats struct {
	Dedupe          DedupeStats
	OriginalChars   int
	FinalChars      int
	ReductionPercent float64
}
