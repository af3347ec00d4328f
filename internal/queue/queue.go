// Package queue defines the job-queue contract the pipeline orchestrator
// pulls work from and acknowledges results to. Production queue
// persistence (a relational database with SELECT ... FOR UPDATE SKIP
// LOCKED semantics) is an external collaborator; this package ships an
// in-memory implementation for unit tests and a modernc.org/sqlite-backed
// implementation as a single-node local-dev fallback, both satisfying
// the same interface.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrEmpty is returned by Dequeue when no job is ready to be claimed.
var ErrEmpty = errors.New("queue: no job ready")

// ErrNotFound is returned by Complete/Fail/Heartbeat when jobID does not
// name a job currently owned by this queue.
var ErrNotFound = errors.New("queue: job not found")

// Job is one company profiling unit of work, matching the company job
// data model: an identifier with an optional known URL, created by the
// ingress layer and destroyed (acked) on terminal outcome.
type Job struct {
	ID         string
	CNPJ       string
	TradeName  string
	LegalName  string
	City       string
	SeedURL    string
	Deadline   time.Duration // job-level deadline for the whole state machine, e.g. 300s
	EnqueuedAt time.Time
	Attempts   int
}

// HasSeedURL reports whether the job already carries a known URL,
// determining whether the orchestrator's DISCOVER state runs at all.
func (j Job) HasSeedURL() bool {
	return j.SeedURL != ""
}

// Result is what the orchestrator hands back to the queue on success:
// an opaque JSON profile plus the step timings it accumulated.
type Result struct {
	Profile map[string]any
	Timings []StepTiming
}

// StepTiming is one monotonic-clock measurement of a pipeline step,
// keyed by the job's URL (or job ID, when no URL was ever resolved).
type StepTiming struct {
	Step     string // discovery|scrape|chunk|llm|total
	Key      string
	Duration time.Duration
}

// Queue is the contract the pipeline orchestrator consumes. Dequeue
// claims the next ready job; Complete and Fail are terminal outcomes
// that release the claim; Heartbeat extends a long job's visibility
// timeout in implementations that enforce one (the in-memory and
// sqlite implementations here don't need it, but the interface carries
// it for parity with the production collaborator).
type Queue interface {
	Dequeue(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, jobID string, result Result) error
	Fail(ctx context.Context, jobID string, cause error) error
	Heartbeat(ctx context.Context, jobID string) error
}
