package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a process-local FIFO queue implementation used by
// worker unit tests, so pipeline tests run deterministically without
// touching a database.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []*Job
	claimed map[string]*Job
	done    map[string]Result
	failed  map[string]error
}

// NewMemoryQueue builds an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		claimed: make(map[string]*Job),
		done:    make(map[string]Result),
		failed:  make(map[string]error),
	}
}

// Enqueue adds a job, assigning it an ID if it doesn't already have one.
func (q *MemoryQueue) Enqueue(j Job) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	job := j
	q.pending = append(q.pending, &job)
	return job.ID
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, ErrEmpty
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.Attempts++
	claimed := *job
	q.claimed[job.ID] = &claimed
	return &claimed, nil
}

func (q *MemoryQueue) Complete(_ context.Context, jobID string, result Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.claimed[jobID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	delete(q.claimed, jobID)
	q.done[jobID] = result
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, jobID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.claimed[jobID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	delete(q.claimed, jobID)
	q.failed[jobID] = cause
	return nil
}

func (q *MemoryQueue) Heartbeat(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.claimed[jobID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}

// ResultFor returns the recorded result of a completed job, for test
// assertions; failed jobs have no entry.
func (q *MemoryQueue) ResultFor(jobID string) (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.done[jobID]
	return r, ok
}

// FailureFor returns the recorded failure cause of a failed job, for
// test assertions.
func (q *MemoryQueue) FailureFor(jobID string) (error, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	err, ok := q.failed[jobID]
	return err, ok
}

// PendingLen reports how many jobs are waiting to be dequeued.
func (q *MemoryQueue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
