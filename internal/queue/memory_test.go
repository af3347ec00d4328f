package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueueDequeueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	idA := q.Enqueue(Job{TradeName: "Acme"})
	idB := q.Enqueue(Job{TradeName: "Beta"})

	first, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, idA, first.ID)
	require.Equal(t, 1, first.Attempts)

	second, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, idB, second.ID)
}

func TestMemoryQueueDequeueEmptyReturnsErrEmpty(t *testing.T) {
	q := NewMemoryQueue()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryQueueCompleteRecordsResult(t *testing.T) {
	q := NewMemoryQueue()
	id := q.Enqueue(Job{TradeName: "Acme"})
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)

	result := Result{Profile: map[string]any{"name": "Acme"}}
	require.NoError(t, q.Complete(context.Background(), id, result))

	got, ok := q.ResultFor(id)
	require.True(t, ok)
	require.Equal(t, "Acme", got.Profile["name"])
}

func TestMemoryQueueFailRecordsCause(t *testing.T) {
	q := NewMemoryQueue()
	id := q.Enqueue(Job{TradeName: "Acme"})
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)

	cause := errors.New("scrape_empty")
	require.NoError(t, q.Fail(context.Background(), id, cause))

	got, ok := q.FailureFor(id)
	require.True(t, ok)
	require.Equal(t, cause, got)
}

func TestMemoryQueueCompleteUnknownJobErrors(t *testing.T) {
	q := NewMemoryQueue()
	err := q.Complete(context.Background(), "missing", Result{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryQueueHeartbeatRequiresClaim(t *testing.T) {
	q := NewMemoryQueue()
	id := q.Enqueue(Job{TradeName: "Acme"})
	require.ErrorIs(t, q.Heartbeat(context.Background(), id), ErrNotFound)

	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Heartbeat(context.Background(), id))
}
