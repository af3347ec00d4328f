package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	dir := t.TempDir()
	q, err := OpenSQLiteQueue(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestSQLiteQueueEnqueueDequeueRoundTrip(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Job{TradeName: "Acme", City: "Sao Paulo"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	require.Equal(t, "Acme", job.TradeName)
	require.Equal(t, 1, job.Attempts)
}

func TestSQLiteQueueDequeueEmptyReturnsErrEmpty(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrEmpty)
}

func TestSQLiteQueueClaimedJobNotRedequeued(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, Job{TradeName: "Acme"})
	require.NoError(t, err)

	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestSQLiteQueueCompleteAndFail(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	idA, err := q.Enqueue(ctx, Job{TradeName: "Acme"})
	require.NoError(t, err)
	idB, err := q.Enqueue(ctx, Job{TradeName: "Beta"})
	require.NoError(t, err)

	jobA, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, idA, jobA.ID)
	require.NoError(t, q.Complete(ctx, idA, Result{Profile: map[string]any{"name": "Acme"}}))

	jobB, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, idB, jobB.ID)
	require.NoError(t, q.Fail(ctx, idB, errors.New("scrape_empty")))

	require.ErrorIs(t, q.Heartbeat(ctx, idA), ErrNotFound)
}
