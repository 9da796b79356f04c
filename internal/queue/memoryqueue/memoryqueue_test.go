package memoryqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/queue"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	handle, err := q.Enqueue(ctx, model.Job{Kind: model.JobRun, ID: "run-1"})
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	delivery, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", delivery.Job.ID)
	require.NoError(t, delivery.Ack(ctx))
}

func TestHandlesAreUniquePerEnqueue(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	h1, err := q.Enqueue(ctx, model.Job{Kind: model.JobRun, ID: "a"})
	require.NoError(t, err)
	h2, err := q.Enqueue(ctx, model.Job{Kind: model.JobRun, ID: "b"})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestDequeueBlocksUntilContextCancelled(t *testing.T) {
	q := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}

func TestEnqueueAfterCloseReturnsErrClosed(t *testing.T) {
	q := New(4)
	require.NoError(t, q.Close())
	_, err := q.Enqueue(context.Background(), model.Job{Kind: model.JobRun, ID: "x"})
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestDequeueAfterCloseReturnsErrClosed(t *testing.T) {
	q := New(4)
	require.NoError(t, q.Close())
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestFIFOOrdering(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, model.Job{Kind: model.JobRun, ID: id})
		require.NoError(t, err)
	}
	for _, want := range []string{"a", "b", "c"} {
		d, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, d.Job.ID)
	}
}
