package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/queue/memoryqueue"
	runstoremem "goa.design/toolrun/internal/runstore/memory"
)

// TestRecoveryCancelsRunningAndRedispatchesPending mirrors spec scenario
// 5: a PENDING run is re-enqueued, a RUNNING run (simulating an orphan
// left behind by a dead worker) is cancelled with the restart
// diagnostic appended to its stdout.
func TestRecoveryCancelsRunningAndRedispatchesPending(t *testing.T) {
	runs := runstoremem.New()
	q := memoryqueue.New(8)

	pending := model.Run{ID: "run-pending", Status: model.RunPending, Command: "echo hi"}
	running := model.Run{ID: "run-running", Status: model.RunRunning, Command: "sleep 60"}
	require.NoError(t, runs.Create(context.Background(), &pending))
	require.NoError(t, runs.Create(context.Background(), &running))

	r := &Recoverer{Runs: runs, Queue: q}
	require.NoError(t, r.Run(context.Background()))

	gotRunning, err := runs.Get(context.Background(), "run-running")
	require.NoError(t, err)
	require.Equal(t, model.RunCancelled, gotRunning.Status)
	require.NotNil(t, gotRunning.FinishedAt)
	require.Contains(t, gotRunning.Stdout, "Run was cancelled due to server restart.")

	gotPending, err := runs.Get(context.Background(), "run-pending")
	require.NoError(t, err)
	require.Equal(t, model.RunPending, gotPending.Status)
	require.NotEmpty(t, gotPending.QueueJobHandle)

	delivery, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-pending", delivery.Job.ID)
}

func TestRecoveryLeavesTerminalRunsUntouched(t *testing.T) {
	runs := runstoremem.New()
	q := memoryqueue.New(8)

	completed := model.Run{ID: "run-done", Status: model.RunCompleted}
	require.NoError(t, runs.Create(context.Background(), &completed))

	r := &Recoverer{Runs: runs, Queue: q}
	require.NoError(t, r.Run(context.Background()))

	got, err := runs.Get(context.Background(), "run-done")
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, got.Status)
}

func TestRecoveryOnEmptyStoreIsNoop(t *testing.T) {
	r := &Recoverer{Runs: runstoremem.New(), Queue: memoryqueue.New(8)}
	require.NoError(t, r.Run(context.Background()))
}
