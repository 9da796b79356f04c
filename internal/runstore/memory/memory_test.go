package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/runstore"
)

func TestCreateGetRoundTrip(t *testing.T) {
	s := New()
	run := model.Run{ID: "run-1", Status: model.RunPending, Params: map[string]any{"msg": "hi"}}
	require.NoError(t, s.Create(context.Background(), &run))
	got, err := s.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunPending, got.Status)
}

func TestGetReturnsDefensiveCopy(t *testing.T) {
	s := New()
	run := model.Run{ID: "run-1", Tags: []string{"a"}, Params: map[string]any{"x": 1}}
	require.NoError(t, s.Create(context.Background(), &run))
	got, err := s.Get(context.Background(), "run-1")
	require.NoError(t, err)
	got.Tags[0] = "mutated"
	got.Params["x"] = 2

	reGot, err := s.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "a", reGot.Tags[0])
	require.Equal(t, 1, reGot.Params["x"])
}

func TestAppendStdoutAccumulates(t *testing.T) {
	s := New()
	run := model.Run{ID: "run-1"}
	require.NoError(t, s.Create(context.Background(), &run))
	require.NoError(t, s.AppendStdout(context.Background(), "run-1", "line one"))
	require.NoError(t, s.AppendStdout(context.Background(), "run-1", "line two"))
	got, err := s.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "line one\nline two", got.Stdout)
}

func TestListByStatus(t *testing.T) {
	s := New()
	for _, r := range []model.Run{
		{ID: "p1", Status: model.RunPending},
		{ID: "p2", Status: model.RunPending},
		{ID: "r1", Status: model.RunRunning},
	} {
		run := r
		require.NoError(t, s.Create(context.Background(), &run))
	}
	pending, err := s.ListByStatus(context.Background(), model.RunPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestListByOwnerFiltersByOwnerAndStatus(t *testing.T) {
	s := New()
	for _, r := range []model.Run{
		{ID: "a", OwnerID: "u1", Status: model.RunPending},
		{ID: "b", OwnerID: "u1", Status: model.RunRunning},
		{ID: "c", OwnerID: "u1", Status: model.RunCompleted},
		{ID: "d", OwnerID: "u2", Status: model.RunPending},
	} {
		run := r
		require.NoError(t, s.Create(context.Background(), &run))
	}
	got, err := s.ListByOwner(context.Background(), "u1", []model.RunStatus{model.RunPending, model.RunRunning})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestCancelTransitionsPendingToCancelled(t *testing.T) {
	s := New()
	run := model.Run{ID: "run-1", Status: model.RunPending}
	require.NoError(t, s.Create(context.Background(), &run))
	require.NoError(t, runstore.Cancel(context.Background(), s, "run-1"))
	got, err := s.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunCancelled, got.Status)
}

func TestCancelIsIdempotentOnTerminalRun(t *testing.T) {
	s := New()
	run := model.Run{ID: "run-1", Status: model.RunCompleted}
	require.NoError(t, s.Create(context.Background(), &run))
	err := runstore.Cancel(context.Background(), s, "run-1")
	require.ErrorIs(t, err, runstore.ErrAlreadyTerminal)
	got, err := s.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, got.Status)
}

func TestMassCancelCancelsOnlyPendingAndRunningForOwner(t *testing.T) {
	s := New()
	for _, r := range []model.Run{
		{ID: "a", OwnerID: "u1", Status: model.RunPending},
		{ID: "b", OwnerID: "u1", Status: model.RunRunning},
		{ID: "c", OwnerID: "u1", Status: model.RunCompleted},
		{ID: "d", OwnerID: "u2", Status: model.RunPending},
	} {
		run := r
		require.NoError(t, s.Create(context.Background(), &run))
	}
	require.NoError(t, runstore.MassCancel(context.Background(), s, "u1"))
	a, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	b, err := s.Get(context.Background(), "b")
	require.NoError(t, err)
	c, err := s.Get(context.Background(), "c")
	require.NoError(t, err)
	d, err := s.Get(context.Background(), "d")
	require.NoError(t, err)
	require.Equal(t, model.RunCancelled, a.Status)
	require.Equal(t, model.RunCancelled, b.Status)
	require.Equal(t, model.RunCompleted, c.Status)
	require.Equal(t, model.RunPending, d.Status)
}

func TestGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, runstore.ErrNotFound)
}
