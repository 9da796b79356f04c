package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/toolrun/internal/filestore"
	"goa.design/toolrun/internal/model"
)

func TestCreateGetRoundTrip(t *testing.T) {
	s := New()
	f := model.File{ID: "file-1", Name: "out.txt", OwnerID: "u1"}
	require.NoError(t, s.Create(context.Background(), &f))
	got, err := s.Get(context.Background(), "file-1")
	require.NoError(t, err)
	require.Equal(t, "out.txt", got.Name)
}

func TestGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, filestore.ErrNotFound)
}

func TestListByRun(t *testing.T) {
	s := New()
	runID := "run-1"
	other := "run-2"
	for _, f := range []model.File{
		{ID: "a", RunID: &runID},
		{ID: "b", RunID: &runID},
		{ID: "c", RunID: &other},
		{ID: "d"},
	} {
		file := f
		require.NoError(t, s.Create(context.Background(), &file))
	}
	got, err := s.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

// TestDeleteUnsavedByRunRemovesOnlyUnsaved exercises invariant 3/4 of the
// data model: deleting a run's unsaved files leaves its saved files
// intact and eligible for detachment.
func TestDeleteUnsavedByRunRemovesOnlyUnsaved(t *testing.T) {
	s := New()
	runID := "run-1"
	unsaved := model.File{ID: "unsaved", RunID: &runID, Saved: false}
	saved := model.File{ID: "saved", RunID: &runID, Saved: true}
	require.NoError(t, s.Create(context.Background(), &unsaved))
	require.NoError(t, s.Create(context.Background(), &saved))

	removed, err := s.DeleteUnsavedByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, "unsaved", removed[0].ID)

	_, err = s.Get(context.Background(), "unsaved")
	require.ErrorIs(t, err, filestore.ErrNotFound)

	_, err = s.Get(context.Background(), "saved")
	require.NoError(t, err)
}

func TestDetachSavedByRunClearsRunIDOnlyForSaved(t *testing.T) {
	s := New()
	runID := "run-1"
	saved := model.File{ID: "saved", RunID: &runID, Saved: true}
	unsaved := model.File{ID: "unsaved", RunID: &runID, Saved: false}
	require.NoError(t, s.Create(context.Background(), &saved))
	require.NoError(t, s.Create(context.Background(), &unsaved))

	require.NoError(t, s.DetachSavedByRun(context.Background(), runID))

	gotSaved, err := s.Get(context.Background(), "saved")
	require.NoError(t, err)
	require.Nil(t, gotSaved.RunID)

	gotUnsaved, err := s.Get(context.Background(), "unsaved")
	require.NoError(t, err)
	require.NotNil(t, gotUnsaved.RunID)
	require.Equal(t, runID, *gotUnsaved.RunID)
}
