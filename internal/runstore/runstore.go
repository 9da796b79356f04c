// Package runstore defines the persistence interface for Run records.
// Grounded on runtime/agent/run.Store and features/run/mongo.Store from the
// teacher: a narrow Upsert/Load surface plus the query shapes the
// Supervisor and Recovery need (find by status, for re-dispatch and
// cancellation sweeps).
package runstore

import (
	"context"
	"errors"

	"goa.design/toolrun/internal/model"
)

// ErrNotFound is returned when a run is not found in the store.
var ErrNotFound = errors.New("run not found")

// Store is the persistence layer for Run records.
type Store interface {
	// Create inserts a new run, which must start in PENDING.
	Create(ctx context.Context, run *model.Run) error
	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (model.Run, error)
	// Update replaces the full run document. Implementations are free to
	// use an upsert so tests can seed arbitrary states (e.g. recovery
	// scenario 5 of the spec simulates a RUNNING row via direct write).
	Update(ctx context.Context, run *model.Run) error
	// AppendStdout appends a line to the run's stdout buffer as a single
	// atomic update, without requiring a full read-modify-write of the
	// document (spec §4.D.2 step 8: "single-row update per line is
	// acceptable").
	AppendStdout(ctx context.Context, id string, line string) error
	// ListByStatus returns every run with the given status, used by
	// Recovery to find RUNNING/PENDING rows at startup.
	ListByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error)
	// ListByOwner returns every run owned by ownerID in one of the given
	// statuses (used for mass-cancellation, §5).
	ListByOwner(ctx context.Context, ownerID string, statuses []model.RunStatus) ([]model.Run, error)
}

// ErrAlreadyTerminal is returned by Cancel when the run has already
// reached a terminal state; cancellation of a terminal run is a no-op
// from the caller's point of view, per spec §5 "Cancellation is
// idempotent".
var ErrAlreadyTerminal = errors.New("run is already in a terminal state")

// Cancel sets run's status to CANCELLED if it is not already terminal.
// The owning Supervisor's cancellation poll (internal/supervisor)
// observes the transition and signals the child process group; Cancel
// itself never touches the process. Safe to call concurrently with the
// Supervisor's own status writes since Update always replaces the
// latest snapshot from Get.
func Cancel(ctx context.Context, store Store, runID string) error {
	run, err := store.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	run.Status = model.RunCancelled
	return store.Update(ctx, &run)
}

// MassCancel cancels every PENDING or RUNNING run owned by ownerID,
// per spec §5 "Mass-cancellation cancels all of the caller's PENDING or
// RUNNING runs atomically" (atomic per-run; the set of affected runs is
// a point-in-time snapshot, not a single multi-document transaction).
func MassCancel(ctx context.Context, store Store, ownerID string) error {
	runs, err := store.ListByOwner(ctx, ownerID, []model.RunStatus{model.RunPending, model.RunRunning})
	if err != nil {
		return err
	}
	for i := range runs {
		runs[i].Status = model.RunCancelled
		if err := store.Update(ctx, &runs[i]); err != nil {
			return err
		}
	}
	return nil
}
