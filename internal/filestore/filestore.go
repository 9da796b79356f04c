// Package filestore defines the persistence interface for File metadata
// (the catalog of blobs owned by users and runs). Grounded on the same
// Store-interface shape as catalog and runstore.
package filestore

import (
	"context"
	"errors"

	"goa.design/toolrun/internal/model"
)

// ErrNotFound is returned when a file is not found in the store.
var ErrNotFound = errors.New("file not found")

// Store is the persistence layer for File metadata.
type Store interface {
	// Create inserts a new File record.
	Create(ctx context.Context, file *model.File) error
	// Get retrieves a File by ID.
	Get(ctx context.Context, id string) (model.File, error)
	// ListByRun returns every File attached to the given run.
	ListByRun(ctx context.Context, runID string) ([]model.File, error)
	// DeleteUnsavedByRun deletes every File attached to runID with
	// saved=false and returns their records (invariant 3: deleting a Run
	// removes exactly its unsaved files).
	DeleteUnsavedByRun(ctx context.Context, runID string) ([]model.File, error)
	// DetachSavedByRun clears run_id on every File attached to runID with
	// saved=true, leaving them owned but detached (invariant 4).
	DetachSavedByRun(ctx context.Context, runID string) error
}
