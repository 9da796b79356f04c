// Package memory provides an in-memory implementation of filestore.Store.
package memory

import (
	"context"
	"sync"

	"goa.design/toolrun/internal/filestore"
	"goa.design/toolrun/internal/model"
)

// Store is an in-memory implementation of filestore.Store, safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	files map[string]model.File
}

var _ filestore.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{files: make(map[string]model.File)}
}

func (s *Store) Create(_ context.Context, f *model.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = *f
	return nil
}

func (s *Store) Get(_ context.Context, id string) (model.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return model.File{}, filestore.ErrNotFound
	}
	return f, nil
}

func (s *Store) ListByRun(_ context.Context, runID string) ([]model.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.File
	for _, f := range s.files {
		if f.RunID != nil && *f.RunID == runID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) DeleteUnsavedByRun(_ context.Context, runID string) ([]model.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []model.File
	for id, f := range s.files {
		if f.RunID != nil && *f.RunID == runID && !f.Saved {
			removed = append(removed, f)
			delete(s.files, id)
		}
	}
	return removed, nil
}

func (s *Store) DetachSavedByRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.files {
		if f.RunID != nil && *f.RunID == runID && f.Saved {
			f.RunID = nil
			s.files[id] = f
		}
	}
	return nil
}
