// Package memory provides an in-memory implementation of catalog.Store.
// Suitable for development, testing, and single-node deployments where
// persistence across restarts is not required.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/toolrun/internal/catalog"
	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/toolerr"
)

// Store is an in-memory implementation of catalog.Store, safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	tools map[string]model.Tool
}

var _ catalog.Store = (*Store)(nil)

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{tools: make(map[string]model.Tool)}
}

func (s *Store) Create(_ context.Context, tool *model.Tool) error {
	if err := catalog.Validate(tool); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tools {
		if existing.NameLower == tool.NameLower {
			return toolerr.Errorf(toolerr.InvalidParam, "tool name %q already exists", tool.Name)
		}
	}
	if tool.ID == "" {
		tool.ID = uuid.NewString()
	}
	now := time.Now()
	tool.CreatedAt, tool.UpdatedAt = now, now
	if tool.Status == "" {
		tool.Status = model.ToolUninstalled
	}
	s.tools[tool.ID] = *tool
	return nil
}

func (s *Store) Update(_ context.Context, tool *model.Tool) error {
	if err := catalog.Validate(tool); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tools[tool.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	for id, other := range s.tools {
		if id != tool.ID && other.NameLower == tool.NameLower {
			return toolerr.Errorf(toolerr.InvalidParam, "tool name %q already exists", tool.Name)
		}
	}
	tool.CreatedAt = existing.CreatedAt
	tool.Status = existing.Status
	tool.PinnedManifest = existing.PinnedManifest
	tool.RunCount = existing.RunCount
	tool.UpdatedAt = time.Now()
	s.tools[tool.ID] = *tool
	return nil
}

func (s *Store) Get(_ context.Context, id string) (model.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[id]
	if !ok {
		return model.Tool{}, catalog.ErrNotFound
	}
	return t, nil
}

func (s *Store) GetByName(_ context.Context, name string) (model.Tool, error) {
	lower := strings.ToLower(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tools {
		if t.NameLower == lower {
			return t, nil
		}
	}
	return model.Tool{}, catalog.ErrNotFound
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[id]
	if !ok {
		return catalog.ErrNotFound
	}
	if t.Status == model.ToolInstalling || t.Status == model.ToolUninstalling {
		return toolerr.Errorf(toolerr.Forbidden, "tool %q has a sandbox transition in flight", t.Name)
	}
	delete(s.tools, id)
	return nil
}

func (s *Store) List(_ context.Context, tags []string) ([]model.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		if matchesTags(t.Tags, tags) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) Search(_ context.Context, query string) ([]model.Tool, error) {
	lower := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Tool, 0)
	for _, t := range s.tools {
		if matchesQuery(t, lower) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) SetSandboxStatus(_ context.Context, id string, status model.ToolStatus, installationLog string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[id]
	if !ok {
		return catalog.ErrNotFound
	}
	t.Status = status
	if installationLog != "" {
		t.InstallationLog = installationLog
	}
	t.UpdatedAt = time.Now()
	s.tools[id] = t
	return nil
}

func (s *Store) SetPinnedManifest(_ context.Context, id string, manifest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[id]
	if !ok {
		return catalog.ErrNotFound
	}
	t.PinnedManifest = manifest
	t.UpdatedAt = time.Now()
	s.tools[id] = t
	return nil
}

func (s *Store) IncrementRunCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[id]
	if !ok {
		return catalog.ErrNotFound
	}
	t.RunCount++
	s.tools[id] = t
	return nil
}

func matchesTags(toolTags, filterTags []string) bool {
	if len(filterTags) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(toolTags))
	for _, tag := range toolTags {
		set[tag] = struct{}{}
	}
	for _, tag := range filterTags {
		if _, ok := set[tag]; !ok {
			return false
		}
	}
	return true
}

func matchesQuery(t model.Tool, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(t.Name), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(t.Description), lowerQuery) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), lowerQuery) {
			return true
		}
	}
	return false
}
