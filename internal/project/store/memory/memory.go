// Package memory provides an in-memory project store.
package memory

import (
	"context"
	"sort"
	"sync"

	"dhfcore/internal/project/models"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.RWMutex
	projects map[id.ProjectID]*models.Project
}

func New() *Store {
	return &Store{projects: make(map[id.ProjectID]*models.Project)}
}

func (s *Store) Create(_ context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[project.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *project
	s.projects[project.ID] = &cp
	return nil
}

func (s *Store) FindByID(_ context.Context, projectID id.ProjectID) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[projectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *project
	return &cp, nil
}

func (s *Store) List(_ context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Project, 0, len(s.projects))
	for _, project := range s.projects {
		cp := *project
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
