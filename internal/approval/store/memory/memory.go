// Package memory provides an in-memory gate review store.
package memory

import (
	"context"
	"sync"

	"dhfcore/internal/approval/models"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/platform/sentinel"
)

// Store keeps immutable gate reviews keyed by ID with a per-instance index.
type Store struct {
	mu         sync.RWMutex
	reviews    map[id.ReviewID]*models.GateReview
	byInstance map[id.InstanceID][]id.ReviewID
}

func New() *Store {
	return &Store{
		reviews:    make(map[id.ReviewID]*models.GateReview),
		byInstance: make(map[id.InstanceID][]id.ReviewID),
	}
}

func (s *Store) Create(_ context.Context, review *models.GateReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reviews[review.ID]; exists {
		return sentinel.ErrConflict
	}
	// One approval per instance, matching the partial unique index in the
	// postgres schema.
	if review.Decision == id.DecisionApproved {
		for _, reviewID := range s.byInstance[review.InstanceID] {
			if s.reviews[reviewID].Decision == id.DecisionApproved {
				return sentinel.ErrConflict
			}
		}
	}
	cp := *review
	s.reviews[review.ID] = &cp
	s.byInstance[review.InstanceID] = append(s.byInstance[review.InstanceID], review.ID)
	return nil
}

// ListByInstance returns reviews in creation order.
func (s *Store) ListByInstance(_ context.Context, instanceID id.InstanceID) ([]*models.GateReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byInstance[instanceID]
	out := make([]*models.GateReview, 0, len(ids))
	for _, reviewID := range ids {
		cp := *s.reviews[reviewID]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) HasApproved(_ context.Context, instanceID id.InstanceID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, reviewID := range s.byInstance[instanceID] {
		if s.reviews[reviewID].Decision == id.DecisionApproved {
			return true, nil
		}
	}
	return false, nil
}
