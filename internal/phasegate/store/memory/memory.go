// Package memory provides in-memory phase gate stores for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"

	"dhfcore/internal/phasegate/models"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/platform/sentinel"
)

// PhaseStore serves the static phase topology.
type PhaseStore struct {
	phases []models.Phase
	byID   map[id.PhaseID]models.Phase
}

// NewPhaseStore seeds the fixed six-phase lifecycle.
func NewPhaseStore() *PhaseStore {
	phases := models.SeedPhases()
	byID := make(map[id.PhaseID]models.Phase, len(phases))
	for _, p := range phases {
		byID[p.ID] = p
	}
	return &PhaseStore{phases: phases, byID: byID}
}

func (s *PhaseStore) List(_ context.Context) ([]models.Phase, error) {
	out := make([]models.Phase, len(s.phases))
	copy(out, s.phases)
	return out, nil
}

func (s *PhaseStore) Get(_ context.Context, phaseID id.PhaseID) (*models.Phase, error) {
	p, ok := s.byID[phaseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := p
	return &out, nil
}

// InstanceStore keeps phase instances keyed by ID with a per-project index.
type InstanceStore struct {
	mu        sync.RWMutex
	instances map[id.InstanceID]*models.PhaseInstance
	byProject map[id.ProjectID][]id.InstanceID
}

func NewInstanceStore() *InstanceStore {
	return &InstanceStore{
		instances: make(map[id.InstanceID]*models.PhaseInstance),
		byProject: make(map[id.ProjectID][]id.InstanceID),
	}
}

func (s *InstanceStore) CreateAll(_ context.Context, instances []*models.PhaseInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range instances {
		if _, exists := s.instances[inst.ID]; exists {
			return sentinel.ErrConflict
		}
	}
	for _, inst := range instances {
		cp := *inst
		s.instances[inst.ID] = &cp
		s.byProject[inst.ProjectID] = append(s.byProject[inst.ProjectID], inst.ID)
	}
	return nil
}

func (s *InstanceStore) FindByID(_ context.Context, instanceID id.InstanceID) (*models.PhaseInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *InstanceStore) ListByProject(_ context.Context, projectID id.ProjectID) ([]*models.PhaseInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byProject[projectID]
	out := make([]*models.PhaseInstance, 0, len(ids))
	for _, instID := range ids {
		cp := *s.instances[instID]
		out = append(out, &cp)
	}
	return out, nil
}

// Update persists a mutated instance. The caller's copy must carry the
// version it was loaded with; a mismatch means a concurrent writer won.
func (s *InstanceStore) Update(_ context.Context, inst *models.PhaseInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != inst.Version {
		return sentinel.ErrVersionMismatch
	}
	cp := *inst
	cp.Version++
	s.instances[inst.ID] = &cp
	inst.Version = cp.Version
	return nil
}
