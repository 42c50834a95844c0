// Package memory provides in-memory artifact and link stores.
package memory

import (
	"context"
	"sync"

	"dhfcore/internal/traceability/models"
	id "dhfcore/pkg/domain"
	"dhfcore/pkg/platform/sentinel"
)

// ArtifactStore keeps artifacts keyed by ID with a per-project index.
type ArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[id.ArtifactID]*models.Artifact
	byProject map[id.ProjectID][]id.ArtifactID
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		artifacts: make(map[id.ArtifactID]*models.Artifact),
		byProject: make(map[id.ProjectID][]id.ArtifactID),
	}
}

func (s *ArtifactStore) Create(_ context.Context, artifact *models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.artifacts[artifact.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *artifact
	s.artifacts[artifact.ID] = &cp
	s.byProject[artifact.ProjectID] = append(s.byProject[artifact.ProjectID], artifact.ID)
	return nil
}

func (s *ArtifactStore) FindByID(_ context.Context, artifactID id.ArtifactID) (*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifact, ok := s.artifacts[artifactID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *artifact
	return &cp, nil
}

func (s *ArtifactStore) ListByProject(_ context.Context, projectID id.ProjectID) ([]*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byProject[projectID]
	out := make([]*models.Artifact, 0, len(ids))
	for _, artifactID := range ids {
		cp := *s.artifacts[artifactID]
		out = append(out, &cp)
	}
	return out, nil
}

// Update persists a mutated artifact under its optimistic version stamp.
func (s *ArtifactStore) Update(_ context.Context, artifact *models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.artifacts[artifact.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != artifact.Version {
		return sentinel.ErrVersionMismatch
	}
	cp := *artifact
	cp.Version++
	s.artifacts[artifact.ID] = &cp
	artifact.Version = cp.Version
	return nil
}

// CountByProjectAndKind reports total and terminal-status artifacts,
// excluding archived ones from both counts.
func (s *ArtifactStore) CountByProjectAndKind(_ context.Context, projectID id.ProjectID, kind id.ArtifactKind) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, terminal int
	for _, artifactID := range s.byProject[projectID] {
		a := s.artifacts[artifactID]
		if a.Kind != kind || a.Archived {
			continue
		}
		total++
		if a.Status.IsTerminal() {
			terminal++
		}
	}
	return total, terminal, nil
}

// LinkStore keeps directed links with per-project, per-artifact, and
// pair indexes.
type LinkStore struct {
	mu         sync.RWMutex
	links      map[id.LinkID]*models.TraceabilityLink
	byProject  map[id.ProjectID][]id.LinkID
	byArtifact map[id.ArtifactID][]id.LinkID
	pairs      map[pairKey]id.LinkID
}

type pairKey struct {
	source id.ArtifactID
	target id.ArtifactID
}

func NewLinkStore() *LinkStore {
	return &LinkStore{
		links:      make(map[id.LinkID]*models.TraceabilityLink),
		byProject:  make(map[id.ProjectID][]id.LinkID),
		byArtifact: make(map[id.ArtifactID][]id.LinkID),
		pairs:      make(map[pairKey]id.LinkID),
	}
}

func (s *LinkStore) Create(_ context.Context, link *models.TraceabilityLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{source: link.SourceID, target: link.TargetID}
	if _, exists := s.pairs[key]; exists {
		return sentinel.ErrConflict
	}
	cp := *link
	s.links[link.ID] = &cp
	s.byProject[link.ProjectID] = append(s.byProject[link.ProjectID], link.ID)
	s.byArtifact[link.SourceID] = append(s.byArtifact[link.SourceID], link.ID)
	s.byArtifact[link.TargetID] = append(s.byArtifact[link.TargetID], link.ID)
	s.pairs[key] = link.ID
	return nil
}

func (s *LinkStore) FindByID(_ context.Context, linkID id.LinkID) (*models.TraceabilityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[linkID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (s *LinkStore) Delete(_ context.Context, linkID id.LinkID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[linkID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.links, linkID)
	delete(s.pairs, pairKey{source: link.SourceID, target: link.TargetID})
	s.byProject[link.ProjectID] = removeID(s.byProject[link.ProjectID], linkID)
	s.byArtifact[link.SourceID] = removeID(s.byArtifact[link.SourceID], linkID)
	s.byArtifact[link.TargetID] = removeID(s.byArtifact[link.TargetID], linkID)
	return nil
}

func (s *LinkStore) ListByProject(_ context.Context, projectID id.ProjectID) ([]*models.TraceabilityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byProject[projectID]
	out := make([]*models.TraceabilityLink, 0, len(ids))
	for _, linkID := range ids {
		cp := *s.links[linkID]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *LinkStore) ListByArtifact(_ context.Context, artifactID id.ArtifactID) ([]*models.TraceabilityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byArtifact[artifactID]
	out := make([]*models.TraceabilityLink, 0, len(ids))
	for _, linkID := range ids {
		cp := *s.links[linkID]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *LinkStore) ExistsPair(_ context.Context, sourceID, targetID id.ArtifactID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.pairs[pairKey{source: sourceID, target: targetID}]
	return exists, nil
}

func removeID(ids []id.LinkID, target id.LinkID) []id.LinkID {
	for i, linkID := range ids {
		if linkID == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
