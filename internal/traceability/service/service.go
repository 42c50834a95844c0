// Package service implements the traceability graph engine: artifact CRUD,
// whitelisted directed links, orphan detection, and the one-hop highlight
// read used by the trace matrix UI.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"dhfcore/internal/audittrail"
	phasemodels "dhfcore/internal/phasegate/models"
	"dhfcore/internal/traceability/metrics"
	"dhfcore/internal/traceability/models"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/platform/sentinel"
	"dhfcore/pkg/requestcontext"
)

var tracer = otel.Tracer("dhfcore/traceability")

// kindToPhase is the inverse of the phase ownership map, used to attach new
// artifacts to the phase that delivers their kind.
var kindToPhase = func() map[id.ArtifactKind]id.PhaseID {
	out := make(map[id.ArtifactKind]id.PhaseID, len(phasemodels.ArtifactOwnership))
	for phaseID, kind := range phasemodels.ArtifactOwnership {
		out[kind] = phaseID
	}
	return out
}()

// ArtifactStore persists artifacts. Update enforces the optimistic version
// stamp and returns sentinel.ErrVersionMismatch when the caller's copy is
// stale.
type ArtifactStore interface {
	Create(ctx context.Context, artifact *models.Artifact) error
	FindByID(ctx context.Context, artifactID id.ArtifactID) (*models.Artifact, error)
	ListByProject(ctx context.Context, projectID id.ProjectID) ([]*models.Artifact, error)
	Update(ctx context.Context, artifact *models.Artifact) error
	CountByProjectAndKind(ctx context.Context, projectID id.ProjectID, kind id.ArtifactKind) (total int, terminal int, err error)
}

// LinkStore persists directed trace links.
type LinkStore interface {
	Create(ctx context.Context, link *models.TraceabilityLink) error
	FindByID(ctx context.Context, linkID id.LinkID) (*models.TraceabilityLink, error)
	Delete(ctx context.Context, linkID id.LinkID) error
	ListByProject(ctx context.Context, projectID id.ProjectID) ([]*models.TraceabilityLink, error)
	ListByArtifact(ctx context.Context, artifactID id.ArtifactID) ([]*models.TraceabilityLink, error)
	ExistsPair(ctx context.Context, sourceID, targetID id.ArtifactID) (bool, error)
}

// GraphCache caches rendered project graphs. Implementations must treat
// backend failures as misses; the cache is an accelerator, never a
// dependency.
type GraphCache interface {
	Get(ctx context.Context, projectID id.ProjectID) (*Graph, bool)
	Set(ctx context.Context, projectID id.ProjectID, graph *Graph)
	Invalidate(ctx context.Context, projectID id.ProjectID)
}

// AuditRecorder is the fail-closed audit write path.
type AuditRecorder interface {
	Record(ctx context.Context, rec audittrail.Record) (*audittrail.Entry, error)
}

// ProjectTx bounds one project's graph mutations in a single unit of work,
// so the audit entry and the store write commit or fail together. Wired to
// the same boundary the phase gate service uses; in postgres the stores
// join the transaction through the context.
type ProjectTx interface {
	RunInProjectTx(ctx context.Context, projectID id.ProjectID, fn func(ctx context.Context) error) error
}

// Service is the traceability graph engine.
type Service struct {
	artifacts ArtifactStore
	links     LinkStore
	recorder  AuditRecorder
	projectTx ProjectTx
	cache     GraphCache
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithGraphCache attaches a graph cache. Without one every graph read
// rebuilds from the store.
func WithGraphCache(cache GraphCache) Option {
	return func(s *Service) { s.cache = cache }
}

// New constructs the graph engine.
func New(artifacts ArtifactStore, links LinkStore, recorder AuditRecorder, projectTx ProjectTx, opts ...Option) *Service {
	s := &Service{
		artifacts: artifacts,
		links:     links,
		recorder:  recorder,
		projectTx: projectTx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateArtifactInput is the caller's input for CreateArtifact.
type CreateArtifactInput struct {
	ProjectID   id.ProjectID
	Kind        id.ArtifactKind
	Code        string
	Description string
	Actor       id.ActorID
}

// CreateArtifact records a new draft artifact under the phase owning its
// kind.
func (s *Service) CreateArtifact(ctx context.Context, in CreateArtifactInput) (*models.Artifact, error) {
	phaseID, ok := kindToPhase[in.Kind]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown artifact kind %q", in.Kind)
	}

	artifact, err := models.NewArtifact(in.ProjectID, phaseID, in.Kind, in.Code, in.Description, in.Actor, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.projectTx.RunInProjectTx(ctx, in.ProjectID, func(ctx context.Context) error {
		if _, err := s.recorder.Record(ctx, audittrail.Record{
			EntityType: audittrail.EntityArtifact,
			EntityID:   artifact.ID.String(),
			Action:     audittrail.ActionCreate,
			ActorID:    in.Actor,
			After:      artifact.Snap(),
		}); err != nil {
			return err
		}
		if err := s.artifacts.Create(ctx, artifact); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist artifact")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, in.ProjectID)
	if s.metrics != nil {
		s.metrics.IncArtifactsCreated()
	}
	return artifact, nil
}

// UpdateArtifactInput carries a partial update guarded by the version the
// caller last read.
type UpdateArtifactInput struct {
	ArtifactID  id.ArtifactID
	Version     int64
	Description *string
	Status      *id.ArtifactStatus
	Actor       id.ActorID
}

// UpdateArtifact applies an optimistic-concurrency update. A stale version
// returns a retryable conflict.
func (s *Service) UpdateArtifact(ctx context.Context, in UpdateArtifactInput) (*models.Artifact, error) {
	now := requestcontext.Now(ctx)
	return s.mutateArtifact(ctx, in.ArtifactID, audittrail.ActionUpdate, in.Actor, func(artifact *models.Artifact) error {
		if artifact.Version != in.Version {
			return dErrors.Newf(dErrors.CodeConflict,
				"artifact version %d is stale, current is %d", in.Version, artifact.Version)
		}
		if in.Description != nil {
			if err := artifact.SetDescription(*in.Description, now); err != nil {
				return err
			}
		}
		if in.Status != nil {
			if err := artifact.SetStatus(*in.Status, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ArchiveArtifact soft-archives an artifact. Links referencing it survive;
// the artifact just stops counting toward completion and stops accepting
// edits.
func (s *Service) ArchiveArtifact(ctx context.Context, artifactID id.ArtifactID, actor id.ActorID) (*models.Artifact, error) {
	now := requestcontext.Now(ctx)
	return s.mutateArtifact(ctx, artifactID, audittrail.ActionArchive, actor, func(artifact *models.Artifact) error {
		return artifact.Archive(now)
	})
}

// mutateArtifact applies fn inside the project unit of work, with the audit
// entry committed together with the store write.
func (s *Service) mutateArtifact(ctx context.Context, artifactID id.ArtifactID, action audittrail.Action, actor id.ActorID, fn func(*models.Artifact) error) (*models.Artifact, error) {
	probe, err := s.artifacts.FindByID(ctx, artifactID)
	if err != nil {
		return nil, s.translateStoreErr(err, "load artifact")
	}

	var mutated *models.Artifact
	err = s.projectTx.RunInProjectTx(ctx, probe.ProjectID, func(ctx context.Context) error {
		artifact, err := s.artifacts.FindByID(ctx, artifactID)
		if err != nil {
			return s.translateStoreErr(err, "load artifact")
		}
		before := artifact.Snap()
		if err := fn(artifact); err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, audittrail.Record{
			EntityType: audittrail.EntityArtifact,
			EntityID:   artifact.ID.String(),
			Action:     action,
			ActorID:    actor,
			Before:     before,
			After:      artifact.Snap(),
		}); err != nil {
			return err
		}
		if err := s.artifacts.Update(ctx, artifact); err != nil {
			return s.translateStoreErr(err, "persist artifact")
		}
		mutated = artifact
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, probe.ProjectID)
	return mutated, nil
}

// AddLinkInput identifies the edge to create. Kinds are declared by the
// caller and checked against the stored artifacts, catching clients whose
// view of an artifact is stale.
type AddLinkInput struct {
	SourceID   id.ArtifactID
	SourceKind id.ArtifactKind
	TargetID   id.ArtifactID
	TargetKind id.ArtifactKind
	Actor      id.ActorID
}

// AddLink creates a whitelisted directed link. Duplicate (source, target)
// pairs are rejected so the graph never carries parallel edges.
func (s *Service) AddLink(ctx context.Context, in AddLinkInput) (*models.TraceabilityLink, error) {
	ctx, span := tracer.Start(ctx, "traceability.AddLink")
	defer span.End()
	span.SetAttributes(
		attribute.String("source.kind", string(in.SourceKind)),
		attribute.String("target.kind", string(in.TargetKind)),
	)

	source, err := s.artifacts.FindByID(ctx, in.SourceID)
	if err != nil {
		return nil, s.translateStoreErr(err, "load source artifact")
	}
	target, err := s.artifacts.FindByID(ctx, in.TargetID)
	if err != nil {
		return nil, s.translateStoreErr(err, "load target artifact")
	}
	if source.Kind != in.SourceKind || target.Kind != in.TargetKind {
		return nil, dErrors.New(dErrors.CodeValidation, "declared artifact kinds do not match stored artifacts")
	}

	link, err := models.NewLink(source, target, in.Actor, requestcontext.Now(ctx))
	if err != nil {
		if s.metrics != nil && dErrors.HasCode(err, dErrors.CodeInvalidLinkType) {
			s.metrics.IncLinkRejections("invalid_pair")
		}
		return nil, err
	}

	// The duplicate check runs inside the project unit of work, so a racing
	// writer cannot slip between the check and the insert and leave an audit
	// entry for an edge that never landed.
	err = s.projectTx.RunInProjectTx(ctx, link.ProjectID, func(ctx context.Context) error {
		exists, err := s.links.ExistsPair(ctx, in.SourceID, in.TargetID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "check duplicate link")
		}
		if exists {
			if s.metrics != nil {
				s.metrics.IncLinkRejections("duplicate")
			}
			return dErrors.New(dErrors.CodeDuplicateLink, "an identical link already exists")
		}

		if _, err := s.recorder.Record(ctx, audittrail.Record{
			EntityType: audittrail.EntityTraceLink,
			EntityID:   link.ID.String(),
			Action:     audittrail.ActionAddLink,
			ActorID:    in.Actor,
			After:      link.Snap(),
		}); err != nil {
			return err
		}
		if err := s.links.Create(ctx, link); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeDuplicateLink, "an identical link already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist link")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, link.ProjectID)
	if s.metrics != nil {
		s.metrics.IncLinksCreated()
	}
	return link, nil
}

// RemoveLink deletes an edge. Always permitted for an authorized actor.
func (s *Service) RemoveLink(ctx context.Context, linkID id.LinkID, actor id.ActorID) error {
	probe, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "link not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load link")
	}

	err = s.projectTx.RunInProjectTx(ctx, probe.ProjectID, func(ctx context.Context) error {
		link, err := s.links.FindByID(ctx, linkID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "link not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "load link")
		}
		if _, err := s.recorder.Record(ctx, audittrail.Record{
			EntityType: audittrail.EntityTraceLink,
			EntityID:   link.ID.String(),
			Action:     audittrail.ActionRemoveLink,
			ActorID:    actor,
			Before:     link.Snap(),
		}); err != nil {
			return err
		}
		if err := s.links.Delete(ctx, linkID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "delete link")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, probe.ProjectID)
	if s.metrics != nil {
		s.metrics.IncLinksRemoved()
	}
	return nil
}

// GetArtifact loads one artifact.
func (s *Service) GetArtifact(ctx context.Context, artifactID id.ArtifactID) (*models.Artifact, error) {
	artifact, err := s.artifacts.FindByID(ctx, artifactID)
	if err != nil {
		return nil, s.translateStoreErr(err, "load artifact")
	}
	return artifact, nil
}

// CountByProjectAndKind feeds the phase completion rollup. Archived
// artifacts count in neither the numerator nor the denominator.
func (s *Service) CountByProjectAndKind(ctx context.Context, projectID id.ProjectID, kind id.ArtifactKind) (int, int, error) {
	return s.artifacts.CountByProjectAndKind(ctx, projectID, kind)
}

// Graph is the rendered trace matrix for one project.
type Graph struct {
	ProjectID id.ProjectID   `json:"project_id"`
	Artifacts []ArtifactNode `json:"artifacts"`
	Links     []LinkEdge     `json:"links"`
}

// ArtifactNode is an artifact with its advisory orphan flag.
type ArtifactNode struct {
	ID          id.ArtifactID     `json:"id"`
	Kind        id.ArtifactKind   `json:"kind"`
	Code        string            `json:"code"`
	Description string            `json:"description,omitempty"`
	Status      id.ArtifactStatus `json:"status"`
	Archived    bool              `json:"archived,omitempty"`
	Version     int64             `json:"version"`
	Orphaned    bool              `json:"orphaned"`
}

// LinkEdge is a rendered directed edge.
type LinkEdge struct {
	ID         id.LinkID       `json:"id"`
	SourceID   id.ArtifactID   `json:"source_id"`
	SourceKind id.ArtifactKind `json:"source_kind"`
	TargetID   id.ArtifactID   `json:"target_id"`
	TargetKind id.ArtifactKind `json:"target_kind"`
}

// ProjectGraph renders artifacts and links for a project, serving from the
// cache when possible. Lock-free and side-effect-free.
func (s *Service) ProjectGraph(ctx context.Context, projectID id.ProjectID) (*Graph, error) {
	ctx, span := tracer.Start(ctx, "traceability.ProjectGraph")
	defer span.End()

	if s.cache != nil {
		if graph, ok := s.cache.Get(ctx, projectID); ok {
			if s.metrics != nil {
				s.metrics.IncGraphCacheHits()
			}
			return graph, nil
		}
		if s.metrics != nil {
			s.metrics.IncGraphCacheMisses()
		}
	}

	artifacts, err := s.artifacts.ListByProject(ctx, projectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list artifacts")
	}
	links, err := s.links.ListByProject(ctx, projectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list links")
	}

	byArtifact := make(map[id.ArtifactID][]*models.TraceabilityLink)
	for _, l := range links {
		byArtifact[l.SourceID] = append(byArtifact[l.SourceID], l)
		byArtifact[l.TargetID] = append(byArtifact[l.TargetID], l)
	}

	graph := &Graph{
		ProjectID: projectID,
		Artifacts: make([]ArtifactNode, 0, len(artifacts)),
		Links:     make([]LinkEdge, 0, len(links)),
	}
	for _, a := range artifacts {
		graph.Artifacts = append(graph.Artifacts, ArtifactNode{
			ID:          a.ID,
			Kind:        a.Kind,
			Code:        a.Code,
			Description: a.Description,
			Status:      a.Status,
			Archived:    a.Archived,
			Version:     a.Version,
			Orphaned:    models.IsOrphaned(a, byArtifact[a.ID]),
		})
	}
	for _, l := range links {
		graph.Links = append(graph.Links, LinkEdge{
			ID:         l.ID,
			SourceID:   l.SourceID,
			SourceKind: l.SourceKind,
			TargetID:   l.TargetID,
			TargetKind: l.TargetKind,
		})
	}

	if s.cache != nil {
		s.cache.Set(ctx, projectID, graph)
	}
	return graph, nil
}

// HighlightSet returns the artifacts exactly one edge away from the given
// artifact, in either direction. Deliberately not a transitive closure:
// hovering a design input highlights its user needs and design outputs,
// nothing further downstream.
func (s *Service) HighlightSet(ctx context.Context, artifactID id.ArtifactID) ([]ArtifactNode, error) {
	if _, err := s.artifacts.FindByID(ctx, artifactID); err != nil {
		return nil, s.translateStoreErr(err, "load artifact")
	}
	links, err := s.links.ListByArtifact(ctx, artifactID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list links")
	}

	seen := make(map[id.ArtifactID]bool)
	neighbors := make([]ArtifactNode, 0, len(links))
	for _, l := range links {
		neighborID := l.TargetID
		if l.TargetID == artifactID {
			neighborID = l.SourceID
		}
		if seen[neighborID] {
			continue
		}
		seen[neighborID] = true

		neighbor, err := s.artifacts.FindByID(ctx, neighborID)
		if err != nil {
			return nil, s.translateStoreErr(err, "load neighbor artifact")
		}
		neighborLinks, err := s.links.ListByArtifact(ctx, neighborID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list neighbor links")
		}
		neighbors = append(neighbors, ArtifactNode{
			ID:          neighbor.ID,
			Kind:        neighbor.Kind,
			Code:        neighbor.Code,
			Description: neighbor.Description,
			Status:      neighbor.Status,
			Archived:    neighbor.Archived,
			Version:     neighbor.Version,
			Orphaned:    models.IsOrphaned(neighbor, neighborLinks),
		})
	}
	return neighbors, nil
}

func (s *Service) invalidate(ctx context.Context, projectID id.ProjectID) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, projectID)
	}
}

func (s *Service) translateStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "artifact not found")
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.Wrap(err, dErrors.CodeConflict, "artifact modified concurrently, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
