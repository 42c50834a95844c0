// Package service creates and reads design projects. Creation seeds the six
// phase instances so a project is never observable without its lifecycle.
package service

import (
	"context"
	"errors"
	"log/slog"

	"dhfcore/internal/audittrail"
	phasemodels "dhfcore/internal/phasegate/models"
	"dhfcore/internal/project/models"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/platform/sentinel"
	"dhfcore/pkg/requestcontext"
)

// Store persists projects.
type Store interface {
	Create(ctx context.Context, project *models.Project) error
	FindByID(ctx context.Context, projectID id.ProjectID) (*models.Project, error)
	List(ctx context.Context) ([]*models.Project, error)
}

// PhaseSeeder creates the six not_started phase instances for a new
// project. Implemented by the phase gate service.
type PhaseSeeder interface {
	SeedInstances(ctx context.Context, projectID id.ProjectID, actor id.ActorID) ([]*phasemodels.PhaseInstance, error)
}

// AuditRecorder is the fail-closed audit write path.
type AuditRecorder interface {
	Record(ctx context.Context, rec audittrail.Record) (*audittrail.Entry, error)
}

// ProjectTx bounds the project row insert and its audit entry in one unit
// of work. Wired to the same boundary the phase gate service uses.
type ProjectTx interface {
	RunInProjectTx(ctx context.Context, projectID id.ProjectID, fn func(ctx context.Context) error) error
}

// Service manages project lifecycle.
type Service struct {
	store     Store
	seeder    PhaseSeeder
	recorder  AuditRecorder
	projectTx ProjectTx
	logger    *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New constructs the project service.
func New(store Store, seeder PhaseSeeder, recorder AuditRecorder, projectTx ProjectTx, opts ...Option) *Service {
	s := &Service{store: store, seeder: seeder, recorder: recorder, projectTx: projectTx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records a project and seeds its phase instances.
func (s *Service) Create(ctx context.Context, name, description string, actor id.ActorID) (*models.Project, error) {
	project, err := models.NewProject(name, description, actor, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.projectTx.RunInProjectTx(ctx, project.ID, func(ctx context.Context) error {
		if _, err := s.recorder.Record(ctx, audittrail.Record{
			EntityType: audittrail.EntityProject,
			EntityID:   project.ID.String(),
			Action:     audittrail.ActionCreate,
			ActorID:    actor,
			After:      project.Snap(),
		}); err != nil {
			return err
		}
		if err := s.store.Create(ctx, project); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist project")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// The seeder opens its own unit of work on the freshly committed row.
	if _, err := s.seeder.SeedInstances(ctx, project.ID, actor); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "project created",
			"project_id", project.ID,
			"name", project.Name,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return project, nil
}

// Get loads one project.
func (s *Service) Get(ctx context.Context, projectID id.ProjectID) (*models.Project, error) {
	project, err := s.store.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "project not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load project")
	}
	return project, nil
}

// List returns all projects, newest first.
func (s *Service) List(ctx context.Context) ([]*models.Project, error) {
	projects, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list projects")
	}
	return projects, nil
}
