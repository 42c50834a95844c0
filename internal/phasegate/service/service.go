// Package service implements the phase gate state machine: the only code
// path allowed to change a phase instance's status. All writes to one
// project's phase set run under the per-project transaction boundary, and
// every mutation appends exactly one audit entry in the same unit of work.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"dhfcore/internal/audittrail"
	"dhfcore/internal/phasegate/metrics"
	"dhfcore/internal/phasegate/models"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/platform/sentinel"
	"dhfcore/pkg/requestcontext"
)

var tracer = otel.Tracer("dhfcore/phasegate")

// PhaseStore serves the static six-phase topology.
type PhaseStore interface {
	List(ctx context.Context) ([]models.Phase, error)
	Get(ctx context.Context, phaseID id.PhaseID) (*models.Phase, error)
}

// InstanceStore persists phase instances. Update enforces the optimistic
// version stamp and returns sentinel.ErrVersionMismatch on conflict.
type InstanceStore interface {
	CreateAll(ctx context.Context, instances []*models.PhaseInstance) error
	FindByID(ctx context.Context, instanceID id.InstanceID) (*models.PhaseInstance, error)
	ListByProject(ctx context.Context, projectID id.ProjectID) ([]*models.PhaseInstance, error)
	Update(ctx context.Context, instance *models.PhaseInstance) error
}

// ArtifactCounter reports deliverable counts for the completion rollup.
// Implemented by the traceability store; the state machine never depends on
// the graph engine itself.
type ArtifactCounter interface {
	CountByProjectAndKind(ctx context.Context, projectID id.ProjectID, kind id.ArtifactKind) (total int, terminal int, err error)
}

// AuditRecorder is the fail-closed audit write path.
type AuditRecorder interface {
	Record(ctx context.Context, rec audittrail.Record) (*audittrail.Entry, error)
}

// Service orchestrates phase sequencing and status transitions.
type Service struct {
	phases    PhaseStore
	instances InstanceStore
	counter   ArtifactCounter
	recorder  AuditRecorder
	projectTx ProjectTx
	logger    *slog.Logger
	metrics   *metrics.Metrics
	// strictSinglePhase enforces one non-terminal phase at a time.
	strictSinglePhase bool
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRelaxedSequencing disables the strict single-active-phase policy.
// Sequencing against predecessors still applies.
func WithRelaxedSequencing() Option {
	return func(s *Service) { s.strictSinglePhase = false }
}

// New constructs the state machine service.
func New(phases PhaseStore, instances InstanceStore, counter ArtifactCounter, recorder AuditRecorder, projectTx ProjectTx, opts ...Option) *Service {
	s := &Service{
		phases:            phases,
		instances:         instances,
		counter:           counter,
		recorder:          recorder,
		projectTx:         projectTx,
		strictSinglePhase: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedInstances creates the six not_started instances for a new project.
// Called by the project service inside project creation; one CREATE audit
// entry per instance.
func (s *Service) SeedInstances(ctx context.Context, projectID id.ProjectID, actor id.ActorID) ([]*models.PhaseInstance, error) {
	phases, err := s.phases.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load phases")
	}

	now := requestcontext.Now(ctx)
	instances := make([]*models.PhaseInstance, 0, len(phases))
	for _, phase := range phases {
		instances = append(instances, models.NewInstance(projectID, phase.ID, now))
	}

	err = s.projectTx.RunInProjectTx(ctx, projectID, func(ctx context.Context) error {
		for _, inst := range instances {
			if _, err := s.recorder.Record(ctx, audittrail.Record{
				EntityType: audittrail.EntityPhaseInstance,
				EntityID:   inst.ID.String(),
				Action:     audittrail.ActionCreate,
				ActorID:    actor,
				After:      inst.Snap(),
			}); err != nil {
				return err
			}
		}
		return s.instances.CreateAll(ctx, instances)
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// PhaseView joins a static phase with its per-project instance and the
// derived completion percentage.
type PhaseView struct {
	Phase    models.Phase
	Instance models.PhaseInstance
}

// ListPhases returns the project's phases in order with derived completion.
// Read-only and lock-free.
func (s *Service) ListPhases(ctx context.Context, projectID id.ProjectID) ([]PhaseView, error) {
	phases, err := s.phases.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load phases")
	}
	instances, err := s.instances.ListByProject(ctx, projectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load phase instances")
	}
	if len(instances) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "project has no phase instances")
	}

	byPhase := make(map[id.PhaseID]*models.PhaseInstance, len(instances))
	for _, inst := range instances {
		byPhase[inst.PhaseID] = inst
	}

	sort.Slice(phases, func(i, j int) bool { return phases[i].OrderIndex < phases[j].OrderIndex })

	views := make([]PhaseView, 0, len(phases))
	for _, phase := range phases {
		inst, ok := byPhase[phase.ID]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeInternal, "project missing instance for phase %s", phase.Name)
		}
		view := PhaseView{Phase: phase, Instance: *inst}
		if kind, owns := models.ArtifactOwnership[phase.ID]; owns {
			percent, err := s.rollup(ctx, projectID, kind)
			if err != nil {
				return nil, err
			}
			view.Instance.CompletionPercentage = percent
		}
		views = append(views, view)
	}
	return views, nil
}

// rollup computes floor(terminal/total*100). Zero artifacts means zero
// percent: a phase must never report 100% with no deliverables recorded.
func (s *Service) rollup(ctx context.Context, projectID id.ProjectID, kind id.ArtifactKind) (int, error) {
	total, terminal, err := s.counter.CountByProjectAndKind(ctx, projectID, kind)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "count artifacts for rollup")
	}
	if total == 0 {
		return 0, nil
	}
	return terminal * 100 / total, nil
}

// ActivatePhase starts a phase, enforcing the sequential gating rule:
// a phase may only activate when every earlier phase has settled per its
// gate flag (completed for non-gate, approved or completed for gated).
func (s *Service) ActivatePhase(ctx context.Context, projectID id.ProjectID, phaseID id.PhaseID, actor id.ActorID) (*models.PhaseInstance, error) {
	ctx, span := tracer.Start(ctx, "phasegate.ActivatePhase")
	defer span.End()
	span.SetAttributes(
		attribute.String("project.id", projectID.String()),
		attribute.String("phase.id", phaseID.String()),
	)

	phases, err := s.phases.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load phases")
	}
	byID := make(map[id.PhaseID]models.Phase, len(phases))
	for _, p := range phases {
		byID[p.ID] = p
	}
	target, ok := byID[phaseID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown phase")
	}

	var activated *models.PhaseInstance
	err = s.projectTx.RunInProjectTx(ctx, projectID, func(ctx context.Context) error {
		instances, err := s.instances.ListByProject(ctx, projectID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load phase instances")
		}
		if len(instances) == 0 {
			return dErrors.New(dErrors.CodeNotFound, "project has no phase instances")
		}
		byPhase := make(map[id.PhaseID]*models.PhaseInstance, len(instances))
		for _, inst := range instances {
			byPhase[inst.PhaseID] = inst
		}
		inst, ok := byPhase[phaseID]
		if !ok {
			return dErrors.New(dErrors.CodeNotFound, "phase instance not found")
		}
		if inst.Status != id.PhaseNotStarted {
			return dErrors.Newf(dErrors.CodeInvalidTransition,
				"phase %s is %s, only not_started phases can activate", target.Name, inst.Status)
		}

		if err := s.checkSequence(byID, byPhase, target); err != nil {
			if s.metrics != nil {
				s.metrics.IncSequenceViolations()
			}
			return err
		}

		now := requestcontext.Now(ctx)

		// An approved gate settles for sequencing but only reaches its
		// terminal state when the next phase takes over.
		for _, phase := range phases {
			if phase.OrderIndex >= target.OrderIndex {
				continue
			}
			prev := byPhase[phase.ID]
			if prev.Status != id.PhaseApproved {
				continue
			}
			before := prev.Snap()
			if err := prev.Complete(now); err != nil {
				return err
			}
			if _, err := s.recorder.Record(ctx, audittrail.Record{
				EntityType: audittrail.EntityPhaseInstance,
				EntityID:   prev.ID.String(),
				Action:     audittrail.ActionComplete,
				ActorID:    actor,
				Before:     before,
				After:      prev.Snap(),
			}); err != nil {
				return err
			}
			if err := s.instances.Update(ctx, prev); err != nil {
				return s.translateStoreErr(err, "complete predecessor phase")
			}
			if s.metrics != nil {
				s.metrics.IncPhasesCompleted()
			}
		}

		before := inst.Snap()
		if err := inst.Activate(now); err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, audittrail.Record{
			EntityType: audittrail.EntityPhaseInstance,
			EntityID:   inst.ID.String(),
			Action:     audittrail.ActionActivate,
			ActorID:    actor,
			Before:     before,
			After:      inst.Snap(),
		}); err != nil {
			return err
		}
		if err := s.instances.Update(ctx, inst); err != nil {
			return s.translateStoreErr(err, "activate phase")
		}
		activated = inst
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncActivations()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "phase activated",
			"project_id", projectID,
			"phase", target.Name,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return activated, nil
}

// checkSequence enforces predecessor settlement and, when strict, the
// single-active-phase policy.
func (s *Service) checkSequence(phases map[id.PhaseID]models.Phase, byPhase map[id.PhaseID]*models.PhaseInstance, target models.Phase) error {
	for phaseID, inst := range byPhase {
		phase := phases[phaseID]
		if phase.OrderIndex < target.OrderIndex {
			settled := inst.Status == id.PhaseCompleted || (phase.IsGate && inst.Status == id.PhaseApproved)
			if !settled {
				return dErrors.Newf(dErrors.CodeSequenceViolation,
					"phase %s cannot activate: %s (order %d) is %s and must be %s first",
					target.Name, phase.Name, phase.OrderIndex, inst.Status, settledWord(phase))
			}
		}
		if s.strictSinglePhase && phaseID != target.ID {
			switch inst.Status {
			case id.PhaseActive, id.PhaseInProgress, id.PhaseUnderReview:
				return dErrors.Newf(dErrors.CodeSequenceViolation,
					"phase %s cannot activate while %s is %s: one active phase at a time",
					target.Name, phase.Name, inst.Status)
			}
		}
	}
	return nil
}

func settledWord(phase models.Phase) string {
	if phase.IsGate {
		return "approved"
	}
	return "completed"
}

// AdvanceProgress records manual completion percentage on an active or
// in-progress instance.
func (s *Service) AdvanceProgress(ctx context.Context, instanceID id.InstanceID, percent int, actor id.ActorID) (*models.PhaseInstance, error) {
	return s.mutateInstance(ctx, instanceID, audittrail.ActionProgress, actor, func(inst *models.PhaseInstance) error {
		return inst.AdvanceProgress(percent, requestcontext.Now(ctx))
	})
}

// SubmitForReview moves an instance to under_review.
func (s *Service) SubmitForReview(ctx context.Context, instanceID id.InstanceID, actor id.ActorID) (*models.PhaseInstance, error) {
	inst, err := s.mutateInstance(ctx, instanceID, audittrail.ActionSubmitReview, actor, func(inst *models.PhaseInstance) error {
		return inst.SubmitForReview(requestcontext.Now(ctx))
	})
	if err == nil && s.metrics != nil {
		s.metrics.IncReviewSubmissions()
	}
	return inst, err
}

// CompleteNonGate closes a non-gate phase from under_review without a gate
// review. Gated phases must go through the approval service.
func (s *Service) CompleteNonGate(ctx context.Context, instanceID id.InstanceID, actor id.ActorID) (*models.PhaseInstance, error) {
	inst, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, s.translateStoreErr(err, "load phase instance")
	}
	phase, err := s.phases.Get(ctx, inst.PhaseID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load phase")
	}
	if phase.IsGate {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
			"phase %s is gated and requires an approved gate review to complete", phase.Name)
	}

	inst, err = s.mutateInstance(ctx, instanceID, audittrail.ActionComplete, actor, func(inst *models.PhaseInstance) error {
		if inst.Status != id.PhaseUnderReview {
			return dErrors.Newf(dErrors.CodeInvalidTransition,
				"non-gate completion requires under_review, not %s", inst.Status)
		}
		return inst.Complete(requestcontext.Now(ctx))
	})
	if err == nil && s.metrics != nil {
		s.metrics.IncPhasesCompleted()
	}
	return inst, err
}

// mutateInstance applies fn to the instance under the project lock, with
// the audit entry recorded in the same unit of work.
func (s *Service) mutateInstance(ctx context.Context, instanceID id.InstanceID, action audittrail.Action, actor id.ActorID, fn func(*models.PhaseInstance) error) (*models.PhaseInstance, error) {
	ctx, span := tracer.Start(ctx, "phasegate."+string(action))
	defer span.End()

	probe, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, s.translateStoreErr(err, "load phase instance")
	}

	var mutated *models.PhaseInstance
	err = s.projectTx.RunInProjectTx(ctx, probe.ProjectID, func(ctx context.Context) error {
		inst, err := s.instances.FindByID(ctx, instanceID)
		if err != nil {
			return s.translateStoreErr(err, "load phase instance")
		}
		before := inst.Snap()
		if err := fn(inst); err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, audittrail.Record{
			EntityType: audittrail.EntityPhaseInstance,
			EntityID:   inst.ID.String(),
			Action:     action,
			ActorID:    actor,
			Before:     before,
			After:      inst.Snap(),
		}); err != nil {
			return err
		}
		if err := s.instances.Update(ctx, inst); err != nil {
			return s.translateStoreErr(err, "persist phase instance")
		}
		mutated = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mutated, nil
}

func (s *Service) translateStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "phase instance not found")
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.Wrap(err, dErrors.CodeConflict, "phase instance modified concurrently, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
