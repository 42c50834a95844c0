// Package service implements gate review decisions. Approve and Reject are
// the only operations that settle or bounce a gated phase; both run under
// the same per-project transaction boundary as phase activation so a
// concurrent activate can never observe a half-applied decision.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"dhfcore/internal/approval/metrics"
	"dhfcore/internal/approval/models"
	"dhfcore/internal/audittrail"
	phasemodels "dhfcore/internal/phasegate/models"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/platform/sentinel"
	"dhfcore/pkg/requestcontext"
)

var tracer = otel.Tracer("dhfcore/approval")

// InstanceStore is the phase-instance surface the review service needs.
type InstanceStore interface {
	FindByID(ctx context.Context, instanceID id.InstanceID) (*phasemodels.PhaseInstance, error)
	Update(ctx context.Context, instance *phasemodels.PhaseInstance) error
}

// PhaseStore resolves the gate flag for a phase.
type PhaseStore interface {
	Get(ctx context.Context, phaseID id.PhaseID) (*phasemodels.Phase, error)
}

// ReviewStore persists immutable gate reviews.
type ReviewStore interface {
	Create(ctx context.Context, review *models.GateReview) error
	ListByInstance(ctx context.Context, instanceID id.InstanceID) ([]*models.GateReview, error)
	HasApproved(ctx context.Context, instanceID id.InstanceID) (bool, error)
}

// AuditRecorder is the fail-closed audit write path.
type AuditRecorder interface {
	Record(ctx context.Context, rec audittrail.Record) (*audittrail.Entry, error)
}

// ProjectTx serializes writes to one project's phase set. Wired to the same
// boundary instance the phase gate service uses.
type ProjectTx interface {
	RunInProjectTx(ctx context.Context, projectID id.ProjectID, fn func(ctx context.Context) error) error
}

// Service records gate review decisions.
type Service struct {
	instances  InstanceStore
	phases     PhaseStore
	reviews    ReviewStore
	recorder   AuditRecorder
	authorizer Authorizer
	projectTx  ProjectTx
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the approval gate service.
func New(instances InstanceStore, phases PhaseStore, reviews ReviewStore, recorder AuditRecorder, authorizer Authorizer, projectTx ProjectTx, opts ...Option) *Service {
	s := &Service{
		instances:  instances,
		phases:     phases,
		reviews:    reviews,
		recorder:   recorder,
		authorizer: authorizer,
		projectTx:  projectTx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decision is the caller's input for Approve and Reject.
type Decision struct {
	InstanceID id.InstanceID
	Reviewer   id.ActorID
	// Identity is the human-readable signer identity bound into the
	// signature assertion, typically the token subject or display name.
	Identity string
	Comments string
}

// Approve settles a gated phase. Preconditions: instance under_review, phase
// gated, reviewer authorized, no prior approved review. All writes and the
// APPROVE audit entry apply atomically or not at all.
func (s *Service) Approve(ctx context.Context, d Decision) (*models.GateReview, error) {
	ctx, span := tracer.Start(ctx, "approval.Approve")
	defer span.End()
	span.SetAttributes(attribute.String("instance.id", d.InstanceID.String()))

	return s.decide(ctx, d, id.DecisionApproved, ActionApprove)
}

// Reject bounces a gated phase back to in_progress with a blocker note.
// Rejections are never unique: a phase can fail review any number of times.
func (s *Service) Reject(ctx context.Context, d Decision) (*models.GateReview, error) {
	ctx, span := tracer.Start(ctx, "approval.Reject")
	defer span.End()
	span.SetAttributes(attribute.String("instance.id", d.InstanceID.String()))

	return s.decide(ctx, d, id.DecisionRejected, ActionReject)
}

func (s *Service) decide(ctx context.Context, d Decision, decision id.GateDecision, authzAction string) (*models.GateReview, error) {
	probe, err := s.instances.FindByID(ctx, d.InstanceID)
	if err != nil {
		return nil, s.translateStoreErr(err, "load phase instance")
	}

	if err := s.authorizer.Authorize(ctx, d.Reviewer, probe.ProjectID, authzAction); err != nil {
		if s.metrics != nil {
			s.metrics.IncUnauthorized()
		}
		return nil, err
	}

	var review *models.GateReview
	err = s.projectTx.RunInProjectTx(ctx, probe.ProjectID, func(ctx context.Context) error {
		inst, err := s.instances.FindByID(ctx, d.InstanceID)
		if err != nil {
			return s.translateStoreErr(err, "load phase instance")
		}
		phase, err := s.phases.Get(ctx, inst.PhaseID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load phase")
		}
		if !phase.IsGate {
			return dErrors.Newf(dErrors.CodeInvalidTransition,
				"phase %s is not gated; complete it directly", phase.Name)
		}
		if inst.Status != id.PhaseUnderReview {
			// A settled instance hit by a second approve is the
			// idempotency guard, not a generic bad transition.
			if decision == id.DecisionApproved && inst.Status.Settled() {
				if s.metrics != nil {
					s.metrics.IncDuplicateApprovals()
				}
				return dErrors.Newf(dErrors.CodeDuplicateApproval,
					"phase %s is already %s", phase.Name, inst.Status)
			}
			return dErrors.Newf(dErrors.CodeInvalidTransition,
				"gate decisions require under_review, not %s", inst.Status)
		}

		if decision == id.DecisionApproved {
			approved, err := s.reviews.HasApproved(ctx, inst.ID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "check prior approvals")
			}
			if approved {
				if s.metrics != nil {
					s.metrics.IncDuplicateApprovals()
				}
				return dErrors.New(dErrors.CodeDuplicateApproval,
					"an approved gate review already exists for this phase")
			}
		}

		now := requestcontext.Now(ctx)
		before := inst.Snap()
		switch decision {
		case id.DecisionApproved:
			if err := inst.Approve(d.Reviewer, d.Comments, now); err != nil {
				return err
			}
		case id.DecisionRejected:
			if err := inst.Reject(d.Comments, now); err != nil {
				return err
			}
		}

		review = models.NewGateReview(inst.ID, inst.ProjectID, decision, d.Reviewer, d.Identity, d.Comments, now)

		action := audittrail.ActionApprove
		if decision == id.DecisionRejected {
			action = audittrail.ActionReject
		}
		if _, err := s.recorder.Record(ctx, audittrail.Record{
			EntityType: audittrail.EntityPhaseInstance,
			EntityID:   inst.ID.String(),
			Action:     action,
			ActorID:    d.Reviewer,
			Before:     before,
			After:      inst.Snap(),
		}); err != nil {
			return err
		}

		if err := s.reviews.Create(ctx, review); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeDuplicateApproval, "gate already approved")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist gate review")
		}
		if err := s.instances.Update(ctx, inst); err != nil {
			return s.translateStoreErr(err, "persist phase instance")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncDecision(decision.String())
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "gate decision recorded",
			"instance_id", d.InstanceID,
			"decision", decision,
			"reviewer_id", d.Reviewer,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return review, nil
}

// ListReviews returns the review history for an instance, oldest first.
func (s *Service) ListReviews(ctx context.Context, instanceID id.InstanceID) ([]*models.GateReview, error) {
	if _, err := s.instances.FindByID(ctx, instanceID); err != nil {
		return nil, s.translateStoreErr(err, "load phase instance")
	}
	reviews, err := s.reviews.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list gate reviews")
	}
	return reviews, nil
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
