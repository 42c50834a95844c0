// Package models defines the phase gate aggregates: the six static phases
// and the per-project phase instances the state machine mutates.
package models

import (
	"time"

	"github.com/google/uuid"

	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
)

// Phase is static reference data seeded once and never edited by users.
// The six-phase topology is fixed; this is not a general workflow engine.
type Phase struct {
	ID         id.PhaseID
	Name       string
	OrderIndex int
	IsGate     bool
	ClauseRefs []string
}

// Stable phase identifiers, shared by the memory seed and the SQL migration
// so instance rows reference the same phases in both backends.
var (
	PhasePlanningID     = id.PhaseID(uuid.MustParse("6f2c1f0a-0001-4d61-9a3e-d5a1c0de0001"))
	PhaseInputsID       = id.PhaseID(uuid.MustParse("6f2c1f0a-0002-4d61-9a3e-d5a1c0de0002"))
	PhaseOutputsID      = id.PhaseID(uuid.MustParse("6f2c1f0a-0003-4d61-9a3e-d5a1c0de0003"))
	PhaseVerificationID = id.PhaseID(uuid.MustParse("6f2c1f0a-0004-4d61-9a3e-d5a1c0de0004"))
	PhaseValidationID   = id.PhaseID(uuid.MustParse("6f2c1f0a-0005-4d61-9a3e-d5a1c0de0005"))
	PhaseTransferID     = id.PhaseID(uuid.MustParse("6f2c1f0a-0006-4d61-9a3e-d5a1c0de0006"))
)

// SeedPhases returns the fixed six-phase topology in order. Planning and
// Transfer exit without a formal review; the four design control phases
// are gated per 21 CFR 820.30 design review requirements.
func SeedPhases() []Phase {
	return []Phase{
		{ID: PhasePlanningID, Name: "Planning", OrderIndex: 1, IsGate: false, ClauseRefs: []string{"820.30(b)"}},
		{ID: PhaseInputsID, Name: "Inputs", OrderIndex: 2, IsGate: true, ClauseRefs: []string{"820.30(c)", "820.30(e)"}},
		{ID: PhaseOutputsID, Name: "Outputs", OrderIndex: 3, IsGate: true, ClauseRefs: []string{"820.30(d)", "820.30(e)"}},
		{ID: PhaseVerificationID, Name: "Verification", OrderIndex: 4, IsGate: true, ClauseRefs: []string{"820.30(f)", "820.30(e)"}},
		{ID: PhaseValidationID, Name: "Validation", OrderIndex: 5, IsGate: true, ClauseRefs: []string{"820.30(g)", "820.30(e)"}},
		{ID: PhaseTransferID, Name: "Transfer", OrderIndex: 6, IsGate: false, ClauseRefs: []string{"820.30(h)"}},
	}
}

// ArtifactOwnership maps each phase to the artifact kind whose delivery it
// tracks. Transfer has no deliverable artifacts; its percentage is advanced
// manually.
var ArtifactOwnership = map[id.PhaseID]id.ArtifactKind{
	PhasePlanningID:     id.KindUserNeed,
	PhaseInputsID:       id.KindDesignInput,
	PhaseOutputsID:      id.KindDesignOutput,
	PhaseVerificationID: id.KindVerification,
	PhaseValidationID:   id.KindValidation,
}

// PhaseInstance is the per-project, mutable record of a phase's progress.
// One exists per (project, phase), created at project creation and never
// deleted. All status moves go through the methods below so an illegal
// transition can never be persisted.
type PhaseInstance struct {
	ID                   id.InstanceID
	ProjectID            id.ProjectID
	PhaseID              id.PhaseID
	Status               id.PhaseStatus
	PlannedStart         *time.Time
	PlannedEnd           *time.Time
	ActualStart          *time.Time
	ActualEnd            *time.Time
	CompletionPercentage int
	ApproverID           *id.ActorID
	ApprovedAt           *time.Time
	ApprovalComments     string
	BlockerNote          string
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewInstance creates a not_started instance for one phase of a project.
func NewInstance(projectID id.ProjectID, phaseID id.PhaseID, now time.Time) *PhaseInstance {
	return &PhaseInstance{
		ID:        id.NewInstanceID(),
		ProjectID: projectID,
		PhaseID:   phaseID,
		Status:    id.PhaseNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *PhaseInstance) transition(next id.PhaseStatus, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"phase instance %s cannot move from %s to %s", p.ID, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// Activate marks the phase started. Sequencing against sibling phases is
// the service's job; this only guards the instance-local transition.
func (p *PhaseInstance) Activate(now time.Time) error {
	if err := p.transition(id.PhaseActive, now); err != nil {
		return err
	}
	start := now
	p.ActualStart = &start
	return nil
}

// AdvanceProgress records manual progress. Moves active instances into
// in_progress on first advance.
func (p *PhaseInstance) AdvanceProgress(percent int, now time.Time) error {
	if percent < 0 || percent > 100 {
		return dErrors.Newf(dErrors.CodeValidation, "completion percentage %d out of range", percent)
	}
	switch p.Status {
	case id.PhaseActive:
		if err := p.transition(id.PhaseInProgress, now); err != nil {
			return err
		}
	case id.PhaseInProgress:
		p.UpdatedAt = now
	default:
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"progress can only be advanced while active or in progress, not %s", p.Status)
	}
	p.CompletionPercentage = percent
	return nil
}

// SubmitForReview moves an active or in-progress instance to under_review.
func (p *PhaseInstance) SubmitForReview(now time.Time) error {
	if p.Status != id.PhaseActive && p.Status != id.PhaseInProgress {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"only active or in-progress phases can be submitted for review, not %s", p.Status)
	}
	return p.transition(id.PhaseUnderReview, now)
}

// Complete closes the phase. For non-gate phases this happens straight from
// under_review; for gated phases only after approval.
func (p *PhaseInstance) Complete(now time.Time) error {
	if err := p.transition(id.PhaseCompleted, now); err != nil {
		return err
	}
	end := now
	p.ActualEnd = &end
	return nil
}

// Approve records a passed gate review on the instance.
func (p *PhaseInstance) Approve(approver id.ActorID, comments string, now time.Time) error {
	if err := p.transition(id.PhaseApproved, now); err != nil {
		return err
	}
	p.ApproverID = &approver
	approvedAt := now
	p.ApprovedAt = &approvedAt
	p.ApprovalComments = comments
	return nil
}

// Reject returns the instance to in_progress with a blocker note. Rejection
// does not block future review submissions.
func (p *PhaseInstance) Reject(note string, now time.Time) error {
	if p.Status != id.PhaseUnderReview {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"only phases under review can be rejected, not %s", p.Status)
	}
	if err := p.transition(id.PhaseInProgress, now); err != nil {
		return err
	}
	p.BlockerNote = note
	return nil
}

// Snapshot is the audit-trail representation of instance state. Kept small
// so before/after diffs stay readable in the trail.
type Snapshot struct {
	Status               string `json:"status"`
	CompletionPercentage int    `json:"completion_percentage"`
	ApproverID           string `json:"approver_id,omitempty"`
	BlockerNote          string `json:"blocker_note,omitempty"`
}

// Snap captures the auditable fields of the instance.
func (p *PhaseInstance) Snap() Snapshot {
	s := Snapshot{
		Status:               string(p.Status),
		CompletionPercentage: p.CompletionPercentage,
		BlockerNote:          p.BlockerNote,
	}
	if p.ApproverID != nil {
		s.ApproverID = p.ApproverID.String()
	}
	return s
}
