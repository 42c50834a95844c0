package domain

import dErrors "dhfcore/pkg/domain-errors"

// PhaseStatus is the lifecycle status of a per-project phase instance.
// Transitions are owned by the phase gate state machine; everything else
// treats the status as opaque.
type PhaseStatus string

const (
	PhaseNotStarted  PhaseStatus = "not_started"
	PhaseActive      PhaseStatus = "active"
	PhaseInProgress  PhaseStatus = "in_progress"
	PhaseUnderReview PhaseStatus = "under_review"
	PhaseApproved    PhaseStatus = "approved"
	PhaseCompleted   PhaseStatus = "completed"
)

// phaseTransitions is the single source of truth for legal status moves.
// Rejection of a gate review returns under_review to in_progress; approval
// moves it to approved. Completed is terminal.
var phaseTransitions = map[PhaseStatus][]PhaseStatus{
	PhaseNotStarted:  {PhaseActive},
	PhaseActive:      {PhaseInProgress, PhaseUnderReview},
	PhaseInProgress:  {PhaseUnderReview},
	PhaseUnderReview: {PhaseApproved, PhaseInProgress, PhaseCompleted},
	PhaseApproved:    {PhaseCompleted},
	PhaseCompleted:   {},
}

// ParsePhaseStatus constructs a PhaseStatus from external input.
func ParsePhaseStatus(s string) (PhaseStatus, error) {
	st := PhaseStatus(s)
	if _, ok := phaseTransitions[st]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown phase status: "+s)
	}
	return st, nil
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s PhaseStatus) CanTransitionTo(next PhaseStatus) bool {
	for _, allowed := range phaseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s PhaseStatus) IsTerminal() bool {
	return len(phaseTransitions[s]) == 0
}

// Settled reports whether the phase has cleared its exit criteria: completed
// for non-gate phases, approved or completed for gated ones. The sequencing
// rule in the state machine treats a settled phase as done.
func (s PhaseStatus) Settled() bool {
	return s == PhaseApproved || s == PhaseCompleted
}

func (s PhaseStatus) String() string { return string(s) }
