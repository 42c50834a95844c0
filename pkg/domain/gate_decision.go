package domain

import dErrors "dhfcore/pkg/domain-errors"

// GateDecision is the outcome recorded on an immutable gate review.
type GateDecision string

const (
	DecisionApproved GateDecision = "approved"
	DecisionRejected GateDecision = "rejected"
)

// ParseGateDecision constructs a GateDecision from external input.
func ParseGateDecision(s string) (GateDecision, error) {
	switch d := GateDecision(s); d {
	case DecisionApproved, DecisionRejected:
		return d, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown gate decision: "+s)
	}
}

func (d GateDecision) String() string { return string(d) }

// ArtifactStatus is the editorial status of an artifact. Approved is the
// terminal status counted by the phase completion rollup; archived artifacts
// stay resolvable for links and audit history.
type ArtifactStatus string

const (
	ArtifactDraft    ArtifactStatus = "draft"
	ArtifactInReview ArtifactStatus = "in_review"
	ArtifactApproved ArtifactStatus = "approved"
	ArtifactArchived ArtifactStatus = "archived"
)

// ParseArtifactStatus constructs an ArtifactStatus from external input.
func ParseArtifactStatus(s string) (ArtifactStatus, error) {
	switch st := ArtifactStatus(s); st {
	case ArtifactDraft, ArtifactInReview, ArtifactApproved, ArtifactArchived:
		return st, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown artifact status: "+s)
	}
}

// IsTerminal reports whether the artifact counts as a delivered unit in the
// completion percentage rollup.
func (s ArtifactStatus) IsTerminal() bool {
	return s == ArtifactApproved
}

func (s ArtifactStatus) String() string { return string(s) }
