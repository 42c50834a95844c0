// Package models defines design artifacts and the directed trace links
// between them.
package models

import (
	"time"

	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
)

// Artifact is a requirement-class design record. Artifacts are soft-archived
// only; an archived artifact stays resolvable so existing links and audit
// history keep their referents.
type Artifact struct {
	ID          id.ArtifactID
	ProjectID   id.ProjectID
	PhaseID     id.PhaseID
	Kind        id.ArtifactKind
	Code        string
	Description string
	Status      id.ArtifactStatus
	Archived    bool
	Version     int64
	CreatedBy   id.ActorID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewArtifact creates a draft artifact owned by the phase that delivers its
// kind.
func NewArtifact(projectID id.ProjectID, phaseID id.PhaseID, kind id.ArtifactKind, code, description string, actor id.ActorID, now time.Time) (*Artifact, error) {
	if code == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "artifact code is required")
	}
	return &Artifact{
		ID:          id.NewArtifactID(),
		ProjectID:   projectID,
		PhaseID:     phaseID,
		Kind:        kind,
		Code:        code,
		Description: description,
		Status:      id.ArtifactDraft,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SetStatus moves the artifact's editorial status. Any status move is legal
// except out of archived.
func (a *Artifact) SetStatus(status id.ArtifactStatus, now time.Time) error {
	if a.Archived {
		return dErrors.New(dErrors.CodeInvalidTransition, "archived artifacts are immutable")
	}
	a.Status = status
	a.UpdatedAt = now
	return nil
}

// SetDescription updates the description text.
func (a *Artifact) SetDescription(description string, now time.Time) error {
	if a.Archived {
		return dErrors.New(dErrors.CodeInvalidTransition, "archived artifacts are immutable")
	}
	a.Description = description
	a.UpdatedAt = now
	return nil
}

// Archive soft-archives the artifact. Idempotent archiving is rejected so a
// double archive surfaces as an error rather than a silent no-op.
func (a *Artifact) Archive(now time.Time) error {
	if a.Archived {
		return dErrors.New(dErrors.CodeInvalidTransition, "artifact is already archived")
	}
	a.Archived = true
	a.Status = id.ArtifactArchived
	a.UpdatedAt = now
	return nil
}

// ArtifactSnapshot is the audit-trail representation of an artifact.
type ArtifactSnapshot struct {
	Kind        string `json:"kind"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Archived    bool   `json:"archived,omitempty"`
}

func (a *Artifact) Snap() ArtifactSnapshot {
	return ArtifactSnapshot{
		Kind:        string(a.Kind),
		Code:        a.Code,
		Description: a.Description,
		Status:      string(a.Status),
		Archived:    a.Archived,
	}
}

// allowedLinkPairs is the closed kind-pair whitelist for directed links.
var allowedLinkPairs = map[id.ArtifactKind]map[id.ArtifactKind]bool{
	id.KindUserNeed: {
		id.KindDesignInput: true,
		id.KindValidation:  true,
	},
	id.KindDesignInput: {
		id.KindDesignOutput: true,
	},
	id.KindDesignOutput: {
		id.KindVerification: true,
	},
}

// LinkAllowed reports whether a directed link from source to target kind is
// on the whitelist.
func LinkAllowed(source, target id.ArtifactKind) bool {
	return allowedLinkPairs[source][target]
}

// TraceabilityLink is a directed edge in the project's trace graph.
// Immutable once created; the only mutation is removal.
type TraceabilityLink struct {
	ID         id.LinkID
	ProjectID  id.ProjectID
	SourceID   id.ArtifactID
	SourceKind id.ArtifactKind
	TargetID   id.ArtifactID
	TargetKind id.ArtifactKind
	CreatedBy  id.ActorID
	CreatedAt  time.Time
}

// NewLink validates the kind pair and constructs the edge.
func NewLink(source, target *Artifact, actor id.ActorID, now time.Time) (*TraceabilityLink, error) {
	if source.ProjectID != target.ProjectID {
		return nil, dErrors.New(dErrors.CodeValidation, "links cannot cross projects")
	}
	if source.ID == target.ID {
		return nil, dErrors.New(dErrors.CodeValidation, "an artifact cannot link to itself")
	}
	if !LinkAllowed(source.Kind, target.Kind) {
		return nil, dErrors.Newf(dErrors.CodeInvalidLinkType,
			"links from %s to %s are not allowed", source.Kind, target.Kind)
	}
	return &TraceabilityLink{
		ID:         id.NewLinkID(),
		ProjectID:  source.ProjectID,
		SourceID:   source.ID,
		SourceKind: source.Kind,
		TargetID:   target.ID,
		TargetKind: target.Kind,
		CreatedBy:  actor,
		CreatedAt:  now,
	}, nil
}

// LinkSnapshot is the audit-trail representation of a link.
type LinkSnapshot struct {
	SourceID   string `json:"source_id"`
	SourceKind string `json:"source_kind"`
	TargetID   string `json:"target_id"`
	TargetKind string `json:"target_kind"`
}

func (l *TraceabilityLink) Snap() LinkSnapshot {
	return LinkSnapshot{
		SourceID:   l.SourceID.String(),
		SourceKind: string(l.SourceKind),
		TargetID:   l.TargetID.String(),
		TargetKind: string(l.TargetKind),
	}
}

// IsOrphaned applies the kind-specific coverage rule to an artifact given
// the links touching it. Orphan status is advisory; it flags a coverage gap
// in the trace matrix, never an error.
func IsOrphaned(artifact *Artifact, links []*TraceabilityLink) bool {
	var (
		outgoingAny     bool
		incomingFrom    = map[id.ArtifactKind]bool{}
		outgoingTo      = map[id.ArtifactKind]bool{}
		touchesUserNeed bool
	)
	for _, l := range links {
		if l.SourceID == artifact.ID {
			outgoingAny = true
			outgoingTo[l.TargetKind] = true
			if l.TargetKind == id.KindUserNeed {
				touchesUserNeed = true
			}
		}
		if l.TargetID == artifact.ID {
			incomingFrom[l.SourceKind] = true
			if l.SourceKind == id.KindUserNeed {
				touchesUserNeed = true
			}
		}
	}

	switch artifact.Kind {
	case id.KindUserNeed:
		return !outgoingAny
	case id.KindDesignInput:
		return !incomingFrom[id.KindUserNeed] && !outgoingTo[id.KindDesignOutput]
	case id.KindDesignOutput:
		return !incomingFrom[id.KindDesignInput] && !outgoingTo[id.KindVerification]
	case id.KindVerification:
		return !incomingFrom[id.KindDesignOutput]
	case id.KindValidation:
		return !touchesUserNeed
	default:
		return false
	}
}
