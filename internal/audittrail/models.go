// Package audittrail is the append-only audit log for the design control
// engine. Every state-changing write to a phase instance, gate review, or
// traceability link produces exactly one entry here in the same unit of work;
// no other component mutates compliance-relevant state without going through
// the recorder.
package audittrail

import (
	"encoding/json"
	"time"

	id "dhfcore/pkg/domain"
)

// EntityType names the aggregate an audit entry describes.
type EntityType string

const (
	EntityProject       EntityType = "project"
	EntityPhaseInstance EntityType = "phase_instance"
	EntityGateReview    EntityType = "gate_review"
	EntityArtifact      EntityType = "artifact"
	EntityTraceLink     EntityType = "trace_link"
)

// validEntityTypes is the single source of truth for valid entity types.
var validEntityTypes = map[EntityType]bool{
	EntityProject:       true,
	EntityPhaseInstance: true,
	EntityGateReview:    true,
	EntityArtifact:      true,
	EntityTraceLink:     true,
}

// ParseEntityType validates external input against the known entity types.
func ParseEntityType(s string) (EntityType, bool) {
	t := EntityType(s)
	return t, validEntityTypes[t]
}

// Action names the state-changing operation an entry records.
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionActivate     Action = "ACTIVATE"
	ActionProgress     Action = "PROGRESS"
	ActionSubmitReview Action = "SUBMIT_REVIEW"
	ActionComplete     Action = "COMPLETE"
	ActionApprove      Action = "APPROVE"
	ActionReject       Action = "REJECT"
	ActionUpdate       Action = "UPDATE"
	ActionArchive      Action = "ARCHIVE"
	ActionAddLink      Action = "ADD_LINK"
	ActionRemoveLink   Action = "REMOVE_LINK"
)

// Entry is one immutable audit record. Seq is a global monotonic sequence
// assigned by the store at append time; entries are never renumbered,
// updated, or deleted.
type Entry struct {
	Seq        int64
	EntityType EntityType
	EntityID   string
	Action     Action
	ActorID    id.ActorID
	Timestamp  time.Time
	Before     json.RawMessage
	After      json.RawMessage
	RequestID  string
}

// Record is the write request handed to the recorder. Before and After are
// arbitrary state snapshots; the recorder serializes them.
type Record struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	ActorID    id.ActorID
	Before     any
	After      any
}
