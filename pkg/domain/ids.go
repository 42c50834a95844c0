// Package domain holds the typed identifiers and closed enums shared across
// the design control engine. IDs are uuid-backed so a ProjectID can never be
// passed where an ArtifactID is expected.
package domain

import "github.com/google/uuid"

type (
	// ProjectID identifies a design project.
	ProjectID uuid.UUID
	// PhaseID identifies one of the six static phases.
	PhaseID uuid.UUID
	// InstanceID identifies a per-project phase instance.
	InstanceID uuid.UUID
	// ReviewID identifies an immutable gate review record.
	ReviewID uuid.UUID
	// ArtifactID identifies a requirement-class artifact.
	ArtifactID uuid.UUID
	// LinkID identifies a traceability link.
	LinkID uuid.UUID
	// ActorID identifies the authenticated actor performing an operation.
	// Authentication itself is an external collaborator; the engine only
	// consumes the identity.
	ActorID uuid.UUID
)

func (id ProjectID) String() string  { return uuid.UUID(id).String() }
func (id PhaseID) String() string    { return uuid.UUID(id).String() }
func (id InstanceID) String() string { return uuid.UUID(id).String() }
func (id ReviewID) String() string   { return uuid.UUID(id).String() }
func (id ArtifactID) String() string { return uuid.UUID(id).String() }
func (id LinkID) String() string     { return uuid.UUID(id).String() }
func (id ActorID) String() string    { return uuid.UUID(id).String() }

func (id ProjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id PhaseID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id InstanceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ReviewID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ArtifactID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id LinkID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText implementations make the IDs encode as canonical uuid strings
// in JSON and other text-based codecs.

func (id ProjectID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id PhaseID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id InstanceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ReviewID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id ArtifactID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id LinkID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id ActorID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }

func (id *ProjectID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ProjectID(u)
	return err
}

func (id *PhaseID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = PhaseID(u)
	return err
}

func (id *InstanceID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = InstanceID(u)
	return err
}

func (id *ReviewID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ReviewID(u)
	return err
}

func (id *ArtifactID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ArtifactID(u)
	return err
}

func (id *LinkID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = LinkID(u)
	return err
}

func (id *ActorID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = ActorID(u)
	return err
}

// NewProjectID returns a freshly generated project identifier.
func NewProjectID() ProjectID { return ProjectID(uuid.New()) }

// NewInstanceID returns a freshly generated phase instance identifier.
func NewInstanceID() InstanceID { return InstanceID(uuid.New()) }

// NewReviewID returns a freshly generated gate review identifier.
func NewReviewID() ReviewID { return ReviewID(uuid.New()) }

// NewArtifactID returns a freshly generated artifact identifier.
func NewArtifactID() ArtifactID { return ArtifactID(uuid.New()) }

// NewLinkID returns a freshly generated link identifier.
func NewLinkID() LinkID { return LinkID(uuid.New()) }

// NewActorID generates a random ActorID; production actor IDs come from the
// identity provider via JWT claims.
func NewActorID() ActorID { return ActorID(uuid.New()) }

// ParseProjectID parses external input into a ProjectID.
func ParseProjectID(s string) (ProjectID, error) {
	u, err := uuid.Parse(s)
	return ProjectID(u), err
}

// ParsePhaseID parses external input into a PhaseID.
func ParsePhaseID(s string) (PhaseID, error) {
	u, err := uuid.Parse(s)
	return PhaseID(u), err
}

// ParseInstanceID parses external input into an InstanceID.
func ParseInstanceID(s string) (InstanceID, error) {
	u, err := uuid.Parse(s)
	return InstanceID(u), err
}

// ParseReviewID parses external input into a ReviewID.
func ParseReviewID(s string) (ReviewID, error) {
	u, err := uuid.Parse(s)
	return ReviewID(u), err
}

// ParseArtifactID parses external input into an ArtifactID.
func ParseArtifactID(s string) (ArtifactID, error) {
	u, err := uuid.Parse(s)
	return ArtifactID(u), err
}

// ParseLinkID parses external input into a LinkID.
func ParseLinkID(s string) (LinkID, error) {
	u, err := uuid.Parse(s)
	return LinkID(u), err
}

// ParseActorID parses external input into an ActorID.
func ParseActorID(s string) (ActorID, error) {
	u, err := uuid.Parse(s)
	return ActorID(u), err
}
