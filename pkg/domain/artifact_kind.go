package domain

import dErrors "dhfcore/pkg/domain-errors"

// ArtifactKind classifies a requirement-class artifact. It is a closed enum:
// every validation site must match exhaustively so an unrecognized kind can
// never silently pass a kind-pair check.
//
// Usage: construct via ParseArtifactKind at trust boundaries; direct casting
// bypasses validation.
type ArtifactKind string

// Supported artifact kinds, in upstream-to-downstream order.
const (
	KindUserNeed     ArtifactKind = "user_need"
	KindDesignInput  ArtifactKind = "design_input"
	KindDesignOutput ArtifactKind = "design_output"
	KindVerification ArtifactKind = "verification"
	KindValidation   ArtifactKind = "validation"
)

// validArtifactKinds is the single source of truth for valid kinds.
var validArtifactKinds = map[ArtifactKind]bool{
	KindUserNeed:     true,
	KindDesignInput:  true,
	KindDesignOutput: true,
	KindVerification: true,
	KindValidation:   true,
}

// ParseArtifactKind constructs an ArtifactKind from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "artifact kind cannot be empty")
	}
	k := ArtifactKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown artifact kind: "+s)
	}
	return k, nil
}

// IsValid reports whether the kind is one of the supported enum values.
func (k ArtifactKind) IsValid() bool {
	return validArtifactKinds[k]
}

func (k ArtifactKind) String() string { return string(k) }

// Kinds returns all supported artifact kinds in canonical order.
func Kinds() []ArtifactKind {
	return []ArtifactKind{
		KindUserNeed, KindDesignInput, KindDesignOutput, KindVerification, KindValidation,
	}
}
