package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// These represent factual states about stored records, not rule violations:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: a uniqueness constraint was hit (e.g. duplicate link edge)
// - ErrInvalidState: record exists but is in the wrong status for the write
// - ErrVersionMismatch: optimistic version stamp did not match at write time
// - ErrUnavailable: backing store temporarily unreachable
//
// For rule violations use pkg/domain-errors directly.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrUnavailable     = errors.New("unavailable")
)
