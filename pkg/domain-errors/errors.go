// Package domainerrors provides coded domain errors for the design control
// engine. Services return these so handlers can translate the violated rule
// into an HTTP status without string matching, and so tests can assert on
// the rule rather than on message text.
//
// For infrastructure facts (row missing, version mismatch) stores return
// pkg/platform/sentinel errors; services translate those into coded errors
// at the service boundary.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies which rule an operation violated.
type Code string

const (
	// Generic codes.
	CodeValidation   Code = "validation_failed"
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal_error"

	// Design control codes. Each maps to one rule in the workflow engine.
	CodeSequenceViolation  Code = "phase_sequence_violation"
	CodeInvalidTransition  Code = "invalid_transition"
	CodeDuplicateApproval  Code = "duplicate_approval"
	CodeDuplicateLink      Code = "duplicate_link"
	CodeInvalidLinkType    Code = "invalid_link_type"
	CodeAuditWriteFailure  Code = "audit_write_failure"
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is a coded domain error. Use New or Wrap to construct.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		de = nil
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability in tests.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// httpStatus maps each code to its HTTP realization. Conflict-class codes
// share 409; the distinction survives in the response body code field.
var httpStatus = map[Code]int{
	CodeValidation:         http.StatusBadRequest,
	CodeInvalidInput:       http.StatusBadRequest,
	CodeBadRequest:         http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeInternal:           http.StatusInternalServerError,
	CodeSequenceViolation:  http.StatusConflict,
	CodeInvalidTransition:  http.StatusConflict,
	CodeDuplicateApproval:  http.StatusConflict,
	CodeDuplicateLink:      http.StatusConflict,
	CodeInvalidLinkType:    http.StatusUnprocessableEntity,
	CodeAuditWriteFailure:  http.StatusInternalServerError,
	CodeInvariantViolation: http.StatusUnprocessableEntity,
}

// ToHTTPStatus translates a code into an HTTP status, defaulting to 500.
func ToHTTPStatus(code Code) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
