// Package shared centralizes domain error translation to HTTP responses so
// every feature handler emits the same JSON error envelope.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "dhfcore/pkg/domain-errors"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError translates a coded domain error into its HTTP realization.
// Uncoded errors become opaque 500s; rule details never leak past the code
// and message the service chose to expose.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	body := errorResponse{Error: string(code)}
	var de *dErrors.Error
	if errors.As(err, &de) {
		body.Message = de.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
