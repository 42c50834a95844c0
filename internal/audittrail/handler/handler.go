package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dhfcore/internal/audittrail"
	"dhfcore/internal/transport/http/shared"
	dErrors "dhfcore/pkg/domain-errors"
)

// Recorder is the read surface this handler needs.
type Recorder interface {
	EntriesFor(ctx context.Context, entityType audittrail.EntityType, entityID string) ([]audittrail.Entry, error)
	EntriesSince(ctx context.Context, seq int64, limit int) ([]audittrail.Entry, error)
}

// Handler exposes the audit trail query surface. There is deliberately no
// write route: audit entries only appear as a side effect of mutations.
type Handler struct {
	recorder Recorder
	logger   *slog.Logger
}

// New creates an audit trail Handler.
func New(recorder Recorder, logger *slog.Logger) *Handler {
	return &Handler{recorder: recorder, logger: logger}
}

// Register mounts the audit routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.handleEntriesSince)
	r.Get("/audit/{entityType}/{entityID}", h.handleEntriesFor)
}

type entryResponse struct {
	Seq        int64  `json:"seq"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Action     string `json:"action"`
	ActorID    string `json:"actor_id,omitempty"`
	Timestamp  string `json:"timestamp"`
	Before     any    `json:"before,omitempty"`
	After      any    `json:"after,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (h *Handler) handleEntriesFor(w http.ResponseWriter, r *http.Request) {
	entityType, ok := audittrail.ParseEntityType(chi.URLParam(r, "entityType"))
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown audit entity type"))
		return
	}
	entityID := chi.URLParam(r, "entityID")

	entries, err := h.recorder.EntriesFor(r.Context(), entityType, entityID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list audit entries", "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toResponses(entries))
}

func (h *Handler) handleEntriesSince(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "since must be a non-negative integer"))
			return
		}
		since = parsed
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	entries, err := h.recorder.EntriesSince(r.Context(), since, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list audit entries since", "error", err, "since", since)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toResponses(entries))
}

func toResponses(entries []audittrail.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp := entryResponse{
			Seq:        e.Seq,
			EntityType: string(e.EntityType),
			EntityID:   e.EntityID,
			Action:     string(e.Action),
			Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
			RequestID:  e.RequestID,
		}
		if !e.ActorID.IsNil() {
			resp.ActorID = e.ActorID.String()
		}
		if len(e.Before) > 0 {
			resp.Before = rawJSON(e.Before)
		}
		if len(e.After) > 0 {
			resp.After = rawJSON(e.After)
		}
		out = append(out, resp)
	}
	return out
}

type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }
