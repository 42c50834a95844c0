package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dhfcore/internal/phasegate/models"
	"dhfcore/internal/phasegate/service"
	"dhfcore/internal/transport/http/shared"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/requestcontext"
)

// PhaseService is the state machine surface this handler needs.
type PhaseService interface {
	ListPhases(ctx context.Context, projectID id.ProjectID) ([]service.PhaseView, error)
	ActivatePhase(ctx context.Context, projectID id.ProjectID, phaseID id.PhaseID, actor id.ActorID) (*models.PhaseInstance, error)
	AdvanceProgress(ctx context.Context, instanceID id.InstanceID, percent int, actor id.ActorID) (*models.PhaseInstance, error)
	SubmitForReview(ctx context.Context, instanceID id.InstanceID, actor id.ActorID) (*models.PhaseInstance, error)
	CompleteNonGate(ctx context.Context, instanceID id.InstanceID, actor id.ActorID) (*models.PhaseInstance, error)
}

// Handler exposes phase lifecycle routes.
type Handler struct {
	svc    PhaseService
	logger *slog.Logger
}

func New(svc PhaseService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the phase lifecycle routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/projects/{projectID}/phases", h.handleListPhases)
	r.Post("/projects/{projectID}/phases/{phaseID}/activate", h.handleActivate)
	r.Post("/phase-instances/{instanceID}/progress", h.handleProgress)
	r.Post("/phase-instances/{instanceID}/submit-review", h.handleSubmitReview)
	r.Post("/phase-instances/{instanceID}/complete", h.handleComplete)
}

type phaseResponse struct {
	PhaseID              string   `json:"phase_id"`
	Name                 string   `json:"name"`
	OrderIndex           int      `json:"order_index"`
	IsGate               bool     `json:"is_gate"`
	ClauseRefs           []string `json:"clause_refs,omitempty"`
	InstanceID           string   `json:"instance_id"`
	Status               string   `json:"status"`
	CompletionPercentage int      `json:"completion_percentage"`
	ApproverID           string   `json:"approver_id,omitempty"`
	ApprovedAt           *string  `json:"approved_at,omitempty"`
	ApprovalComments     string   `json:"approval_comments,omitempty"`
	BlockerNote          string   `json:"blocker_note,omitempty"`
	ActualStart          *string  `json:"actual_start,omitempty"`
	ActualEnd            *string  `json:"actual_end,omitempty"`
	Version              int64    `json:"version"`
}

type instanceResponse struct {
	InstanceID           string `json:"instance_id"`
	ProjectID            string `json:"project_id"`
	PhaseID              string `json:"phase_id"`
	Status               string `json:"status"`
	CompletionPercentage int    `json:"completion_percentage"`
	Version              int64  `json:"version"`
}

func (h *Handler) handleListPhases(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid project id"))
		return
	}

	views, err := h.svc.ListPhases(r.Context(), projectID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list phases", "error", err, "project_id", projectID)
		shared.WriteError(w, err)
		return
	}

	out := make([]phaseResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toPhaseResponse(v))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid project id"))
		return
	}
	phaseID, err := id.ParsePhaseID(chi.URLParam(r, "phaseID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid phase id"))
		return
	}

	inst, err := h.svc.ActivatePhase(r.Context(), projectID, phaseID, requestcontext.ActorID(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toInstanceResponse(inst))
}

type progressRequest struct {
	CompletionPercentage *int `json:"completion_percentage"`
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "instanceID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid phase instance id"))
		return
	}
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.CompletionPercentage == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "completion_percentage is required"))
		return
	}

	inst, err := h.svc.AdvanceProgress(r.Context(), instanceID, *req.CompletionPercentage, requestcontext.ActorID(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toInstanceResponse(inst))
}

func (h *Handler) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	h.handleInstanceAction(w, r, h.svc.SubmitForReview)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.handleInstanceAction(w, r, h.svc.CompleteNonGate)
}

func (h *Handler) handleInstanceAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, id.InstanceID, id.ActorID) (*models.PhaseInstance, error)) {
	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "instanceID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid phase instance id"))
		return
	}

	inst, err := fn(r.Context(), instanceID, requestcontext.ActorID(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toInstanceResponse(inst))
}

func toPhaseResponse(v service.PhaseView) phaseResponse {
	resp := phaseResponse{
		PhaseID:              v.Phase.ID.String(),
		Name:                 v.Phase.Name,
		OrderIndex:           v.Phase.OrderIndex,
		IsGate:               v.Phase.IsGate,
		ClauseRefs:           v.Phase.ClauseRefs,
		InstanceID:           v.Instance.ID.String(),
		Status:               string(v.Instance.Status),
		CompletionPercentage: v.Instance.CompletionPercentage,
		ApprovalComments:     v.Instance.ApprovalComments,
		BlockerNote:          v.Instance.BlockerNote,
		ActualStart:          timeString(v.Instance.ActualStart),
		ActualEnd:            timeString(v.Instance.ActualEnd),
		ApprovedAt:           timeString(v.Instance.ApprovedAt),
		Version:              v.Instance.Version,
	}
	if v.Instance.ApproverID != nil {
		resp.ApproverID = v.Instance.ApproverID.String()
	}
	return resp
}

func toInstanceResponse(inst *models.PhaseInstance) instanceResponse {
	return instanceResponse{
		InstanceID:           inst.ID.String(),
		ProjectID:            inst.ProjectID.String(),
		PhaseID:              inst.PhaseID.String(),
		Status:               string(inst.Status),
		CompletionPercentage: inst.CompletionPercentage,
		Version:              inst.Version,
	}
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}
