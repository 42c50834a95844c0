package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dhfcore/internal/approval/models"
	"dhfcore/internal/approval/service"
	"dhfcore/internal/transport/http/shared"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/requestcontext"
)

// ReviewService is the gate decision surface this handler needs.
type ReviewService interface {
	Approve(ctx context.Context, d service.Decision) (*models.GateReview, error)
	Reject(ctx context.Context, d service.Decision) (*models.GateReview, error)
	ListReviews(ctx context.Context, instanceID id.InstanceID) ([]*models.GateReview, error)
}

// Handler exposes gate review routes.
type Handler struct {
	svc    ReviewService
	logger *slog.Logger
}

func New(svc ReviewService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the gate review routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/phase-instances/{instanceID}/approve", h.handleApprove)
	r.Post("/phase-instances/{instanceID}/reject", h.handleReject)
	r.Get("/phase-instances/{instanceID}/reviews", h.handleListReviews)
}

type decisionRequest struct {
	Comments string `json:"comments"`
	// Identity is the signer's display identity for the signature record.
	// Defaults to the authenticated actor ID when omitted.
	Identity string `json:"identity"`
}

type reviewResponse struct {
	ID          string `json:"id"`
	InstanceID  string `json:"instance_id"`
	ProjectID   string `json:"project_id"`
	Decision    string `json:"decision"`
	ReviewerID  string `json:"reviewer_id"`
	Comments    string `json:"comments,omitempty"`
	Identity    string `json:"identity"`
	Meaning     string `json:"meaning"`
	SignedAt    string `json:"signed_at"`
	ContentHash string `json:"content_hash"`
	CreatedAt   string `json:"created_at"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.svc.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.svc.Reject)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, fn func(context.Context, service.Decision) (*models.GateReview, error)) {
	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "instanceID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid phase instance id"))
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	actor := requestcontext.ActorID(r.Context())
	identity := req.Identity
	if identity == "" {
		identity = actor.String()
	}

	review, err := fn(r.Context(), service.Decision{
		InstanceID: instanceID,
		Reviewer:   actor,
		Identity:   identity,
		Comments:   req.Comments,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toReviewResponse(review))
}

func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "instanceID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid phase instance id"))
		return
	}

	reviews, err := h.svc.ListReviews(r.Context(), instanceID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list gate reviews", "error", err, "instance_id", instanceID)
		shared.WriteError(w, err)
		return
	}

	out := make([]reviewResponse, 0, len(reviews))
	for _, review := range reviews {
		out = append(out, toReviewResponse(review))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func toReviewResponse(review *models.GateReview) reviewResponse {
	return reviewResponse{
		ID:          review.ID.String(),
		InstanceID:  review.InstanceID.String(),
		ProjectID:   review.ProjectID.String(),
		Decision:    review.Decision.String(),
		ReviewerID:  review.ReviewerID.String(),
		Comments:    review.Comments,
		Identity:    review.Signature.Identity,
		Meaning:     review.Signature.Meaning,
		SignedAt:    review.Signature.SignedAt.Format(time.RFC3339Nano),
		ContentHash: review.Signature.ContentHash,
		CreatedAt:   review.CreatedAt.Format(time.RFC3339Nano),
	}
}
