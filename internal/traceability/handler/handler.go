package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dhfcore/internal/traceability/models"
	"dhfcore/internal/traceability/service"
	"dhfcore/internal/transport/http/shared"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/requestcontext"
)

// GraphService is the traceability surface this handler needs.
type GraphService interface {
	CreateArtifact(ctx context.Context, in service.CreateArtifactInput) (*models.Artifact, error)
	UpdateArtifact(ctx context.Context, in service.UpdateArtifactInput) (*models.Artifact, error)
	ArchiveArtifact(ctx context.Context, artifactID id.ArtifactID, actor id.ActorID) (*models.Artifact, error)
	GetArtifact(ctx context.Context, artifactID id.ArtifactID) (*models.Artifact, error)
	AddLink(ctx context.Context, in service.AddLinkInput) (*models.TraceabilityLink, error)
	RemoveLink(ctx context.Context, linkID id.LinkID, actor id.ActorID) error
	ProjectGraph(ctx context.Context, projectID id.ProjectID) (*service.Graph, error)
	HighlightSet(ctx context.Context, artifactID id.ArtifactID) ([]service.ArtifactNode, error)
}

// Handler exposes the traceability routes.
type Handler struct {
	svc    GraphService
	logger *slog.Logger
}

func New(svc GraphService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the traceability routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/projects/{projectID}/traceability", h.handleGraph)
	r.Post("/projects/{projectID}/artifacts", h.handleCreateArtifact)
	r.Get("/artifacts/{artifactID}", h.handleGetArtifact)
	r.Patch("/artifacts/{artifactID}", h.handleUpdateArtifact)
	r.Post("/artifacts/{artifactID}/archive", h.handleArchiveArtifact)
	r.Get("/artifacts/{artifactID}/highlight", h.handleHighlight)
	r.Post("/links", h.handleAddLink)
	r.Delete("/links/{linkID}", h.handleRemoveLink)
}

type artifactResponse struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	PhaseID     string `json:"phase_id"`
	Kind        string `json:"kind"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Archived    bool   `json:"archived,omitempty"`
	Version     int64  `json:"version"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type linkResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	SourceID   string `json:"source_id"`
	SourceKind string `json:"source_kind"`
	TargetID   string `json:"target_id"`
	TargetKind string `json:"target_kind"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at"`
}

func (h *Handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid project id"))
		return
	}

	graph, err := h.svc.ProjectGraph(r.Context(), projectID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render trace graph", "error", err, "project_id", projectID)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, graph)
}

type createArtifactRequest struct {
	Kind        string `json:"kind"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (h *Handler) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid project id"))
		return
	}
	var req createArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	kind, err := id.ParseArtifactKind(req.Kind)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	artifact, err := h.svc.CreateArtifact(r.Context(), service.CreateArtifactInput{
		ProjectID:   projectID,
		Kind:        kind,
		Code:        req.Code,
		Description: req.Description,
		Actor:       requestcontext.ActorID(r.Context()),
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toArtifactResponse(artifact))
}

func (h *Handler) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID, err := id.ParseArtifactID(chi.URLParam(r, "artifactID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid artifact id"))
		return
	}

	artifact, err := h.svc.GetArtifact(r.Context(), artifactID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toArtifactResponse(artifact))
}

type updateArtifactRequest struct {
	Version     *int64  `json:"version"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

func (h *Handler) handleUpdateArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID, err := id.ParseArtifactID(chi.URLParam(r, "artifactID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid artifact id"))
		return
	}
	var req updateArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Version == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "version is required for optimistic updates"))
		return
	}

	in := service.UpdateArtifactInput{
		ArtifactID:  artifactID,
		Version:     *req.Version,
		Description: req.Description,
		Actor:       requestcontext.ActorID(r.Context()),
	}
	if req.Status != nil {
		status, err := id.ParseArtifactStatus(*req.Status)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		in.Status = &status
	}

	artifact, err := h.svc.UpdateArtifact(r.Context(), in)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toArtifactResponse(artifact))
}

func (h *Handler) handleArchiveArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID, err := id.ParseArtifactID(chi.URLParam(r, "artifactID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid artifact id"))
		return
	}

	artifact, err := h.svc.ArchiveArtifact(r.Context(), artifactID, requestcontext.ActorID(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toArtifactResponse(artifact))
}

func (h *Handler) handleHighlight(w http.ResponseWriter, r *http.Request) {
	artifactID, err := id.ParseArtifactID(chi.URLParam(r, "artifactID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid artifact id"))
		return
	}

	neighbors, err := h.svc.HighlightSet(r.Context(), artifactID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, neighbors)
}

type addLinkRequest struct {
	SourceID   string `json:"source_id"`
	SourceKind string `json:"source_kind"`
	TargetID   string `json:"target_id"`
	TargetKind string `json:"target_kind"`
}

func (h *Handler) handleAddLink(w http.ResponseWriter, r *http.Request) {
	var req addLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	sourceID, err := id.ParseArtifactID(req.SourceID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid source artifact id"))
		return
	}
	targetID, err := id.ParseArtifactID(req.TargetID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid target artifact id"))
		return
	}
	sourceKind, err := id.ParseArtifactKind(req.SourceKind)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	targetKind, err := id.ParseArtifactKind(req.TargetKind)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	link, err := h.svc.AddLink(r.Context(), service.AddLinkInput{
		SourceID:   sourceID,
		SourceKind: sourceKind,
		TargetID:   targetID,
		TargetKind: targetKind,
		Actor:      requestcontext.ActorID(r.Context()),
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toLinkResponse(link))
}

func (h *Handler) handleRemoveLink(w http.ResponseWriter, r *http.Request) {
	linkID, err := id.ParseLinkID(chi.URLParam(r, "linkID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid link id"))
		return
	}

	if err := h.svc.RemoveLink(r.Context(), linkID, requestcontext.ActorID(r.Context())); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toArtifactResponse(artifact *models.Artifact) artifactResponse {
	return artifactResponse{
		ID:          artifact.ID.String(),
		ProjectID:   artifact.ProjectID.String(),
		PhaseID:     artifact.PhaseID.String(),
		Kind:        string(artifact.Kind),
		Code:        artifact.Code,
		Description: artifact.Description,
		Status:      string(artifact.Status),
		Archived:    artifact.Archived,
		Version:     artifact.Version,
		CreatedBy:   artifact.CreatedBy.String(),
		CreatedAt:   artifact.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   artifact.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func toLinkResponse(link *models.TraceabilityLink) linkResponse {
	return linkResponse{
		ID:         link.ID.String(),
		ProjectID:  link.ProjectID.String(),
		SourceID:   link.SourceID.String(),
		SourceKind: string(link.SourceKind),
		TargetID:   link.TargetID.String(),
		TargetKind: string(link.TargetKind),
		CreatedBy:  link.CreatedBy.String(),
		CreatedAt:  link.CreatedAt.Format(time.RFC3339Nano),
	}
}
