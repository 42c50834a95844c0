package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dhfcore/internal/project/models"
	"dhfcore/internal/transport/http/shared"
	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/requestcontext"
)

// ProjectService is the project surface this handler needs.
type ProjectService interface {
	Create(ctx context.Context, name, description string, actor id.ActorID) (*models.Project, error)
	Get(ctx context.Context, projectID id.ProjectID) (*models.Project, error)
	List(ctx context.Context) ([]*models.Project, error)
}

// Handler exposes project routes.
type Handler struct {
	svc    ProjectService
	logger *slog.Logger
}

func New(svc ProjectService, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the project routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/projects", h.handleCreate)
	r.Get("/projects", h.handleList)
	r.Get("/projects/{projectID}", h.handleGet)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type projectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	project, err := h.svc.Create(r.Context(), req.Name, req.Description, requestcontext.ActorID(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toProjectResponse(project))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid project id"))
		return
	}

	project, err := h.svc.Get(r.Context(), projectID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toProjectResponse(project))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list projects", "error", err)
		shared.WriteError(w, err)
		return
	}

	out := make([]projectResponse, 0, len(projects))
	for _, project := range projects {
		out = append(out, toProjectResponse(project))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func toProjectResponse(project *models.Project) projectResponse {
	return projectResponse{
		ID:          project.ID.String(),
		Name:        project.Name,
		Description: project.Description,
		CreatedBy:   project.CreatedBy.String(),
		CreatedAt:   project.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   project.UpdatedAt.Format(time.RFC3339Nano),
	}
}
