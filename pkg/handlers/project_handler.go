package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/models"
	"github.com/trailhead-sec/scantrail/pkg/repositories"
)

// ProjectHandler exposes project management endpoints.
type ProjectHandler struct {
	projects repositories.ProjectRepository
	logger   *zap.Logger
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(projects repositories.ProjectRepository, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, logger: logger}
}

// RegisterRoutes registers the project handler's routes on the given mux.
func (h *ProjectHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/projects", h.CreateProject)
	mux.HandleFunc("GET /api/projects", h.ListProjects)
	mux.HandleFunc("GET /api/projects/{id}", h.GetProject)
}

type createProjectRequest struct {
	Name          string `json:"name"`
	ScanSystemKey string `json:"scan_system_key"`
}

// CreateProject handles POST /api/projects.
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Name == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	project := &models.Project{Name: req.Name, ScanSystemKey: req.ScanSystemKey}
	if err := h.projects.Create(r.Context(), project); err != nil {
		h.logger.Error("failed to create project", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal", "failed to create project")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, project); err != nil {
		h.logger.Error("Failed to encode project response", zap.Error(err))
	}
}

// ListProjects handles GET /api/projects.
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list projects", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal", "failed to list projects")
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}

	if err := WriteJSON(w, http.StatusOK, projects); err != nil {
		h.logger.Error("Failed to encode projects response", zap.Error(err))
	}
}

// GetProject handles GET /api/projects/{id}.
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}

	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		h.logger.Error("failed to get project", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal", "failed to get project")
		return
	}

	if err := WriteJSON(w, http.StatusOK, project); err != nil {
		h.logger.Error("Failed to encode project response", zap.Error(err))
	}
}
