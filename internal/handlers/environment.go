package handlers

import (
	"net/http"

	"flow-runner/internal/db"
	"flow-runner/internal/models"

	"github.com/gin-gonic/gin"
)

type EnvironmentHandler struct {
	store EnvironmentStore
}

func NewEnvironmentHandler(store EnvironmentStore) *EnvironmentHandler {
	return &EnvironmentHandler{store: store}
}

// CreateEnvironmentRequest represents the request body for creating an environment
type CreateEnvironmentRequest struct {
	Name        string            `json:"name" binding:"required"`
	Description string            `json:"description"`
	CreatedBy   string            `json:"created_by"`
	Variables   map[string]string `json:"variables"`
}

// UpdateEnvironmentRequest represents the request body for updating an environment
type UpdateEnvironmentRequest struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	CreatedBy   *string            `json:"created_by"`
	Variables   *map[string]string `json:"variables"`
}

// BatchUpdateVariablesRequest represents the request body for batch updating environment variables
type BatchUpdateVariablesRequest struct {
	Variables map[string]string `json:"variables" binding:"required"`
}

// CreateEnvironment handles POST /environments
func (h *EnvironmentHandler) CreateEnvironment(c *gin.Context) {
	var req CreateEnvironmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Name is required",
		})
		return
	}

	env := &models.Environment{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		Variables:   req.Variables,
	}
	if err := h.store.Create(c.Request.Context(), env); err != nil {
		respondStoreError(c, err, "Environment not found", "Failed to create environment")
		return
	}
	c.JSON(http.StatusCreated, env)
}

// ListEnvironments handles GET /environments
func (h *EnvironmentHandler) ListEnvironments(c *gin.Context) {
	environments, err := h.store.List(c.Request.Context())
	if err != nil {
		respondStoreError(c, err, "Environment not found", "Failed to fetch environments")
		return
	}
	c.JSON(http.StatusOK, environments)
}

// GetEnvironment handles GET /environments/:id
func (h *EnvironmentHandler) GetEnvironment(c *gin.Context) {
	id, ok := environmentID(c)
	if !ok {
		return
	}

	env, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "Environment not found", "Failed to fetch environment")
		return
	}
	c.JSON(http.StatusOK, env)
}

// UpdateEnvironment handles PUT /environments/:id
func (h *EnvironmentHandler) UpdateEnvironment(c *gin.Context) {
	id, ok := environmentID(c)
	if !ok {
		return
	}

	var req UpdateEnvironmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
		})
		return
	}
	if req.Name != nil && *req.Name == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Name cannot be empty",
		})
		return
	}

	env, err := h.store.Update(c.Request.Context(), id, db.EnvironmentUpdate{
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		Variables:   req.Variables,
	})
	if err != nil {
		respondStoreError(c, err, "Environment not found", "Failed to update environment")
		return
	}
	c.JSON(http.StatusOK, env)
}

// DeleteEnvironment handles DELETE /environments/:id
func (h *EnvironmentHandler) DeleteEnvironment(c *gin.Context) {
	id, ok := environmentID(c)
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		respondStoreError(c, err, "Environment not found", "Failed to delete environment")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Environment deleted successfully",
	})
}

// BatchUpdateEnvironmentVariables handles PATCH /environments/:id/variables
// and merges the given variables into the existing ones
func (h *EnvironmentHandler) BatchUpdateEnvironmentVariables(c *gin.Context) {
	id, ok := environmentID(c)
	if !ok {
		return
	}

	var req BatchUpdateVariablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Variables are required",
		})
		return
	}

	env, err := h.store.MergeVariables(c.Request.Context(), id, req.Variables)
	if err != nil {
		respondStoreError(c, err, "Environment not found", "Failed to update environment variables")
		return
	}
	c.JSON(http.StatusOK, env)
}
