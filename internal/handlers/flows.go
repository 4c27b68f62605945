package handlers

import (
	"net/http"

	"flow-runner/internal/config"
	"flow-runner/internal/models"
	"flow-runner/internal/validator"

	"github.com/gin-gonic/gin"
)

type FlowHandler struct {
	store FlowStore
	cfg   *config.Config
}

func NewFlowHandler(store FlowStore, cfg *config.Config) *FlowHandler {
	return &FlowHandler{
		store: store,
		cfg:   cfg,
	}
}

// FlowRequest is the body of flow create and update calls
type FlowRequest struct {
	Name   string         `json:"name" binding:"required"`
	Blocks []models.Block `json:"blocks"`
}

func (r FlowRequest) toFlow(id string) *models.Flow {
	blocks := r.Blocks
	if blocks == nil {
		blocks = []models.Block{}
	}
	return &models.Flow{ID: id, Name: r.Name, Blocks: blocks}
}

// CreateFlow handles POST /flows
func (h *FlowHandler) CreateFlow(c *gin.Context) {
	var req FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Name is required",
		})
		return
	}

	flow := req.toFlow("")
	if err := validator.ValidateFlow(flow, h.cfg.MaxHeaderCount); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if err := h.store.Create(c.Request.Context(), flow); err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to create flow")
		return
	}
	c.JSON(http.StatusCreated, flow)
}

// ListFlows handles GET /flows
func (h *FlowHandler) ListFlows(c *gin.Context) {
	flows, err := h.store.List(c.Request.Context())
	if err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to fetch flows")
		return
	}
	c.JSON(http.StatusOK, flows)
}

// GetFlow handles GET /flows/:id
func (h *FlowHandler) GetFlow(c *gin.Context) {
	flow, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to fetch flow")
		return
	}
	c.JSON(http.StatusOK, flow)
}

// UpdateFlow handles PUT /flows/:id and replaces the flow's name and blocks
func (h *FlowHandler) UpdateFlow(c *gin.Context) {
	var req FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Name is required",
		})
		return
	}

	flow := req.toFlow(c.Param("id"))
	if err := validator.ValidateFlow(flow, h.cfg.MaxHeaderCount); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if err := h.store.Update(c.Request.Context(), flow); err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to update flow")
		return
	}
	c.JSON(http.StatusOK, flow)
}

// DeleteFlow handles DELETE /flows/:id
func (h *FlowHandler) DeleteFlow(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to delete flow")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Flow deleted successfully",
	})
}
