package handlers

import (
	"math"
	"net/http"
	"slices"

	"flow-runner/internal/models"
	"flow-runner/internal/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CreateBlockRequest struct {
	Name    string                  `json:"name" binding:"required"`
	Method  string                  `json:"method" binding:"required"`
	URL     string                  `json:"url"`
	Params  []models.KeyValue       `json:"params"`
	Headers []models.KeyValue       `json:"headers"`
	Body    string                  `json:"body"`
	Extract []models.ExtractionRule `json:"extract"`
}

type UpdateBlockRequest struct {
	Name    *string                  `json:"name,omitempty"`
	Method  *string                  `json:"method,omitempty"`
	URL     *string                  `json:"url,omitempty"`
	Params  *[]models.KeyValue       `json:"params,omitempty"`
	Headers *[]models.KeyValue       `json:"headers,omitempty"`
	Body    *string                  `json:"body,omitempty"`
	Order   *int                     `json:"order,omitempty"`
	Extract *[]models.ExtractionRule `json:"extract,omitempty"`
}

// CreateBlock handles POST /flows/:id/blocks and appends the block after
// the last one.
func (h *FlowHandler) CreateBlock(c *gin.Context) {
	var req CreateBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Name and method are required",
		})
		return
	}

	flow, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to fetch flow")
		return
	}

	order := 0
	for _, block := range flow.Blocks {
		if block.Order == math.MaxInt {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "Cannot append after a block with the maximum order; renumber the blocks first",
			})
			return
		}
		if block.Order >= order {
			order = block.Order + 1
		}
	}

	block := models.Block{
		ID:      uuid.NewString(),
		Name:    req.Name,
		Method:  req.Method,
		URL:     req.URL,
		Params:  req.Params,
		Headers: req.Headers,
		Body:    req.Body,
		Order:   order,
		Extract: req.Extract,
	}
	flow.Blocks = append(flow.Blocks, block)

	if !h.saveFlow(c, flow) {
		return
	}
	c.JSON(http.StatusCreated, block)
}

// GetBlock handles GET /flows/:id/blocks/:blockId
func (h *FlowHandler) GetBlock(c *gin.Context) {
	flow, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to fetch flow")
		return
	}

	idx := blockIndex(flow, c.Param("blockId"))
	if idx < 0 {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Block not found",
		})
		return
	}
	c.JSON(http.StatusOK, flow.Blocks[idx])
}

// UpdateBlock handles PUT /flows/:id/blocks/:blockId; omitted fields keep their values
func (h *FlowHandler) UpdateBlock(c *gin.Context) {
	var req UpdateBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_json",
			Message: "Invalid JSON format",
		})
		return
	}

	flow, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to fetch flow")
		return
	}

	idx := blockIndex(flow, c.Param("blockId"))
	if idx < 0 {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Block not found",
		})
		return
	}

	block := &flow.Blocks[idx]
	if req.Name != nil {
		block.Name = *req.Name
	}
	if req.Method != nil {
		block.Method = *req.Method
	}
	if req.URL != nil {
		block.URL = *req.URL
	}
	if req.Params != nil {
		block.Params = *req.Params
	}
	if req.Headers != nil {
		block.Headers = *req.Headers
	}
	if req.Body != nil {
		block.Body = *req.Body
	}
	if req.Order != nil {
		block.Order = *req.Order
	}
	if req.Extract != nil {
		block.Extract = *req.Extract
	}
	updated := *block

	if !h.saveFlow(c, flow) {
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteBlock handles DELETE /flows/:id/blocks/:blockId
func (h *FlowHandler) DeleteBlock(c *gin.Context) {
	flow, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to fetch flow")
		return
	}

	idx := blockIndex(flow, c.Param("blockId"))
	if idx < 0 {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Block not found",
		})
		return
	}
	flow.Blocks = slices.Delete(flow.Blocks, idx, idx+1)

	if !h.saveFlow(c, flow) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Block deleted successfully",
	})
}

func (h *FlowHandler) saveFlow(c *gin.Context, flow *models.Flow) bool {
	if err := validator.ValidateFlow(flow, h.cfg.MaxHeaderCount); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return false
	}
	if err := h.store.Update(c.Request.Context(), flow); err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to update flow")
		return false
	}
	return true
}

func blockIndex(flow *models.Flow, blockID string) int {
	return slices.IndexFunc(flow.Blocks, func(b models.Block) bool {
		return b.ID == blockID
	})
}
