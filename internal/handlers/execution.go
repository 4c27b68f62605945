package handlers

import (
	"fmt"
	"net/http"

	"flow-runner/internal/config"
	"flow-runner/internal/flow"
	"flow-runner/internal/models"

	"github.com/gin-gonic/gin"
)

type ExecutionHandler struct {
	service flow.RequestService
	cfg     *config.Config
}

func NewExecutionHandler(service flow.RequestService, cfg *config.Config) *ExecutionHandler {
	return &ExecutionHandler{
		service: service,
		cfg:     cfg,
	}
}

// ExecuteRequestBody is a single ad-hoc request plus the mode to run it in
type ExecuteRequestBody struct {
	models.ExecutionRequest
	Mode models.ExecutionMode `json:"mode,omitempty"`
}

// ExecuteRequest handles POST /execute. Transport failures are part of the
// 200 response; only a call that could not be attempted is a 502.
func (h *ExecutionHandler) ExecuteRequest(c *gin.Context) {
	var req ExecuteRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: fmt.Sprintf("Invalid request body: %v", err),
		})
		return
	}

	mode, ok := parseMode(c, req.Mode)
	if !ok {
		return
	}

	if len(req.Headers) > h.cfg.MaxHeaderCount {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: fmt.Sprintf("request has %d headers, exceeding limit of %d", len(req.Headers), h.cfg.MaxHeaderCount),
		})
		return
	}

	response, err := h.service.Execute(c.Request.Context(), req.ExecutionRequest, mode)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "execution_error",
			Message: fmt.Sprintf("Failed to execute request: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, response)
}

func parseMode(c *gin.Context, mode models.ExecutionMode) (models.ExecutionMode, bool) {
	switch mode {
	case "":
		return models.ModeAuthenticated, true
	case models.ModeAuthenticated, models.ModeDemo:
		return mode, true
	}
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: fmt.Sprintf("unknown mode %q (allowed: authenticated, demo)", mode),
	})
	return "", false
}
