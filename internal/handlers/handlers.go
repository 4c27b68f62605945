// Package handlers implements the HTTP API on top of the stores, the request
// execution service and the run manager.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"flow-runner/internal/db"
	"flow-runner/internal/models"

	"github.com/gin-gonic/gin"
)

type FlowStore interface {
	Create(ctx context.Context, flow *models.Flow) error
	List(ctx context.Context) ([]models.Flow, error)
	Get(ctx context.Context, id string) (*models.Flow, error)
	Update(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, id string) error
}

type EnvironmentStore interface {
	Create(ctx context.Context, env *models.Environment) error
	List(ctx context.Context) ([]models.Environment, error)
	Get(ctx context.Context, id int) (*models.Environment, error)
	Update(ctx context.Context, id int, update db.EnvironmentUpdate) (*models.Environment, error)
	MergeVariables(ctx context.Context, id int, variables map[string]string) (*models.Environment, error)
	Delete(ctx context.Context, id int) error
}

type RunStore interface {
	Get(ctx context.Context, id string) (*models.RunRecord, error)
	ListByFlow(ctx context.Context, flowID string, limit int) ([]models.RunRecord, error)
}

// HealthCheck handles GET /health
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondStoreError writes 404 for missing rows and 500 for everything else.
func respondStoreError(c *gin.Context, err error, notFound, failed string) {
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: notFound,
		})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "database_error",
		Message: failed,
	})
}

func environmentID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_id",
			Message: "Environment ID must be a valid integer",
		})
		return 0, false
	}
	return id, true
}
