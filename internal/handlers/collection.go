package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"flow-runner/internal/models"
	"flow-runner/internal/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ImportCollection handles POST /flows/import. Folders are flattened
// depth-first and each request becomes a block in that order.
func (h *FlowHandler) ImportCollection(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.cfg.MaxRequestSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "read_error",
			Message: "Failed to read request body",
		})
		return
	}

	collection, err := validator.ValidatePostmanCollection(body, h.cfg.MaxRequestSize, h.cfg.MaxHeaderCount)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	flow := CollectionToFlow(collection)
	if err := validator.ValidateFlow(flow, h.cfg.MaxHeaderCount); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if err := h.store.Create(c.Request.Context(), flow); err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to import collection")
		return
	}
	c.JSON(http.StatusCreated, flow)
}

// CollectionToFlow converts a Postman collection into a flow with one block
// per request.
func CollectionToFlow(collection *models.PostmanCollection) *models.Flow {
	name := strings.TrimSpace(collection.Info.Name)
	if name == "" {
		name = "Imported collection"
	}
	flow := &models.Flow{Name: name, Blocks: []models.Block{}}
	flattenItems(collection.Item, "", &flow.Blocks)
	return flow
}

func flattenItems(items []models.PostmanItem, folder string, blocks *[]models.Block) {
	for _, item := range items {
		if len(item.Item) > 0 {
			flattenItems(item.Item, joinName(folder, item.Name), blocks)
			continue
		}
		if item.Request == nil {
			continue
		}

		req := item.Request
		headers := make([]models.KeyValue, 0, len(req.Header))
		for _, header := range req.Header {
			headers = append(headers, models.KeyValue{
				Key:     header.Key,
				Value:   header.Value,
				Enabled: !header.Disabled,
			})
		}

		body := ""
		if req.Body != nil {
			body = req.Body.Raw
		}

		*blocks = append(*blocks, models.Block{
			ID:      uuid.NewString(),
			Name:    joinName(folder, item.Name),
			Method:  strings.ToUpper(req.Method),
			URL:     validator.ExtractURL(req.URL),
			Params:  []models.KeyValue{},
			Headers: headers,
			Body:    body,
			Order:   len(*blocks),
		})
	}
}

func joinName(folder, name string) string {
	if folder == "" {
		return name
	}
	return fmt.Sprintf("%s / %s", folder, name)
}
