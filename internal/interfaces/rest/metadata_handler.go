package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/appforge/backend/internal/application/services"
)

// MetadataHandler serves the rendering-layer table descriptions
type MetadataHandler struct {
	metadata *services.MetadataService
}

// NewMetadataHandler creates a new MetadataHandler
func NewMetadataHandler(metadata *services.MetadataService) *MetadataHandler {
	return &MetadataHandler{metadata: metadata}
}

// RegisterRoutes mounts the metadata endpoints on a router group
func (h *MetadataHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/metadata/tables", h.ListTables)
	group.GET("/metadata/tables/:table", h.GetTable)
}

// ListTables handles GET /api/metadata/tables
func (h *MetadataHandler) ListTables(c *gin.Context) {
	tables, err := h.metadata.ListTables()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

// GetTable handles GET /api/metadata/tables/:table
func (h *MetadataHandler) GetTable(c *gin.Context) {
	table, err := h.metadata.GetTable(c.Param("table"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": table})
}
