package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/appforge/backend/internal/application/services"
)

// DataHandler exposes record CRUD over REST. Table names come from the
// URL and are resolved against the live schema snapshot, so a table
// that was never compiled is indistinguishable from a missing record.
type DataHandler struct {
	records *services.RecordService
}

// NewDataHandler creates a new DataHandler
func NewDataHandler(records *services.RecordService) *DataHandler {
	return &DataHandler{records: records}
}

// RegisterRoutes mounts the data endpoints on a router group
func (h *DataHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/data/:table", h.ListRecords)
	group.POST("/data/:table", h.CreateRecord)
	group.GET("/data/:table/:id", h.GetRecord)
	group.PATCH("/data/:table/:id", h.UpdateRecord)
	group.DELETE("/data/:table/:id", h.DeleteRecord)
}

// ListRecords handles GET /api/data/:table
func (h *DataHandler) ListRecords(c *gin.Context) {
	caller := CallerFromContext(c)
	filters := map[string]string{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			filters[key] = values[0]
		}
	}
	records, err := h.records.ListRecords(c.Request.Context(), caller, c.Param("table"), filters)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// GetRecord handles GET /api/data/:table/:id
func (h *DataHandler) GetRecord(c *gin.Context) {
	caller := CallerFromContext(c)
	record, err := h.records.GetRecord(c.Request.Context(), caller, c.Param("table"), c.Param("id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": record})
}

// CreateRecord handles POST /api/data/:table
func (h *DataHandler) CreateRecord(c *gin.Context) {
	caller := CallerFromContext(c)

	var payload map[string]interface{}
	if !BindJSON(c, &payload) {
		return
	}

	record, counts, err := h.records.CreateRecord(c.Request.Context(), caller, c.Param("table"), payload)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, writeResponse(record, counts))
}

// UpdateRecord handles PATCH /api/data/:table/:id
func (h *DataHandler) UpdateRecord(c *gin.Context) {
	caller := CallerFromContext(c)

	var payload map[string]interface{}
	if !BindJSON(c, &payload) {
		return
	}

	record, counts, err := h.records.UpdateRecord(c.Request.Context(), caller, c.Param("table"), c.Param("id"), payload)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, writeResponse(record, counts))
}

// DeleteRecord handles DELETE /api/data/:table/:id
func (h *DataHandler) DeleteRecord(c *gin.Context) {
	caller := CallerFromContext(c)
	counts, err := h.records.DeleteRecord(c.Request.Context(), caller, c.Param("table"), c.Param("id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	if len(counts) > 0 {
		c.JSON(http.StatusOK, gin.H{"affected_counts": counts})
		return
	}
	c.Status(http.StatusNoContent)
}

// writeResponse shapes a create or update response. Parent counts the
// write changed ride along so clients can patch list views in place.
func writeResponse(record map[string]interface{}, counts []services.CountRefresh) gin.H {
	resp := gin.H{"record": record}
	if len(counts) > 0 {
		resp["affected_counts"] = counts
	}
	return resp
}
