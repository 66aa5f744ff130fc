package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/appforge/backend/internal/application/services"
	"github.com/appforge/backend/internal/bootstrap"
)

// AdminHandler exposes schema administration: reloading the schema
// document from disk and inspecting drift audits. All routes sit
// behind the operator token middleware.
type AdminHandler struct {
	registry   *services.SchemaRegistry
	audit      *services.SchemaAudit
	schemaPath string
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(registry *services.SchemaRegistry, audit *services.SchemaAudit, schemaPath string) *AdminHandler {
	return &AdminHandler{registry: registry, audit: audit, schemaPath: schemaPath}
}

// RegisterRoutes mounts the admin endpoints on a router group
func (h *AdminHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/admin/schema/reload", h.ReloadSchema)
	group.GET("/admin/schema", h.GetSchemaStatus)
	group.GET("/admin/schema/audit", h.GetAuditReport)
	group.POST("/admin/schema/audit", h.RunAudit)
}

// ReloadSchema handles POST /api/admin/schema/reload. The document is
// re-read from disk, validated, compiled and applied atomically; on
// any failure the previous schema generation keeps serving.
func (h *AdminHandler) ReloadSchema(c *gin.Context) {
	doc, err := bootstrap.LoadSchemaDocument(h.schemaPath)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	snapshot, err := h.registry.Apply(c.Request.Context(), doc)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"generation": snapshot.Generation,
		"tables":     len(snapshot.Tables),
	})
}

// GetSchemaStatus handles GET /api/admin/schema
func (h *AdminHandler) GetSchemaStatus(c *gin.Context) {
	snapshot := h.registry.Current()
	if snapshot == nil {
		c.JSON(http.StatusOK, gin.H{"generation": 0, "tables": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"generation": snapshot.Generation,
		"tables":     len(snapshot.Tables),
	})
}

// GetAuditReport handles GET /api/admin/schema/audit
func (h *AdminHandler) GetAuditReport(c *gin.Context) {
	report := h.audit.LastReport()
	if report == nil {
		c.JSON(http.StatusOK, gin.H{"report": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// RunAudit handles POST /api/admin/schema/audit, forcing a pass now
func (h *AdminHandler) RunAudit(c *gin.Context) {
	report, err := h.audit.Run(c.Request.Context())
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
