package api

import (
	"net/http"
	"strconv"

	"reconciliation-engine/internal/models"
	"reconciliation-engine/pkg/errors"

	"github.com/gin-gonic/gin"
)

// QueryAudit returns audit entries newest first
// GET /api/v1/audit-log?entity_type=&entity_id=&limit=
func (h *Handler) QueryAudit(c *gin.Context) {
	filter := models.AuditFilter{EntityType: models.EntityType(c.Query("entity_type"))}

	if raw := c.Query("entity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.respondError(c, errors.ValidationError(errors.CodeInvalidValue, "entity_id", raw, err))
			return
		}
		filter.EntityID = &id
	}
	limit, _, err := queryInt(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}
	filter.Limit = limit

	entries, err := h.deps.Recorder.Query(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// AppendAuditRequest is an entry recorded by another service
type AppendAuditRequest struct {
	EntityType models.EntityType      `json:"entity_type" binding:"required"`
	EntityID   int64                  `json:"entity_id"`
	Action     models.AuditAction     `json:"action" binding:"required"`
	OldValues  map[string]interface{} `json:"old_values,omitempty"`
	NewValues  map[string]interface{} `json:"new_values,omitempty"`
}

// AppendAudit records an entry
// POST /api/v1/audit-log
func (h *Handler) AppendAudit(c *gin.Context) {
	var req AppendAuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}
	entry, err := h.deps.Recorder.Record(c.Request.Context(), req.EntityType, req.EntityID, req.Action, req.OldValues, req.NewValues)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}
