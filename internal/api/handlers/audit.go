package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/utils"
)

// ListAuditLogs returns the caller's own audit trail.
func (h *Handler) ListAuditLogs(c *gin.Context) {
	pagination := utils.ParsePagination(c)

	filter := audit.Filter{
		Action:       c.Query("action"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	entries, total, err := audit.List(ctx, h.store.Client(), currentUser(c), filter, pagination.Skip(), int64(pagination.Limit))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, utils.PaginatedResponse{
		Data:  entries,
		Page:  pagination.Page,
		Limit: pagination.Limit,
		Total: total,
		Count: len(entries),
	})
}
