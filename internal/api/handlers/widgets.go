package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/middleware"
	"github.com/hallcall/hallcall-api/pkg/widget"
)

type CreateWidgetRequest struct {
	AgentID        string        `json:"agent_id" binding:"required"`
	Name           string        `json:"name" binding:"required,max=100"`
	AllowedDomains []string      `json:"allowed_domains" binding:"max=50,dive,domain"`
	Theme          *widget.Theme `json:"theme"`
	Enabled        *bool         `json:"enabled"`
}

type UpdateWidgetRequest struct {
	Name           *string       `json:"name" binding:"omitempty,min=1,max=100"`
	AllowedDomains *[]string     `json:"allowed_domains" binding:"omitempty,max=50,dive,domain"`
	Theme          *widget.Theme `json:"theme"`
	Enabled        *bool         `json:"enabled"`
}

type WidgetResponse struct {
	*models.Widget
	Snippet string `json:"snippet"`
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func (h *Handler) widgetResponse(w *models.Widget) WidgetResponse {
	return WidgetResponse{Widget: w, Snippet: widget.Snippet(h.cfg.PublicBaseURL, w.AgentID)}
}

func (h *Handler) CreateWidget(c *gin.Context) {
	var req CreateWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	if _, err := h.store.Agent(ctx, userID, req.AgentID); err != nil {
		h.storeError(c, err, "agent")
		return
	}

	w := &models.Widget{
		UserID:         userID,
		AgentID:        req.AgentID,
		Name:           middleware.SanitizeString(req.Name),
		AllowedDomains: normalizeDomains(req.AllowedDomains),
		Theme:          widget.DefaultTheme(),
		Enabled:        true,
	}
	if req.Theme != nil {
		w.Theme = req.Theme.Fill()
	}
	if req.Enabled != nil {
		w.Enabled = *req.Enabled
	}

	if err := h.store.CreateWidget(ctx, w); err != nil {
		if stderrors.Is(err, store.ErrConflict) {
			errors.Conflict(c, "this agent already has a widget")
			return
		}
		errors.InternalError(c, err, h.logger)
		return
	}
	h.dropWidgetCache(ctx, w.AgentID)

	audit.Log(ctx, h.store.Client(), userID, audit.ActionCreate, "widget", w.ID, map[string]interface{}{"agent_id": w.AgentID})
	c.JSON(http.StatusCreated, h.widgetResponse(w))
}

func (h *Handler) ListWidgets(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	widgets, err := h.store.ListWidgets(ctx, currentUser(c))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	out := make([]WidgetResponse, 0, len(widgets))
	for i := range widgets {
		out = append(out, h.widgetResponse(&widgets[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "count": len(out)})
}

func (h *Handler) GetWidget(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	w, err := h.store.Widget(ctx, currentUser(c), c.Param("id"))
	if err != nil {
		h.storeError(c, err, "widget")
		return
	}
	c.JSON(http.StatusOK, h.widgetResponse(w))
}

func (h *Handler) UpdateWidget(c *gin.Context) {
	var req UpdateWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)
	id := c.Param("id")

	set := bson.M{}
	if req.Name != nil {
		set["name"] = middleware.SanitizeString(*req.Name)
	}
	if req.AllowedDomains != nil {
		set["allowed_domains"] = normalizeDomains(*req.AllowedDomains)
	}
	if req.Theme != nil {
		set["theme"] = req.Theme.Fill()
	}
	if req.Enabled != nil {
		set["enabled"] = *req.Enabled
	}
	if len(set) == 0 {
		errors.BadRequest(c, "nothing to update")
		return
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	w, err := h.store.UpdateWidget(ctx, userID, id, set)
	if err != nil {
		h.storeError(c, err, "widget")
		return
	}
	h.dropWidgetCache(ctx, w.AgentID)

	audit.Log(ctx, h.store.Client(), userID, audit.ActionUpdate, "widget", id, nil)
	c.JSON(http.StatusOK, h.widgetResponse(w))
}

func (h *Handler) DeleteWidget(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	w, err := h.store.DeleteWidget(ctx, userID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "widget")
		return
	}
	h.dropWidgetCache(ctx, w.AgentID)

	audit.Log(ctx, h.store.Client(), userID, audit.ActionDelete, "widget", w.ID, nil)
	c.JSON(http.StatusOK, gin.H{"message": "widget deleted"})
}

func (h *Handler) dropWidgetCache(ctx context.Context, agentID string) {
	if err := h.redisClient.Del(ctx, widgetCacheKey(agentID)).Err(); err != nil {
		h.logger.Warn("Failed to drop widget cache", zap.String("agent_id", agentID), zap.Error(err))
	}
}
