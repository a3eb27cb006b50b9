package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

type CreateAgentRequest struct {
	Name           string `json:"name" binding:"required,max=100"`
	FirstMessage   string `json:"first_message" binding:"max=2000"`
	SystemPrompt   string `json:"system_prompt" binding:"max=20000"`
	Language       string `json:"language" binding:"omitempty,len=2"`
	VoiceID        string `json:"voice_id" binding:"max=64"`
	LLM            string `json:"llm" binding:"max=64"`
	BookingEnabled bool   `json:"booking_enabled"`
}

type UpdateAgentRequest struct {
	Name           *string `json:"name" binding:"omitempty,min=1,max=100"`
	FirstMessage   *string `json:"first_message" binding:"omitempty,max=2000"`
	SystemPrompt   *string `json:"system_prompt" binding:"omitempty,max=20000"`
	Language       *string `json:"language" binding:"omitempty,len=2"`
	VoiceID        *string `json:"voice_id" binding:"omitempty,max=64"`
	LLM            *string `json:"llm" binding:"omitempty,max=64"`
	BookingEnabled *bool   `json:"booking_enabled"`
}

// agentSpec builds the vendor configuration for a mirrored agent and its
// knowledge documents.
func (h *Handler) agentSpec(a *models.Agent, docs []models.KnowledgeDocument) voice.AgentSpec {
	spec := voice.AgentSpec{
		Name:         a.Name,
		FirstMessage: a.FirstMessage,
		SystemPrompt: a.SystemPrompt,
		Language:     a.Language,
		VoiceID:      a.VoiceID,
		LLM:          a.LLM,
		Knowledge:    make([]voice.KnowledgeRef, 0, len(docs)),
	}
	for _, d := range docs {
		spec.Knowledge = append(spec.Knowledge, voice.KnowledgeRef{Type: d.Source, Name: d.Name, ID: d.VendorDocumentID})
	}
	if a.BookingEnabled {
		spec.Booking = &voice.ToolWebhook{
			URL:    h.cfg.PublicBaseURL + "/webhooks/rdv/" + a.ID,
			Secret: h.cfg.ToolSecret,
		}
	}
	return spec
}

func (h *Handler) CreateAgent(c *gin.Context) {
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	profile, err := h.store.Profile(ctx, userID)
	if err != nil {
		h.storeError(c, err, "profile")
		return
	}
	count, err := h.store.CountAgents(ctx, userID)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	plan := models.PlanFor(profile.Plan)
	if int(count) >= plan.MaxAgents {
		errors.PaymentRequired(c, "agent limit reached for the "+plan.Name+" plan")
		return
	}

	agent := &models.Agent{
		ID:             store.NewID(),
		UserID:         userID,
		Name:           req.Name,
		FirstMessage:   req.FirstMessage,
		SystemPrompt:   req.SystemPrompt,
		Language:       req.Language,
		VoiceID:        req.VoiceID,
		LLM:            req.LLM,
		BookingEnabled: req.BookingEnabled,
	}
	if agent.Language == "" {
		agent.Language = "fr"
	}

	vendorID, err := h.voice.CreateAgent(c.Request.Context(), h.agentSpec(agent, nil))
	if err != nil {
		h.vendorError(c, voice.VendorName, err)
		return
	}
	agent.VendorAgentID = vendorID

	// the vendor round trip may have used up the first store deadline
	ctx, cancel = h.dbContext(c)
	defer cancel()

	if err := h.store.CreateAgent(ctx, agent); err != nil {
		// keep the vendor side consistent with what we could store
		if delErr := h.voice.DeleteAgent(context.WithoutCancel(ctx), vendorID); delErr != nil {
			h.logger.Warn("Failed to roll back vendor agent", zap.String("vendor_agent_id", vendorID), zap.Error(delErr))
		}
		errors.InternalError(c, err, h.logger)
		return
	}

	audit.Log(ctx, h.store.Client(), userID, audit.ActionCreate, "agent", agent.ID, map[string]interface{}{"name": agent.Name})
	h.logger.Info("Agent created", logger.Tenant(userID, zap.String("agent_id", agent.ID))...)
	c.JSON(http.StatusCreated, agent)
}

func (h *Handler) ListAgents(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	agents, err := h.store.ListAgents(ctx, currentUser(c))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": agents, "count": len(agents)})
}

func (h *Handler) GetAgent(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	agent, err := h.store.Agent(ctx, currentUser(c), c.Param("id"))
	if err != nil {
		h.storeError(c, err, "agent")
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handler) UpdateAgent(c *gin.Context) {
	var req UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)
	id := c.Param("id")

	ctx, cancel := h.dbContext(c)
	defer cancel()

	agent, err := h.store.Agent(ctx, userID, id)
	if err != nil {
		h.storeError(c, err, "agent")
		return
	}

	set := bson.M{}
	apply := func(dst *string, v *string, field string) {
		if v != nil {
			*dst = *v
			set[field] = *v
		}
	}
	apply(&agent.Name, req.Name, "name")
	apply(&agent.FirstMessage, req.FirstMessage, "first_message")
	apply(&agent.SystemPrompt, req.SystemPrompt, "system_prompt")
	apply(&agent.Language, req.Language, "language")
	apply(&agent.VoiceID, req.VoiceID, "voice_id")
	apply(&agent.LLM, req.LLM, "llm")
	if req.BookingEnabled != nil {
		agent.BookingEnabled = *req.BookingEnabled
		set["booking_enabled"] = *req.BookingEnabled
	}
	if len(set) == 0 {
		errors.BadRequest(c, "nothing to update")
		return
	}

	docs, err := h.store.ListDocuments(ctx, userID, id)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	if err := h.voice.UpdateAgent(c.Request.Context(), agent.VendorAgentID, h.agentSpec(agent, docs)); err != nil {
		h.vendorError(c, voice.VendorName, err)
		return
	}

	ctx, cancel = h.dbContext(c)
	defer cancel()
	updated, err := h.store.UpdateAgent(ctx, userID, id, set)
	if err != nil {
		h.storeError(c, err, "agent")
		return
	}
	audit.Log(ctx, h.store.Client(), userID, audit.ActionUpdate, "agent", id, nil)
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteAgent(c *gin.Context) {
	userID := currentUser(c)
	id := c.Param("id")

	ctx, cancel := h.dbContext(c)
	defer cancel()

	agent, err := h.store.Agent(ctx, userID, id)
	if err != nil {
		h.storeError(c, err, "agent")
		return
	}

	if err := h.voice.DeleteAgent(c.Request.Context(), agent.VendorAgentID); err != nil && !isVendorNotFound(err) {
		h.vendorError(c, voice.VendorName, err)
		return
	}

	ctx, cancel = h.dbContext(c)
	defer cancel()
	if err := h.store.DeleteAgent(ctx, userID, id); err != nil {
		h.storeError(c, err, "agent")
		return
	}
	h.dropWidgetCache(ctx, id)

	audit.Log(ctx, h.store.Client(), userID, audit.ActionDelete, "agent", id, nil)
	c.JSON(http.StatusOK, gin.H{"message": "agent deleted"})
}
