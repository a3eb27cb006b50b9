package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/dialer"
	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/middleware"
)

type CampaignWindow struct {
	Start    string `json:"start" binding:"omitempty,clock"`
	End      string `json:"end" binding:"omitempty,clock"`
	Days     []int  `json:"days" binding:"omitempty,dive,min=0,max=6"`
	Timezone string `json:"timezone" binding:"max=64"`
}

type RetryConfig struct {
	Max    *int `json:"max" binding:"omitempty,min=0,max=10"`
	GapMin int  `json:"gap_min" binding:"omitempty,min=1,max=10080"`
}

type CreateCampaignRequest struct {
	Name          string         `json:"name" binding:"required,max=200"`
	AgentID       string         `json:"agent_id" binding:"required"`
	PhoneNumberID string         `json:"phone_number_id" binding:"required"`
	Window        CampaignWindow `json:"window"`
	Retries       RetryConfig    `json:"retries"`
	MaxConcurrent int            `json:"max_concurrent" binding:"omitempty,min=1,max=50"`
}

type UpdateCampaignRequest struct {
	Name          *string         `json:"name" binding:"omitempty,min=1,max=200"`
	AgentID       *string         `json:"agent_id"`
	PhoneNumberID *string         `json:"phone_number_id"`
	Window        *CampaignWindow `json:"window"`
	Retries       *RetryConfig    `json:"retries"`
	MaxConcurrent *int            `json:"max_concurrent" binding:"omitempty,min=1,max=50"`
}

var weekdays = []int{1, 2, 3, 4, 5}

// applyWindow fills window defaults and validates the result.
func (h *Handler) applyWindow(w CampaignWindow) (CampaignWindow, error) {
	if w.Start == "" {
		w.Start = "09:00"
	}
	if w.End == "" {
		w.End = "19:00"
	}
	if len(w.Days) == 0 {
		w.Days = weekdays
	}
	if w.Timezone == "" {
		w.Timezone = h.cfg.TZ
	}
	if _, err := time.LoadLocation(w.Timezone); err != nil {
		return w, &middleware.ValidationError{Message: "unknown timezone " + w.Timezone}
	}
	return w, middleware.ValidateCallingWindow(w.Start, w.End, w.Days)
}

// checkCampaignRefs makes sure the agent and the caller number belong to the user.
func (h *Handler) checkCampaignRefs(c *gin.Context, ctx context.Context, userID, agentID, phoneNumberID string) bool {
	if _, err := h.store.Agent(ctx, userID, agentID); err != nil {
		h.storeError(c, err, "agent")
		return false
	}
	if _, err := h.store.PhoneNumber(ctx, userID, phoneNumberID); err != nil {
		h.storeError(c, err, "phone number")
		return false
	}
	return true
}

func (h *Handler) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)

	window, err := h.applyWindow(req.Window)
	if err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	if !h.checkCampaignRefs(c, ctx, userID, req.AgentID, req.PhoneNumberID) {
		return
	}

	campaign := &models.CampaignGroup{
		UserID:        userID,
		AgentID:       req.AgentID,
		PhoneNumberID: req.PhoneNumberID,
		Name:          middleware.SanitizeString(req.Name),
		WindowStart:   window.Start,
		WindowEnd:     window.End,
		Days:          window.Days,
		Timezone:      window.Timezone,
		MaxRetries:    h.cfg.DefaultRetryMax,
		RetryGapMin:   h.cfg.DefaultRetryGapMin,
		MaxConcurrent: req.MaxConcurrent,
	}
	if req.Retries.Max != nil {
		campaign.MaxRetries = *req.Retries.Max
	}
	if req.Retries.GapMin > 0 {
		campaign.RetryGapMin = req.Retries.GapMin
	}
	if campaign.MaxConcurrent == 0 {
		campaign.MaxConcurrent = 1
	}

	if err := h.store.CreateCampaign(ctx, campaign); err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	audit.Log(ctx, h.store.Client(), userID, audit.ActionCreate, "campaign", campaign.ID, map[string]interface{}{"name": campaign.Name})
	c.JSON(http.StatusCreated, campaign)
}

func (h *Handler) ListCampaigns(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	campaigns, err := h.store.ListCampaigns(ctx, currentUser(c), c.Query("status"))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": campaigns, "count": len(campaigns)})
}

type CampaignResponse struct {
	*models.CampaignGroup
	Stats models.CampaignStats `json:"stats"`
}

func (h *Handler) GetCampaign(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	campaign, err := h.store.Campaign(ctx, currentUser(c), c.Param("id"))
	if err != nil {
		h.storeError(c, err, "campaign")
		return
	}
	stats, err := h.store.CampaignStats(ctx, campaign.ID)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, CampaignResponse{CampaignGroup: campaign, Stats: stats})
}

// UpdateCampaign edits draft and paused campaigns only.
func (h *Handler) UpdateCampaign(c *gin.Context) {
	var req UpdateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)
	id := c.Param("id")

	ctx, cancel := h.dbContext(c)
	defer cancel()

	campaign, err := h.store.Campaign(ctx, userID, id)
	if err != nil {
		h.storeError(c, err, "campaign")
		return
	}
	if campaign.Status != models.CampaignDraft && campaign.Status != models.CampaignPaused {
		errors.Conflict(c, "campaign can only be edited while draft or paused")
		return
	}

	set := bson.M{}
	if req.Name != nil {
		set["name"] = middleware.SanitizeString(*req.Name)
	}
	agentID, phoneID := campaign.AgentID, campaign.PhoneNumberID
	if req.AgentID != nil {
		agentID = *req.AgentID
		set["agent_id"] = agentID
	}
	if req.PhoneNumberID != nil {
		phoneID = *req.PhoneNumberID
		set["phone_number_id"] = phoneID
	}
	if req.AgentID != nil || req.PhoneNumberID != nil {
		if !h.checkCampaignRefs(c, ctx, userID, agentID, phoneID) {
			return
		}
	}
	if req.Window != nil {
		window, err := h.applyWindow(*req.Window)
		if err != nil {
			errors.BadRequest(c, err.Error())
			return
		}
		set["window_start"], set["window_end"] = window.Start, window.End
		set["days"], set["timezone"] = window.Days, window.Timezone
	}
	if req.Retries != nil {
		if req.Retries.Max != nil {
			set["max_retries"] = *req.Retries.Max
		}
		if req.Retries.GapMin > 0 {
			set["retry_gap_min"] = req.Retries.GapMin
		}
	}
	if req.MaxConcurrent != nil {
		set["max_concurrent"] = *req.MaxConcurrent
	}
	if len(set) == 0 {
		errors.BadRequest(c, "nothing to update")
		return
	}

	updated, err := h.store.UpdateCampaign(ctx, userID, id, set)
	if err != nil {
		h.storeError(c, err, "campaign")
		return
	}
	audit.Log(ctx, h.store.Client(), userID, audit.ActionUpdate, "campaign", id, nil)
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteCampaign(c *gin.Context) {
	userID := currentUser(c)
	id := c.Param("id")

	ctx, cancel := h.dbContext(c)
	defer cancel()

	campaign, err := h.store.Campaign(ctx, userID, id)
	if err != nil {
		h.storeError(c, err, "campaign")
		return
	}
	if campaign.Status == models.CampaignRunning {
		errors.Conflict(c, "pause or cancel the campaign before deleting it")
		return
	}
	if err := h.store.DeleteCampaign(ctx, userID, id); err != nil {
		h.storeError(c, err, "campaign")
		return
	}
	audit.Log(ctx, h.store.Client(), userID, audit.ActionDelete, "campaign", id, nil)
	c.JSON(http.StatusOK, gin.H{"message": "campaign deleted"})
}

// transition runs one of the control endpoints.
func (h *Handler) transition(c *gin.Context, from []string, to string, action audit.Action) {
	userID := currentUser(c)
	id := c.Param("id")

	ctx, cancel := h.dbContext(c)
	defer cancel()

	if to == models.CampaignRunning {
		campaign, err := h.store.Campaign(ctx, userID, id)
		if err != nil {
			h.storeError(c, err, "campaign")
			return
		}
		stats, err := h.store.CampaignStats(ctx, campaign.ID)
		if err != nil {
			errors.InternalError(c, err, h.logger)
			return
		}
		if stats.Pending == 0 && stats.Calling == 0 {
			errors.BadRequest(c, "campaign has no pending contacts")
			return
		}
	}

	campaign, err := h.store.TransitionCampaign(ctx, userID, id, from, to)
	if stderrors.Is(err, store.ErrConflict) {
		errors.Conflict(c, "campaign cannot move to "+to+" from its current status")
		return
	}
	if err != nil {
		h.storeError(c, err, "campaign")
		return
	}

	if to == models.CampaignCancelled {
		skipped, err := h.store.SkipPending(ctx, id)
		if err != nil {
			errors.InternalError(c, err, h.logger)
			return
		}
		h.logger.Info("Campaign cancelled", logger.Tenant(userID,
			zap.String("campaign_id", id), zap.Int64("skipped", skipped))...)
	}

	if err := dialer.Publish(ctx, h.redisClient, dialer.Event{
		Type:       dialer.EventCampaignStatus,
		CampaignID: id,
		Status:     campaign.Status,
	}); err != nil {
		h.logger.Warn("Failed to publish campaign status", zap.String("campaign_id", id), zap.Error(err))
	}

	audit.Log(ctx, h.store.Client(), userID, action, "campaign", id, nil)
	c.JSON(http.StatusOK, campaign)
}

func (h *Handler) StartCampaign(c *gin.Context) {
	h.transition(c, []string{models.CampaignDraft}, models.CampaignRunning, audit.ActionStart)
}

func (h *Handler) PauseCampaign(c *gin.Context) {
	h.transition(c, []string{models.CampaignRunning}, models.CampaignPaused, audit.ActionPause)
}

func (h *Handler) ResumeCampaign(c *gin.Context) {
	h.transition(c, []string{models.CampaignPaused}, models.CampaignRunning, audit.ActionResume)
}

func (h *Handler) CancelCampaign(c *gin.Context) {
	h.transition(c, []string{models.CampaignDraft, models.CampaignRunning, models.CampaignPaused}, models.CampaignCancelled, audit.ActionCancel)
}
