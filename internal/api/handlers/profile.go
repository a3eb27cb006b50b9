package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/middleware"
)

type UpdateProfileRequest struct {
	FullName *string `json:"full_name" binding:"omitempty,max=120"`
	Company  *string `json:"company" binding:"omitempty,max=120"`
}

type UsageResponse struct {
	Plan             string `json:"plan"`
	MinutesQuota     int    `json:"minutes_quota"`
	MinutesUsed      int    `json:"minutes_used"`
	MinutesRemaining int    `json:"minutes_remaining"`
	MaxAgents        int    `json:"max_agents"`
	Agents           int64  `json:"agents"`
	PeriodStart      string `json:"period_start"`
}

func (h *Handler) GetProfile(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	profile, err := h.store.Profile(ctx, currentUser(c))
	if err != nil {
		h.storeError(c, err, "profile")
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	set := bson.M{}
	if req.FullName != nil {
		set["full_name"] = middleware.SanitizeString(*req.FullName)
	}
	if req.Company != nil {
		set["company"] = middleware.SanitizeString(*req.Company)
	}
	if len(set) == 0 {
		errors.BadRequest(c, "nothing to update")
		return
	}

	userID := currentUser(c)
	ctx, cancel := h.dbContext(c)
	defer cancel()

	profile, err := h.store.UpdateProfile(ctx, userID, set)
	if err != nil {
		h.storeError(c, err, "profile")
		return
	}
	audit.Log(ctx, h.store.Client(), userID, audit.ActionUpdate, "profile", userID, nil)
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) GetUsage(c *gin.Context) {
	userID := currentUser(c)
	ctx, cancel := h.dbContext(c)
	defer cancel()

	profile, err := h.store.Profile(ctx, userID)
	if err != nil {
		h.storeError(c, err, "profile")
		return
	}
	agents, err := h.store.CountAgents(ctx, userID)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	plan := models.PlanFor(profile.Plan)
	c.JSON(http.StatusOK, UsageResponse{
		Plan:             plan.Name,
		MinutesQuota:     profile.MinutesQuota,
		MinutesUsed:      profile.MinutesUsed,
		MinutesRemaining: profile.MinutesRemaining(),
		MaxAgents:        plan.MaxAgents,
		Agents:           agents,
		PeriodStart:      profile.PeriodStart.Format("2006-01-02"),
	})
}

type SetPlanRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// SetUserPlan moves another account to a plan. Admin only.
func (h *Handler) SetUserPlan(c *gin.Context) {
	var req SetPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	if _, ok := models.LookupPlan(req.Plan); !ok {
		errors.BadRequest(c, "unknown plan")
		return
	}

	target := c.Param("id")
	ctx, cancel := h.dbContext(c)
	defer cancel()

	profile, err := h.store.SetPlan(ctx, target, req.Plan)
	if err != nil {
		h.storeError(c, err, "user")
		return
	}
	audit.Log(ctx, h.store.Client(), currentUser(c), audit.ActionUpdate, "plan", target, map[string]interface{}{"plan": req.Plan})
	c.JSON(http.StatusOK, profile)
}
