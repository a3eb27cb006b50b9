package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/telephony"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

type BuyNumberRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required,e164"`
	Label       string `json:"label" binding:"max=100"`
	Country     string `json:"country" binding:"omitempty,len=2"`
	AgentID     string `json:"agent_id"`
}

type AssignNumberRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *Handler) SearchPhoneNumbers(c *gin.Context) {
	if !h.twilio.IsAvailable() {
		errors.ErrorResponse(c, http.StatusServiceUnavailable, "Service Unavailable", "telephony is not configured")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	numbers, err := h.twilio.SearchNumbers(c.Request.Context(), c.DefaultQuery("country", "FR"), c.Query("area_code"), c.Query("contains"), limit)
	if err != nil {
		h.vendorError(c, telephony.VendorName, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": numbers, "count": len(numbers)})
}

// BuyPhoneNumber purchases the number on Twilio and imports it into the voice
// vendor. A failed import gives the number back.
func (h *Handler) BuyPhoneNumber(c *gin.Context) {
	var req BuyNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	var agent *models.Agent
	if req.AgentID != "" {
		a, err := h.store.Agent(ctx, userID, req.AgentID)
		if err != nil {
			h.storeError(c, err, "agent")
			return
		}
		agent = a
	}

	label := req.Label
	if label == "" {
		label = req.PhoneNumber
	}
	bought, err := h.twilio.BuyNumber(c.Request.Context(), req.PhoneNumber, label)
	if err != nil {
		h.vendorError(c, telephony.VendorName, err)
		return
	}

	var vendorPhoneID string
	rollback := func(reason string, cause error) {
		h.logger.Warn("Releasing number after failed setup",
			logger.MaskPhone("number", bought.PhoneNumber),
			zap.String("reason", reason),
			zap.Error(cause))
		rctx := context.WithoutCancel(c.Request.Context())
		if vendorPhoneID != "" {
			if err := h.voice.DeletePhoneNumber(rctx, vendorPhoneID); err != nil && !isVendorNotFound(err) {
				h.logger.Error("Failed to remove imported number", zap.String("vendor_phone_id", vendorPhoneID), zap.Error(err))
			}
		}
		if err := h.twilio.ReleaseNumber(rctx, bought.SID); err != nil {
			h.logger.Error("Failed to release number", zap.String("sid", bought.SID), zap.Error(err))
		}
	}

	vendorPhoneID, err = h.voice.ImportTwilioNumber(c.Request.Context(), bought.PhoneNumber, label, h.twilio.AccountSID(), h.twilio.AuthToken())
	if err != nil {
		rollback("import", err)
		h.vendorError(c, voice.VendorName, err)
		return
	}

	num := &models.PhoneNumber{
		UserID:        userID,
		Number:        bought.PhoneNumber,
		TwilioSID:     bought.SID,
		VendorPhoneID: vendorPhoneID,
		Label:         label,
		Country:       req.Country,
	}
	if agent != nil {
		if err := h.voice.AssignAgent(c.Request.Context(), vendorPhoneID, agent.VendorAgentID); err != nil {
			h.logger.Warn("Failed to assign agent to new number", zap.String("agent_id", agent.ID), zap.Error(err))
		} else {
			num.AgentID = agent.ID
		}
	}

	ctx, cancel = h.dbContext(c)
	defer cancel()
	if err := h.store.CreatePhoneNumber(ctx, num); err != nil {
		rollback("store", err)
		h.storeError(c, err, "phone number")
		return
	}

	audit.Log(ctx, h.store.Client(), userID, audit.ActionPurchase, "phone_number", num.ID, map[string]interface{}{"sid": bought.SID})
	h.logger.Info("Phone number provisioned", logger.Tenant(userID, logger.MaskPhone("number", num.Number))...)
	c.JSON(http.StatusCreated, num)
}

func (h *Handler) ListPhoneNumbers(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	numbers, err := h.store.ListPhoneNumbers(ctx, currentUser(c))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": numbers, "count": len(numbers)})
}

// AssignPhoneNumber routes inbound calls of the number to an agent. An empty
// agent_id detaches it.
func (h *Handler) AssignPhoneNumber(c *gin.Context) {
	var req AssignNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	num, err := h.store.PhoneNumber(ctx, userID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "phone number")
		return
	}
	vendorAgentID := ""
	if req.AgentID != "" {
		agent, err := h.store.Agent(ctx, userID, req.AgentID)
		if err != nil {
			h.storeError(c, err, "agent")
			return
		}
		vendorAgentID = agent.VendorAgentID
	}

	if err := h.voice.AssignAgent(c.Request.Context(), num.VendorPhoneID, vendorAgentID); err != nil {
		h.vendorError(c, voice.VendorName, err)
		return
	}
	ctx, cancel = h.dbContext(c)
	defer cancel()
	updated, err := h.store.AssignPhoneNumber(ctx, userID, num.ID, req.AgentID)
	if err != nil {
		h.storeError(c, err, "phone number")
		return
	}
	audit.Log(ctx, h.store.Client(), userID, audit.ActionUpdate, "phone_number", num.ID, map[string]interface{}{"agent_id": req.AgentID})
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeletePhoneNumber(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	num, err := h.store.PhoneNumber(ctx, userID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "phone number")
		return
	}

	if err := h.voice.DeletePhoneNumber(c.Request.Context(), num.VendorPhoneID); err != nil && !isVendorNotFound(err) {
		h.vendorError(c, voice.VendorName, err)
		return
	}
	if err := h.twilio.ReleaseNumber(c.Request.Context(), num.TwilioSID); err != nil && !isVendorNotFound(err) {
		h.vendorError(c, telephony.VendorName, err)
		return
	}
	ctx, cancel = h.dbContext(c)
	defer cancel()
	if err := h.store.DeletePhoneNumber(ctx, userID, num.ID); err != nil {
		h.storeError(c, err, "phone number")
		return
	}

	audit.Log(ctx, h.store.Client(), userID, audit.ActionRelease, "phone_number", num.ID, nil)
	c.JSON(http.StatusOK, gin.H{"message": "phone number released"})
}
