package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/telephony"
	"github.com/hallcall/hallcall-api/pkg/utils"
	"github.com/hallcall/hallcall-api/pkg/validation"
)

// maxSMSBody is ten concatenated GSM segments.
const maxSMSBody = 1530

type SMSTemplateRequest struct {
	Name string `json:"name" binding:"required,max=100"`
	Body string `json:"body" binding:"required,max=1530"`
}

type UpdateSMSTemplateRequest struct {
	Name *string `json:"name" binding:"omitempty,min=1,max=100"`
	Body *string `json:"body" binding:"omitempty,min=1,max=1530"`
}

type SendSMSRequest struct {
	To         string            `json:"to" binding:"required,max=32"`
	From       string            `json:"from" binding:"omitempty,e164"`
	Body       string            `json:"body" binding:"max=1530"`
	TemplateID string            `json:"template_id"`
	Variables  map[string]string `json:"variables"`
}

func (h *Handler) CreateSMSTemplate(c *gin.Context) {
	var req SMSTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	t := &models.SMSTemplate{
		UserID:    userID,
		Name:      strings.TrimSpace(req.Name),
		Body:      req.Body,
		Variables: utils.TemplateVariables(req.Body),
	}
	if err := h.store.CreateSMSTemplate(ctx, t); err != nil {
		h.storeError(c, err, "template")
		return
	}
	audit.Log(ctx, h.store.Client(), userID, audit.ActionCreate, "sms_template", t.ID, nil)
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListSMSTemplates(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	list, err := h.store.ListSMSTemplates(ctx, currentUser(c))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}

func (h *Handler) GetSMSTemplate(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	t, err := h.store.SMSTemplate(ctx, currentUser(c), c.Param("id"))
	if err != nil {
		h.storeError(c, err, "template")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateSMSTemplate(c *gin.Context) {
	var req UpdateSMSTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	set := bson.M{}
	if req.Name != nil {
		set["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Body != nil {
		set["body"] = *req.Body
		set["variables"] = utils.TemplateVariables(*req.Body)
	}
	if len(set) == 0 {
		errors.BadRequest(c, "nothing to update")
		return
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	t, err := h.store.UpdateSMSTemplate(ctx, currentUser(c), c.Param("id"), set)
	if err != nil {
		h.storeError(c, err, "template")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteSMSTemplate(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	if err := h.store.DeleteSMSTemplate(ctx, userID, c.Param("id")); err != nil {
		h.storeError(c, err, "template")
		return
	}
	audit.Log(ctx, h.store.Client(), userID, audit.ActionDelete, "sms_template", c.Param("id"), nil)
	c.JSON(http.StatusOK, gin.H{"message": "template deleted"})
}

// senderNumber picks the requested sender, or the caller's oldest number.
func (h *Handler) senderNumber(ctx context.Context, userID, from string) (*models.PhoneNumber, error) {
	if from != "" {
		return h.store.PhoneNumberByNumber(ctx, userID, from)
	}
	numbers, err := h.store.ListPhoneNumbers(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, nil
	}
	return &numbers[len(numbers)-1], nil
}

func (h *Handler) SendSMS(c *gin.Context) {
	var req SendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	if (req.Body == "") == (req.TemplateID == "") {
		errors.BadRequest(c, "provide either body or template_id")
		return
	}
	to, err := validation.NormalizeE164(req.To, defaultCountryCode)
	if err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	ok, err := h.smsBucket.TakeToken(ctx, userID)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	if !ok {
		errors.TooManyRequests(c, "SMS rate limit exceeded, try again shortly")
		return
	}

	body := req.Body
	if req.TemplateID != "" {
		t, err := h.store.SMSTemplate(ctx, userID, req.TemplateID)
		if err != nil {
			h.storeError(c, err, "template")
			return
		}
		rendered, missing := utils.RenderTemplate(t.Body, req.Variables)
		if len(missing) > 0 {
			errors.BadRequest(c, "missing template variables: "+strings.Join(missing, ", "))
			return
		}
		body = rendered
	}
	if len([]rune(body)) > maxSMSBody {
		errors.BadRequest(c, "message is too long")
		return
	}

	sender, err := h.senderNumber(ctx, userID, req.From)
	if err != nil {
		h.storeError(c, err, "sender number")
		return
	}
	if sender == nil {
		errors.BadRequest(c, "buy a phone number before sending SMS")
		return
	}

	msg, err := h.twilio.SendSMS(c.Request.Context(), sender.Number, to, body, h.cfg.PublicBaseURL+"/webhooks/twilio/sms-status")
	if err != nil {
		h.vendorError(c, telephony.VendorName, err)
		return
	}

	record := &models.SMSMessage{
		UserID:     userID,
		To:         to,
		From:       sender.Number,
		Body:       body,
		TemplateID: req.TemplateID,
		TwilioSID:  msg.SID,
		Status:     msg.Status,
		Error:      msg.ErrorMessage,
	}
	ctx, cancel = h.dbContext(c)
	defer cancel()
	if err := h.store.InsertSMS(ctx, record); err != nil {
		// the message left already; keep going and report success
		h.logger.Error("Failed to record SMS", zap.String("sid", msg.SID), zap.Error(err))
	}

	audit.Log(ctx, h.store.Client(), userID, audit.ActionSend, "sms", record.ID, nil)
	h.logger.Info("SMS sent", logger.Tenant(userID, logger.MaskPhone("to", to), zap.String("sid", msg.SID))...)
	c.JSON(http.StatusCreated, record)
}

func (h *Handler) ListSMSHistory(c *gin.Context) {
	p := utils.ParsePagination(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	list, total, err := h.store.ListSMS(ctx, currentUser(c), p.Skip(), int64(p.Limit))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, utils.PaginatedResponse{Data: list, Page: p.Page, Limit: p.Limit, Total: total, Count: len(list)})
}
