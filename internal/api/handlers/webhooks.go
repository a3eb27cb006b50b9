package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/voice"
	"github.com/hallcall/hallcall-api/pkg/webhook"
)

const (
	voiceSignatureHeader  = "ElevenLabs-Signature"
	twilioSignatureHeader = "X-Twilio-Signature"

	eventPostCallTranscription = "post_call_transcription"
)

type voiceWebhookEvent struct {
	Type           string                   `json:"type"`
	EventTimestamp int64                    `json:"event_timestamp"`
	Data           voice.ConversationDetail `json:"data"`
}

// VoiceWebhook receives post-call transcripts from the voice vendor.
func (h *Handler) VoiceWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		errors.BadRequest(c, "unreadable body")
		return
	}
	if err := webhook.VerifyVoiceSignature(h.cfg.ElevenLabsWebhookSecret, body, c.GetHeader(voiceSignatureHeader), h.now()); err != nil {
		h.logger.Warn("Rejected voice webhook", zap.Error(err))
		errors.Unauthorized(c, err.Error())
		return
	}

	var ev voiceWebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		errors.BadRequest(c, "invalid payload")
		return
	}
	if ev.Type != eventPostCallTranscription {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if ev.Data.ConversationID == "" || ev.Data.AgentID == "" {
		errors.BadRequest(c, "conversation_id and agent_id are required")
		return
	}
	if ev.Data.Status == "" {
		ev.Data.Status = "done"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	agent, err := h.store.AgentByVendorID(ctx, ev.Data.AgentID)
	if stderrors.Is(err, store.ErrNotFound) {
		// an agent created outside HallCall; nothing to bill
		h.logger.Info("Voice webhook for unknown agent", zap.String("vendor_agent_id", ev.Data.AgentID))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	conv, err := h.ingestConversation(ctx, agent, &ev.Data)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	h.logger.Info("Conversation stored", logger.Tenant(agent.UserID,
		zap.String("conversation_id", conv.ID),
		zap.Int("duration_secs", conv.DurationSecs),
		logger.MaskPhoneIfPresent("caller", conv.CallerNumber),
		zap.String("campaign_contact_id", conv.CampaignContactID))...)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "conversation_id": conv.ID})
}

// TwilioSMSStatus applies delivery status callbacks to the SMS history.
func (h *Handler) TwilioSMSStatus(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		errors.BadRequest(c, "invalid form")
		return
	}
	fullURL := h.cfg.PublicBaseURL + c.Request.URL.RequestURI()
	if err := webhook.VerifyTwilioSignature(h.twilio.AuthToken(), fullURL, c.Request.PostForm, c.GetHeader(twilioSignatureHeader)); err != nil {
		h.logger.Warn("Rejected Twilio callback", zap.Error(err))
		errors.Forbidden(c, err.Error())
		return
	}

	sid := c.PostForm("MessageSid")
	status := c.PostForm("MessageStatus")
	if sid == "" || status == "" {
		errors.BadRequest(c, "MessageSid and MessageStatus are required")
		return
	}
	errMsg := ""
	if code := c.PostForm("ErrorCode"); code != "" {
		errMsg = "twilio error " + code
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	found, err := h.store.UpdateSMSStatus(ctx, sid, status, errMsg)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	if !found {
		h.logger.Debug("Status for unknown SMS", zap.String("sid", sid))
	}
	c.Status(http.StatusNoContent)
}

