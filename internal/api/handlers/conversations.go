package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/dialer"
	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/utils"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

// syncPageSize is how many recent vendor conversations are pulled per agent.
const syncPageSize = 30

func conversationFromDetail(agent *models.Agent, d *voice.ConversationDetail) (*models.Conversation, []models.Message) {
	conv := &models.Conversation{
		UserID:               agent.UserID,
		AgentID:              agent.ID,
		VendorConversationID: d.ConversationID,
		Status:               d.Status,
		DurationSecs:         d.Metadata.CallDurationSecs,
		Summary:              d.Analysis.TranscriptSummary,
		Successful:           d.Analysis.CallSuccessful,
	}
	if d.Metadata.StartTimeUnix > 0 {
		conv.StartedAt = time.Unix(d.Metadata.StartTimeUnix, 0).UTC()
	}
	if d.Metadata.PhoneCall != nil {
		conv.CallerNumber = d.Metadata.PhoneCall.ExternalNumber
	}
	if vars := d.InitiationData.DynamicVariables; vars != nil {
		conv.CampaignID, _ = vars[dialer.VarCampaignID].(string)
		conv.CampaignContactID, _ = vars[dialer.VarContactID].(string)
	}

	msgs := make([]models.Message, 0, len(d.Transcript))
	for _, turn := range d.Transcript {
		if turn.Message == "" {
			continue
		}
		msgs = append(msgs, models.Message{
			Role:           turn.Role,
			Text:           turn.Message,
			TimeInCallSecs: int(turn.TimeInCallSecs),
		})
	}
	return conv, msgs
}

// callOutcome decides how a campaign call went from the vendor record. A call
// counts as answered once the callee said something.
func callOutcome(d *voice.ConversationDetail, conversationID string) dialer.Outcome {
	o := dialer.Outcome{ConversationID: conversationID}
	if d.Status == "failed" {
		o.Disposition = dialer.DispositionFailed
		return o
	}
	for _, turn := range d.Transcript {
		if turn.Role == "user" && turn.Message != "" {
			o.Answered = true
			o.Disposition = dialer.DispositionAnswered
			return o
		}
	}
	o.Disposition = dialer.DispositionNoAnswer
	return o
}

// ingestConversation stores a finished conversation, bills the minutes not yet
// billed for it and settles the campaign contact it belongs to.
func (h *Handler) ingestConversation(ctx context.Context, agent *models.Agent, d *voice.ConversationDetail) (*models.Conversation, error) {
	conv, msgs := conversationFromDetail(agent, d)
	if _, err := h.store.SaveConversation(ctx, conv, msgs); err != nil {
		return nil, err
	}

	if d.Status == "done" || d.Status == "failed" {
		if due := models.BilledMinutes(conv.DurationSecs); due > conv.MinutesBilled {
			if err := h.store.AddMinutes(ctx, agent.UserID, due-conv.MinutesBilled); err != nil {
				return nil, err
			}
			if err := h.store.MarkBilled(ctx, conv.ID, due); err != nil {
				return nil, err
			}
			conv.MinutesBilled = due
		}

		if conv.CampaignContactID != "" && h.dialer != nil {
			if err := h.dialer.ReportOutcome(ctx, conv.CampaignContactID, callOutcome(d, conv.ID)); err != nil {
				h.logger.Warn("Failed to report campaign outcome",
					zap.String("contact_id", conv.CampaignContactID), zap.Error(err))
			}
		}
	}
	return conv, nil
}

func (h *Handler) ListConversations(c *gin.Context) {
	p := utils.ParsePagination(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	convs, total, err := h.store.ListConversations(ctx, currentUser(c), c.Query("agent_id"), p.Skip(), int64(p.Limit))
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, utils.PaginatedResponse{
		Data:  convs,
		Page:  p.Page,
		Limit: p.Limit,
		Total: total,
		Count: len(convs),
	})
}

type ConversationResponse struct {
	*models.Conversation
	Messages []models.Message `json:"messages"`
}

func (h *Handler) GetConversation(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	conv, err := h.store.Conversation(ctx, userID, c.Param("id"))
	if err != nil {
		h.storeError(c, err, "conversation")
		return
	}
	msgs, err := h.store.Messages(ctx, userID, conv.ID)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, ConversationResponse{Conversation: conv, Messages: msgs})
}

func (h *Handler) ConversationAudio(c *gin.Context) {
	ctx, cancel := h.dbContext(c)
	defer cancel()

	conv, err := h.store.Conversation(ctx, currentUser(c), c.Param("id"))
	if err != nil {
		h.storeError(c, err, "conversation")
		return
	}

	audio, contentType, err := h.audio.Audio(c.Request.Context(), conv.VendorConversationID)
	if err != nil {
		h.vendorError(c, voice.VendorName, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, contentType, audio)
}

type SyncResponse struct {
	Agents        int `json:"agents"`
	Conversations int `json:"conversations"`
}

// SyncConversations pulls the latest vendor conversations of every agent the
// caller owns.
func (h *Handler) SyncConversations(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	agents, err := h.store.ListAgents(ctx, userID)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	var resp SyncResponse
	for i := range agents {
		agent := &agents[i]
		summaries, _, err := h.voice.ListConversations(ctx, agent.VendorAgentID, "", syncPageSize)
		if err != nil {
			h.vendorError(c, voice.VendorName, err)
			return
		}
		for _, s := range summaries {
			detail, err := h.voice.GetConversation(ctx, s.ConversationID)
			if err != nil {
				h.vendorError(c, voice.VendorName, err)
				return
			}
			if _, err := h.ingestConversation(ctx, agent, detail); err != nil {
				errors.InternalError(c, err, h.logger)
				return
			}
			resp.Conversations++
		}
		resp.Agents++
	}

	h.logger.Info("Conversations synced", logger.Tenant(userID,
		zap.Int("agents", resp.Agents), zap.Int("conversations", resp.Conversations))...)
	c.JSON(http.StatusOK, resp)
}
