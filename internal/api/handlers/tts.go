package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

type TTSRequest struct {
	Text    string `json:"text" binding:"required,max=5000"`
	VoiceID string `json:"voice_id" binding:"max=64"`
	ModelID string `json:"model_id" binding:"max=64"`
}

// TextToSpeech returns the synthesised audio bytes.
func (h *Handler) TextToSpeech(c *gin.Context) {
	var req TTSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	audio, contentType, err := h.voice.TextToSpeech(c.Request.Context(), voice.TTSRequest{
		Text:    req.Text,
		VoiceID: req.VoiceID,
		ModelID: req.ModelID,
	})
	if err != nil {
		h.vendorError(c, voice.VendorName, err)
		return
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	c.Data(http.StatusOK, contentType, audio)
}

func (h *Handler) ListVoices(c *gin.Context) {
	voices, err := h.voice.ListVoices(c.Request.Context())
	if err != nil {
		h.vendorError(c, voice.VendorName, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"voices": voices, "default_voice_id": h.voice.DefaultVoiceID()})
}
