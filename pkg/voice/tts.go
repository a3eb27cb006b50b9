package voice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hallcall/hallcall-api/pkg/client"
)

// TTSRequest represents a TTS request
type TTSRequest struct {
	Text            string
	VoiceID         string
	ModelID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
}

// TextToSpeech converts text to audio. It returns the audio bytes and their content type.
func (c *Client) TextToSpeech(ctx context.Context, req TTSRequest) ([]byte, string, error) {
	if req.Text == "" {
		return nil, "", fmt.Errorf("text cannot be empty")
	}

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = c.cfg.VoiceID
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.cfg.ModelID
	}
	outputFormat := req.OutputFormat
	if outputFormat == "" {
		outputFormat = c.cfg.OutputFormat
	}
	stability := req.Stability
	if stability == 0 {
		stability = 0.5
	}
	similarityBoost := req.SimilarityBoost
	if similarityBoost == 0 {
		similarityBoost = 0.75
	}

	audio, contentType, err := c.http.Raw(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/v1/text-to-speech/" + url.PathEscape(voiceID),
		Query:  map[string]string{"output_format": outputFormat},
		JSON: map[string]interface{}{
			"text":     req.Text,
			"model_id": modelID,
			"voice_settings": map[string]float64{
				"stability":        stability,
				"similarity_boost": similarityBoost,
			},
		},
		Header: http.Header{"Accept": []string{"audio/mpeg"}},
	})
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return audio, contentType, nil
}

// Voice is an entry of the vendor voice library.
type Voice struct {
	VoiceID    string            `json:"voice_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Labels     map[string]string `json:"labels"`
	PreviewURL string            `json:"preview_url"`
}

// ListVoices returns the voices available to the account.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	var out struct {
		Voices []Voice `json:"voices"`
	}
	err := c.http.Do(ctx, client.Request{Method: http.MethodGet, Path: "/v1/voices"}, &out)
	return out.Voices, err
}
