// Package voice is a client for the ElevenLabs Conversational AI API: agents,
// text to speech, knowledge base, conversations and Twilio phone numbers.
package voice

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/pkg/client"
)

const VendorName = "elevenlabs"

// Config configures the vendor client.
type Config struct {
	APIKey       string
	BaseURL      string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Timeout      time.Duration
}

// Client talks to the voice vendor.
type Client struct {
	http   *client.HTTPClient
	cfg    Config
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	apiKey := cfg.APIKey
	return &Client{
		http: client.NewHTTPClient(VendorName, cfg.BaseURL, cfg.Timeout, func(r *http.Request) {
			r.Header.Set("xi-api-key", apiKey)
		}),
		cfg:    cfg,
		logger: logger,
	}
}

// IsAvailable reports whether an API key is configured.
func (c *Client) IsAvailable() bool {
	return c.cfg.APIKey != ""
}

// DefaultVoiceID is used when an agent or TTS request names no voice.
func (c *Client) DefaultVoiceID() string {
	return c.cfg.VoiceID
}
