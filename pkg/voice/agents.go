package voice

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/pkg/client"
)

// KnowledgeRef attaches a knowledge base document to an agent.
type KnowledgeRef struct {
	Type string `json:"type"` // file or url
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ToolWebhook describes the appointment tool the agent may call during a call.
type ToolWebhook struct {
	URL    string
	Secret string
}

// AgentSpec is the subset of the vendor agent configuration HallCall manages.
type AgentSpec struct {
	Name         string
	FirstMessage string
	SystemPrompt string
	Language     string
	VoiceID      string
	LLM          string
	Knowledge    []KnowledgeRef
	Booking      *ToolWebhook
}

type promptConfig struct {
	Prompt        string         `json:"prompt,omitempty"`
	LLM           string         `json:"llm,omitempty"`
	KnowledgeBase []KnowledgeRef `json:"knowledge_base"`
	Tools         []interface{}  `json:"tools,omitempty"`
}

type agentConfig struct {
	FirstMessage string        `json:"first_message,omitempty"`
	Language     string        `json:"language,omitempty"`
	Prompt       *promptConfig `json:"prompt,omitempty"`
}

type ttsConfig struct {
	VoiceID string `json:"voice_id,omitempty"`
}

type conversationConfig struct {
	Agent agentConfig `json:"agent"`
	TTS   *ttsConfig  `json:"tts,omitempty"`
}

type agentPayload struct {
	Name               string             `json:"name,omitempty"`
	ConversationConfig conversationConfig `json:"conversation_config"`
}

// Agent is the vendor view of an agent.
type Agent struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

func (c *Client) payload(spec AgentSpec) agentPayload {
	voiceID := spec.VoiceID
	if voiceID == "" {
		voiceID = c.cfg.VoiceID
	}
	knowledge := spec.Knowledge
	if knowledge == nil {
		knowledge = []KnowledgeRef{}
	}
	prompt := &promptConfig{
		Prompt:        spec.SystemPrompt,
		LLM:           spec.LLM,
		KnowledgeBase: knowledge,
	}
	if spec.Booking != nil && spec.Booking.URL != "" {
		prompt.Tools = []interface{}{bookingTool(*spec.Booking)}
	}
	return agentPayload{
		Name: spec.Name,
		ConversationConfig: conversationConfig{
			Agent: agentConfig{
				FirstMessage: spec.FirstMessage,
				Language:     spec.Language,
				Prompt:       prompt,
			},
			TTS: &ttsConfig{VoiceID: voiceID},
		},
	}
}

// bookingTool is the server tool definition pointing the agent at the RDV webhook.
func bookingTool(w ToolWebhook) map[string]interface{} {
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	return map[string]interface{}{
		"type":        "webhook",
		"name":        "rendez_vous",
		"description": "Check availability or book an appointment in the business calendar.",
		"api_schema": map[string]interface{}{
			"url":    w.URL,
			"method": http.MethodPost,
			"request_headers": map[string]string{
				"X-HallCall-Tool-Secret": w.Secret,
			},
			"request_body_schema": map[string]interface{}{
				"type":     "object",
				"required": []string{"action", "date"},
				"properties": map[string]interface{}{
					"action": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"check_availability", "book"},
						"description": "check_availability lists free slots, book reserves one",
					},
					"date":  str("Requested day as said by the caller, e.g. 'mardi prochain' or '12 mars'"),
					"time":  str("Requested time as said by the caller, e.g. '14h30'"),
					"name":  str("Caller full name"),
					"phone": str("Caller phone number"),
					"email": str("Caller email address"),
				},
			},
		},
	}
}

// CreateAgent creates the vendor agent and returns its id.
func (c *Client) CreateAgent(ctx context.Context, spec AgentSpec) (string, error) {
	var out Agent
	err := c.http.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/v1/convai/agents/create",
		JSON:   c.payload(spec),
	}, &out)
	if err != nil {
		return "", err
	}
	c.logger.Info("Voice agent created", zap.String("agent_id", out.AgentID))
	return out.AgentID, nil
}

// UpdateAgent replaces the managed part of the agent configuration.
func (c *Client) UpdateAgent(ctx context.Context, agentID string, spec AgentSpec) error {
	return c.http.Do(ctx, client.Request{
		Method: http.MethodPatch,
		Path:   "/v1/convai/agents/" + url.PathEscape(agentID),
		JSON:   c.payload(spec),
	}, nil)
}

// GetAgent fetches the vendor agent.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var out Agent
	err := c.http.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/v1/convai/agents/" + url.PathEscape(agentID),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAgent deletes the vendor agent.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	return c.http.Do(ctx, client.Request{
		Method: http.MethodDelete,
		Path:   "/v1/convai/agents/" + url.PathEscape(agentID),
	}, nil)
}

// SignedURL returns a short lived websocket URL for a browser conversation.
func (c *Client) SignedURL(ctx context.Context, agentID string) (string, error) {
	var out struct {
		SignedURL string `json:"signed_url"`
	}
	err := c.http.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/v1/convai/conversation/get-signed-url",
		Query:  map[string]string{"agent_id": agentID},
	}, &out)
	return out.SignedURL, err
}
