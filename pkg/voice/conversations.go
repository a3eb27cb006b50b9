package voice

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hallcall/hallcall-api/pkg/client"
)

// ConversationSummary is a row of the vendor conversation list.
type ConversationSummary struct {
	AgentID          string `json:"agent_id"`
	ConversationID   string `json:"conversation_id"`
	StartTimeUnix    int64  `json:"start_time_unix_secs"`
	CallDurationSecs int    `json:"call_duration_secs"`
	Status           string `json:"status"`
	CallSuccessful   string `json:"call_successful"`
}

// TranscriptTurn is one utterance in a conversation.
type TranscriptTurn struct {
	Role           string  `json:"role"`
	Message        string  `json:"message"`
	TimeInCallSecs float64 `json:"time_in_call_secs"`
}

// ConversationDetail is the full vendor record for one conversation. The
// post-call webhook carries the same shape in its data field.
type ConversationDetail struct {
	AgentID        string           `json:"agent_id"`
	ConversationID string           `json:"conversation_id"`
	Status         string           `json:"status"`
	Transcript     []TranscriptTurn `json:"transcript"`
	Metadata       struct {
		StartTimeUnix    int64 `json:"start_time_unix_secs"`
		CallDurationSecs int   `json:"call_duration_secs"`
		PhoneCall        *struct {
			Direction      string `json:"direction"`
			ExternalNumber string `json:"external_number"`
			AgentNumber    string `json:"agent_number"`
			CallSID        string `json:"call_sid"`
		} `json:"phone_call,omitempty"`
	} `json:"metadata"`
	Analysis struct {
		CallSuccessful    string `json:"call_successful"`
		TranscriptSummary string `json:"transcript_summary"`
	} `json:"analysis"`
	InitiationData struct {
		DynamicVariables map[string]interface{} `json:"dynamic_variables"`
	} `json:"conversation_initiation_client_data"`
}

// ListConversations pages through conversations of an agent.
func (c *Client) ListConversations(ctx context.Context, agentID, cursor string, pageSize int) ([]ConversationSummary, string, error) {
	if pageSize <= 0 {
		pageSize = 30
	}
	var out struct {
		Conversations []ConversationSummary `json:"conversations"`
		HasMore       bool                  `json:"has_more"`
		NextCursor    string                `json:"next_cursor"`
	}
	err := c.http.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/v1/convai/conversations",
		Query: map[string]string{
			"agent_id":  agentID,
			"cursor":    cursor,
			"page_size": strconv.Itoa(pageSize),
		},
	}, &out)
	if err != nil {
		return nil, "", err
	}
	if !out.HasMore {
		out.NextCursor = ""
	}
	return out.Conversations, out.NextCursor, nil
}

// GetConversation fetches one conversation with its transcript.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*ConversationDetail, error) {
	var out ConversationDetail
	err := c.http.Do(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/v1/convai/conversations/" + url.PathEscape(conversationID),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ConversationAudio downloads the call recording.
func (c *Client) ConversationAudio(ctx context.Context, conversationID string) ([]byte, string, error) {
	return c.http.Raw(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/v1/convai/conversations/" + url.PathEscape(conversationID) + "/audio",
	})
}
