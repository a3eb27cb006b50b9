package voice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hallcall/hallcall-api/pkg/client"
)

// ImportTwilioNumber registers a Twilio number with the voice vendor so
// agents can answer and place calls on it.
func (c *Client) ImportTwilioNumber(ctx context.Context, number, label, accountSID, authToken string) (string, error) {
	var out struct {
		PhoneNumberID string `json:"phone_number_id"`
	}
	err := c.http.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/v1/convai/phone-numbers",
		JSON: map[string]string{
			"phone_number": number,
			"label":        label,
			"sid":          accountSID,
			"token":        authToken,
			"provider":     "twilio",
		},
	}, &out)
	return out.PhoneNumberID, err
}

// AssignAgent routes a number to an agent. An empty agentID detaches it.
func (c *Client) AssignAgent(ctx context.Context, phoneNumberID, agentID string) error {
	body := map[string]interface{}{"agent_id": nil}
	if agentID != "" {
		body["agent_id"] = agentID
	}
	return c.http.Do(ctx, client.Request{
		Method: http.MethodPatch,
		Path:   "/v1/convai/phone-numbers/" + url.PathEscape(phoneNumberID),
		JSON:   body,
	}, nil)
}

// DeletePhoneNumber removes a number from the vendor.
func (c *Client) DeletePhoneNumber(ctx context.Context, phoneNumberID string) error {
	return c.http.Do(ctx, client.Request{
		Method: http.MethodDelete,
		Path:   "/v1/convai/phone-numbers/" + url.PathEscape(phoneNumberID),
	}, nil)
}

// OutboundCall asks the vendor to dial a number with an agent.
type OutboundCall struct {
	AgentID          string
	PhoneNumberID    string
	ToNumber         string
	DynamicVariables map[string]interface{}
}

// OutboundResult is what the vendor returns when a call is placed.
type OutboundResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
}

// PlaceOutboundCall starts an outbound Twilio call handled by the agent.
func (c *Client) PlaceOutboundCall(ctx context.Context, call OutboundCall) (*OutboundResult, error) {
	body := map[string]interface{}{
		"agent_id":              call.AgentID,
		"agent_phone_number_id": call.PhoneNumberID,
		"to_number":             call.ToNumber,
	}
	if len(call.DynamicVariables) > 0 {
		body["conversation_initiation_client_data"] = map[string]interface{}{
			"dynamic_variables": call.DynamicVariables,
		}
	}

	var out OutboundResult
	if err := c.http.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/v1/convai/twilio/outbound-call",
		JSON:   body,
	}, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &out, fmt.Errorf("outbound call rejected: %s", out.Message)
	}
	return &out, nil
}
