package dialer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/queue"
	"github.com/hallcall/hallcall-api/pkg/voice"
)

// Dynamic variable keys passed to the agent with every campaign call.
const (
	VarContactID  = "campaign_contact_id"
	VarCampaignID = "campaign_id"
	VarName       = "contact_name"
	VarPhone      = "contact_phone"
)

// HandleDial is the asynq handler for TaskDial. It claims the contact, waits
// for the outbound rate limiter and asks the vendor to place the call.
func (d *Dialer) HandleDial(ctx context.Context, t queue.Task) error {
	var p dialPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		// Malformed payloads never succeed on retry.
		d.log.Error("invalid dial payload", zap.Error(err))
		return nil
	}
	log := d.log.With(zap.String("campaign_id", p.CampaignID), zap.String("contact_id", p.ContactID))

	campaign, err := d.store.CampaignByID(ctx, p.CampaignID)
	if err != nil {
		d.release(ctx, p.CampaignID, p.ContactID)
		return fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status != models.CampaignRunning {
		log.Info("campaign no longer running, dial dropped", zap.String("status", campaign.Status))
		d.release(ctx, p.CampaignID, p.ContactID)
		return nil
	}

	agent, err := d.store.Agent(ctx, campaign.UserID, campaign.AgentID)
	if err != nil {
		d.release(ctx, p.CampaignID, p.ContactID)
		return fmt.Errorf("load agent: %w", err)
	}
	number, err := d.store.PhoneNumber(ctx, campaign.UserID, campaign.PhoneNumberID)
	if err != nil {
		d.release(ctx, p.CampaignID, p.ContactID)
		return fmt.Errorf("load phone number: %w", err)
	}

	contact, ok, err := d.store.ClaimContact(ctx, p.ContactID)
	if err != nil {
		d.release(ctx, p.CampaignID, p.ContactID)
		return fmt.Errorf("claim contact: %w", err)
	}
	if !ok {
		log.Debug("contact already claimed")
		return nil
	}
	d.publish(ctx, contactEvent(EventContactCalling, contact))

	if err := d.limiter.Wait(ctx); err != nil {
		return d.ReportOutcome(ctx, contact.ID, Outcome{Disposition: DispositionDialError, Error: err.Error()})
	}

	res, err := d.caller.PlaceOutboundCall(ctx, voice.OutboundCall{
		AgentID:          agent.VendorAgentID,
		PhoneNumberID:    number.VendorPhoneID,
		ToNumber:         contact.Phone,
		DynamicVariables: DynamicVariables(campaign, contact),
	})
	if err != nil {
		log.Warn("outbound call failed", logger.MaskPhone("to", contact.Phone), zap.Error(err))
		return d.ReportOutcome(ctx, contact.ID, Outcome{Disposition: DispositionDialError, Error: err.Error()})
	}

	if res.ConversationID != "" {
		if err := d.store.AttachConversation(ctx, contact.ID, res.ConversationID); err != nil {
			log.Warn("failed to link conversation", zap.Error(err))
		}
	}
	log.Info("outbound call placed",
		zap.String("conversation_id", res.ConversationID),
		zap.String("call_sid", res.CallSID),
		zap.Int("attempt", contact.Attempts),
	)
	return nil
}

// DynamicVariables builds the variables handed to the agent for a call.
// Contact variables come first so reserved keys cannot be overridden.
func DynamicVariables(c *models.CampaignGroup, contact *models.Contact) map[string]interface{} {
	vars := make(map[string]interface{}, len(contact.Variables)+4)
	for k, v := range contact.Variables {
		vars[k] = v
	}
	vars[VarContactID] = contact.ID
	vars[VarCampaignID] = c.ID
	vars[VarPhone] = contact.Phone
	if contact.Name != "" {
		vars[VarName] = contact.Name
	}
	return vars
}
