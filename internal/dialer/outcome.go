package dialer

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/metrics"
)

const (
	DispositionAnswered  = "answered"
	DispositionNoAnswer  = "no_answer"
	DispositionFailed    = "failed"
	DispositionDialError = "dial_error"
	DispositionTimeout   = "timeout"
)

// Outcome is what is known about a finished call attempt.
type Outcome struct {
	Answered       bool
	ConversationID string
	Disposition    string
	Error          string
}

// NextState applies the retry policy to a contact that just finished an
// attempt. Answered calls complete; otherwise the contact goes back to
// pending after retry_gap_min while attempts <= max_retries, and fails after.
func NextState(c *models.CampaignGroup, contact *models.Contact, o Outcome, now time.Time) bson.M {
	set := bson.M{}
	if o.ConversationID != "" {
		set["conversation_id"] = o.ConversationID
	}
	if o.Error != "" {
		set["last_error"] = o.Error
	}

	disposition := o.Disposition
	if o.Answered {
		if disposition == "" {
			disposition = DispositionAnswered
		}
		set["status"] = models.ContactCompleted
		set["disposition"] = disposition
		return set
	}
	if disposition == "" {
		disposition = DispositionNoAnswer
	}
	set["disposition"] = disposition

	if contact.Attempts < c.MaxRetries+1 {
		gap := time.Duration(c.RetryGapMin) * time.Minute
		set["status"] = models.ContactPending
		set["next_attempt_at"] = now.Add(gap)
		return set
	}
	set["status"] = models.ContactFailed
	return set
}

// ReportOutcome settles a contact in calling and completes the campaign when
// nothing is left to dial. Outcomes for contacts not in calling are ignored.
func (d *Dialer) ReportOutcome(ctx context.Context, contactID string, o Outcome) error {
	current, err := d.store.ContactByID(ctx, contactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if current.Status != models.ContactCalling {
		d.log.Debug("outcome for settled contact ignored",
			zap.String("contact_id", contactID), zap.String("status", current.Status))
		return nil
	}
	campaign, err := d.store.CampaignByID(ctx, current.CampaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}

	set := NextState(campaign, current, o, d.now())
	settled, ok, err := d.store.SettleContact(ctx, contactID, set)
	if err != nil {
		return fmt.Errorf("settle contact: %w", err)
	}
	if !ok {
		return nil
	}

	d.release(ctx, campaign.ID, contactID)
	metrics.RecordCallOutcome(settled.Disposition)
	d.publish(ctx, contactEvent(EventContactSettled, settled))
	d.log.Info("contact settled",
		zap.String("campaign_id", campaign.ID),
		zap.String("contact_id", contactID),
		zap.String("status", settled.Status),
		zap.String("disposition", settled.Disposition),
		zap.Int("attempts", settled.Attempts),
	)

	if settled.Status != models.ContactPending && campaign.Status == models.CampaignRunning {
		if _, err := d.completeIfDone(ctx, campaign.ID); err != nil {
			d.log.Warn("campaign completion check failed", zap.String("campaign_id", campaign.ID), zap.Error(err))
		}
	}
	return nil
}
