package dialer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
)

const (
	EventContactCalling    = "contact.calling"
	EventContactSettled    = "contact.settled"
	EventCampaignCompleted = "campaign.completed"
	EventCampaignStatus    = "campaign.status"
)

// Event is streamed to dashboards watching a campaign.
type Event struct {
	Type        string    `json:"type"`
	CampaignID  string    `json:"campaign_id"`
	ContactID   string    `json:"contact_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Disposition string    `json:"disposition,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	At          time.Time `json:"at"`
}

// Channel is the Redis pub/sub channel carrying a campaign's events.
func Channel(campaignID string) string {
	return "campaign:" + campaignID + ":events"
}

func contactEvent(typ string, c *models.Contact) Event {
	return Event{
		Type:        typ,
		CampaignID:  c.CampaignID,
		ContactID:   c.ID,
		Status:      c.Status,
		Disposition: c.Disposition,
		Attempts:    c.Attempts,
	}
}

func (d *Dialer) publish(ctx context.Context, ev Event) {
	if err := Publish(ctx, d.redis, ev); err != nil {
		d.log.Warn("failed to publish campaign event", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Publish sends ev on the campaign channel. Events are best effort.
func Publish(ctx context.Context, rdb *redis.Client, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, Channel(ev.CampaignID), data).Err()
}

// Subscribe returns a subscription to a campaign's events. The caller closes it.
func Subscribe(ctx context.Context, rdb *redis.Client, campaignID string) *redis.PubSub {
	return rdb.Subscribe(ctx, Channel(campaignID))
}
