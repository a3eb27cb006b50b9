package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
)

func (s *Store) CreateCampaign(ctx context.Context, c *models.CampaignGroup) error {
	now := s.now()
	if c.ID == "" {
		c.ID = NewID()
	}
	c.Status = models.CampaignDraft
	c.CreatedAt, c.UpdatedAt = now, now
	return s.client.NewQuery(colCampaigns).Insert(ctx, c)
}

func (s *Store) ListCampaigns(ctx context.Context, userID, status string) ([]models.CampaignGroup, error) {
	q := s.owned(colCampaigns, userID)
	if status != "" {
		q = q.Eq("status", status)
	}
	out := []models.CampaignGroup{}
	err := q.Sort("created_at", false).All(ctx, &out)
	return out, err
}

func (s *Store) Campaign(ctx context.Context, userID, id string) (*models.CampaignGroup, error) {
	var c models.CampaignGroup
	if err := one(ctx, s.owned(colCampaigns, userID).Eq("_id", id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CampaignByID is used by the dialer, which acts for every tenant.
func (s *Store) CampaignByID(ctx context.Context, id string) (*models.CampaignGroup, error) {
	var c models.CampaignGroup
	if err := one(ctx, s.client.NewQuery(colCampaigns).Eq("_id", id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCampaign(ctx context.Context, userID, id string, set bson.M) (*models.CampaignGroup, error) {
	set["updated_at"] = s.now()
	var c models.CampaignGroup
	found, err := s.owned(colCampaigns, userID).Eq("_id", id).FindOneAndUpdate(ctx, bson.M{"$set": set}, &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *Store) DeleteCampaign(ctx context.Context, userID, id string) error {
	if err := s.owned(colCampaigns, userID).Eq("_id", id).DeleteOne(ctx); err != nil {
		return err
	}
	_, err := s.owned(colContacts, userID).Eq("campaign_id", id).Delete(ctx)
	return err
}

// TransitionCampaign moves a campaign to status "to" when its current status
// is one of from. It returns ErrConflict when the campaign exists in another
// status.
func (s *Store) TransitionCampaign(ctx context.Context, userID, id string, from []string, to string) (*models.CampaignGroup, error) {
	now := s.now()
	set := bson.M{"status": to, "updated_at": now}
	switch to {
	case models.CampaignRunning:
		set["started_at"] = now
	case models.CampaignCompleted, models.CampaignCancelled:
		set["completed_at"] = now
	}

	var c models.CampaignGroup
	found, err := s.owned(colCampaigns, userID).Eq("_id", id).In("status", from).
		FindOneAndUpdate(ctx, bson.M{"$set": set}, &c)
	if err != nil {
		return nil, err
	}
	if found {
		return &c, nil
	}
	if _, err := s.Campaign(ctx, userID, id); err != nil {
		return nil, err
	}
	return nil, ErrConflict
}

// RunningCampaigns lists running campaigns across all tenants.
func (s *Store) RunningCampaigns(ctx context.Context) ([]models.CampaignGroup, error) {
	out := []models.CampaignGroup{}
	err := s.client.NewQuery(colCampaigns).Eq("status", models.CampaignRunning).Sort("started_at", true).All(ctx, &out)
	return out, err
}

// CompleteCampaign marks a running campaign completed. It is a no-op for
// campaigns in any other status.
func (s *Store) CompleteCampaign(ctx context.Context, id string) (bool, error) {
	now := s.now()
	var c models.CampaignGroup
	return s.client.NewQuery(colCampaigns).Eq("_id", id).Eq("status", models.CampaignRunning).
		FindOneAndUpdate(ctx, bson.M{"$set": bson.M{
			"status":       models.CampaignCompleted,
			"completed_at": now,
			"updated_at":   now,
		}}, &c)
}

func (s *Store) CampaignStats(ctx context.Context, campaignID string) (models.CampaignStats, error) {
	var st models.CampaignStats
	counts := []struct {
		status string
		dst    *int
	}{
		{models.ContactPending, &st.Pending},
		{models.ContactCalling, &st.Calling},
		{models.ContactCompleted, &st.Completed},
		{models.ContactFailed, &st.Failed},
		{models.ContactSkipped, &st.Skipped},
	}
	for _, c := range counts {
		n, err := s.client.NewQuery(colContacts).Eq("campaign_id", campaignID).Eq("status", c.status).Count(ctx)
		if err != nil {
			return st, err
		}
		*c.dst = int(n)
		st.Total += int(n)
	}
	return st, nil
}
