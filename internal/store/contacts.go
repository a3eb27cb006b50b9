package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/mongo"
)

// AddContacts inserts contacts into a campaign. Phones already present in
// the campaign are skipped by the unique (campaign_id, phone) index.
func (s *Store) AddContacts(ctx context.Context, userID, campaignID string, contacts []models.Contact) (int, error) {
	now := s.now()
	docs := make([]interface{}, 0, len(contacts))
	for i := range contacts {
		c := contacts[i]
		c.ID = NewID()
		c.UserID = userID
		c.CampaignID = campaignID
		c.Status = models.ContactPending
		c.CreatedAt, c.UpdatedAt = now, now
		docs = append(docs, c)
	}
	return s.client.NewQuery(colContacts).InsertMany(ctx, docs)
}

func (s *Store) ListContacts(ctx context.Context, userID, campaignID, status string, skip, limit int64) ([]models.Contact, int64, error) {
	q := func() *mongo.QueryBuilder {
		b := s.owned(colContacts, userID).Eq("campaign_id", campaignID)
		if status != "" {
			b = b.Eq("status", status)
		}
		return b
	}
	total, err := q().Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := []models.Contact{}
	err = q().Sort("created_at", true).Skip(skip).Limit(limit).All(ctx, &out)
	return out, total, err
}

func (s *Store) DeleteContact(ctx context.Context, userID, campaignID, id string) error {
	return s.owned(colContacts, userID).Eq("campaign_id", campaignID).Eq("_id", id).DeleteOne(ctx)
}

func (s *Store) ContactByID(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	if err := one(ctx, s.client.NewQuery(colContacts).Eq("_id", id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DueContacts returns pending contacts whose next attempt is due.
func (s *Store) DueContacts(ctx context.Context, campaignID string, now time.Time, limit int64) ([]models.Contact, error) {
	out := []models.Contact{}
	err := s.client.NewQuery(colContacts).
		Eq("campaign_id", campaignID).
		Eq("status", models.ContactPending).
		Or(bson.M{"next_attempt_at": nil}, bson.M{"next_attempt_at": bson.M{"$lte": now}}).
		Sort("created_at", true).
		Limit(limit).
		All(ctx, &out)
	return out, err
}

func (s *Store) CountContacts(ctx context.Context, campaignID string, statuses ...string) (int64, error) {
	return s.client.NewQuery(colContacts).Eq("campaign_id", campaignID).In("status", statuses).Count(ctx)
}

// ClaimContact atomically moves a pending contact to calling and counts the
// attempt. ok is false when another worker got there first.
func (s *Store) ClaimContact(ctx context.Context, id string) (*models.Contact, bool, error) {
	now := s.now()
	var c models.Contact
	found, err := s.client.NewQuery(colContacts).Eq("_id", id).Eq("status", models.ContactPending).
		FindOneAndUpdate(ctx, bson.M{
			"$set": bson.M{"status": models.ContactCalling, "last_attempt_at": now, "updated_at": now, "last_error": ""},
			"$inc": bson.M{"attempts": 1},
		}, &c)
	if err != nil || !found {
		return nil, false, err
	}
	return &c, true, nil
}

// SettleContact records the outcome of a call. Only contacts in calling are
// updated so a late duplicate outcome cannot reopen a finished contact.
func (s *Store) SettleContact(ctx context.Context, id string, set bson.M) (*models.Contact, bool, error) {
	set["updated_at"] = s.now()
	var c models.Contact
	found, err := s.client.NewQuery(colContacts).Eq("_id", id).Eq("status", models.ContactCalling).
		FindOneAndUpdate(ctx, bson.M{"$set": set}, &c)
	if err != nil || !found {
		return nil, false, err
	}
	return &c, true, nil
}

// StaleCalling lists contacts stuck in calling since before cutoff.
func (s *Store) StaleCalling(ctx context.Context, campaignID string, cutoff time.Time) ([]models.Contact, error) {
	out := []models.Contact{}
	err := s.client.NewQuery(colContacts).
		Eq("campaign_id", campaignID).
		Eq("status", models.ContactCalling).
		Lt("last_attempt_at", cutoff).
		All(ctx, &out)
	return out, err
}

// SkipPending marks every pending contact skipped, used when a campaign is cancelled.
func (s *Store) SkipPending(ctx context.Context, campaignID string) (int64, error) {
	return s.client.NewQuery(colContacts).Eq("campaign_id", campaignID).Eq("status", models.ContactPending).
		Update(ctx, bson.M{"status": models.ContactSkipped, "updated_at": s.now()})
}

// AttachConversation links the vendor conversation placed for a contact.
func (s *Store) AttachConversation(ctx context.Context, contactID, conversationID string) error {
	return s.client.NewQuery(colContacts).Eq("_id", contactID).
		UpdateOne(ctx, bson.M{"conversation_id": conversationID, "updated_at": s.now()})
}
