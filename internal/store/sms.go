package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/mongo"
)

func (s *Store) CreateSMSTemplate(ctx context.Context, t *models.SMSTemplate) error {
	now := s.now()
	if t.ID == "" {
		t.ID = NewID()
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return s.client.NewQuery(colSMSTemplates).Insert(ctx, t)
}

func (s *Store) ListSMSTemplates(ctx context.Context, userID string) ([]models.SMSTemplate, error) {
	out := []models.SMSTemplate{}
	err := s.owned(colSMSTemplates, userID).Sort("name", true).All(ctx, &out)
	return out, err
}

func (s *Store) SMSTemplate(ctx context.Context, userID, id string) (*models.SMSTemplate, error) {
	var t models.SMSTemplate
	if err := one(ctx, s.owned(colSMSTemplates, userID).Eq("_id", id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) UpdateSMSTemplate(ctx context.Context, userID, id string, set bson.M) (*models.SMSTemplate, error) {
	set["updated_at"] = s.now()
	var t models.SMSTemplate
	found, err := s.owned(colSMSTemplates, userID).Eq("_id", id).FindOneAndUpdate(ctx, bson.M{"$set": set}, &t)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *Store) DeleteSMSTemplate(ctx context.Context, userID, id string) error {
	return s.owned(colSMSTemplates, userID).Eq("_id", id).DeleteOne(ctx)
}

func (s *Store) InsertSMS(ctx context.Context, m *models.SMSMessage) error {
	now := s.now()
	if m.ID == "" {
		m.ID = NewID()
	}
	m.CreatedAt, m.UpdatedAt = now, now
	return s.client.NewQuery(colSMSHistory).Insert(ctx, m)
}

func (s *Store) ListSMS(ctx context.Context, userID string, skip, limit int64) ([]models.SMSMessage, int64, error) {
	q := func() *mongo.QueryBuilder { return s.owned(colSMSHistory, userID) }
	total, err := q().Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := []models.SMSMessage{}
	err = q().Sort("created_at", false).Skip(skip).Limit(limit).All(ctx, &out)
	return out, total, err
}

// UpdateSMSStatus applies a delivery callback. Unknown SIDs are ignored.
func (s *Store) UpdateSMSStatus(ctx context.Context, twilioSID, status, errMsg string) (bool, error) {
	set := bson.M{"status": status, "updated_at": s.now()}
	if errMsg != "" {
		set["error"] = errMsg
	}
	n, err := s.client.NewQuery(colSMSHistory).Eq("twilio_sid", twilioSID).Update(ctx, set)
	return n > 0, err
}
