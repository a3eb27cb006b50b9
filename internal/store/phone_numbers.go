package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/mongo"
)

func (s *Store) CreatePhoneNumber(ctx context.Context, p *models.PhoneNumber) error {
	now := s.now()
	if p.ID == "" {
		p.ID = NewID()
	}
	p.CreatedAt, p.UpdatedAt = now, now
	err := s.client.NewQuery(colPhoneNumbers).Insert(ctx, p)
	if mongo.IsDuplicateKey(err) {
		return ErrConflict
	}
	return err
}

func (s *Store) ListPhoneNumbers(ctx context.Context, userID string) ([]models.PhoneNumber, error) {
	out := []models.PhoneNumber{}
	err := s.owned(colPhoneNumbers, userID).Sort("created_at", false).All(ctx, &out)
	return out, err
}

func (s *Store) PhoneNumber(ctx context.Context, userID, id string) (*models.PhoneNumber, error) {
	var p models.PhoneNumber
	if err := one(ctx, s.owned(colPhoneNumbers, userID).Eq("_id", id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PhoneNumberByNumber(ctx context.Context, userID, number string) (*models.PhoneNumber, error) {
	var p models.PhoneNumber
	if err := one(ctx, s.owned(colPhoneNumbers, userID).Eq("number", number), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) AssignPhoneNumber(ctx context.Context, userID, id, agentID string) (*models.PhoneNumber, error) {
	var p models.PhoneNumber
	found, err := s.owned(colPhoneNumbers, userID).Eq("_id", id).
		FindOneAndUpdate(ctx, bson.M{"$set": bson.M{"agent_id": agentID, "updated_at": s.now()}}, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *Store) DeletePhoneNumber(ctx context.Context, userID, id string) error {
	return s.owned(colPhoneNumbers, userID).Eq("_id", id).DeleteOne(ctx)
}
