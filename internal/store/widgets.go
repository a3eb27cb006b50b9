package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/mongo"
)

func (s *Store) CreateWidget(ctx context.Context, w *models.Widget) error {
	now := s.now()
	if w.ID == "" {
		w.ID = NewID()
	}
	w.CreatedAt, w.UpdatedAt = now, now
	err := s.client.NewQuery(colWidgets).Insert(ctx, w)
	if mongo.IsDuplicateKey(err) {
		return ErrConflict
	}
	return err
}

func (s *Store) ListWidgets(ctx context.Context, userID string) ([]models.Widget, error) {
	out := []models.Widget{}
	err := s.owned(colWidgets, userID).Sort("created_at", false).All(ctx, &out)
	return out, err
}

func (s *Store) Widget(ctx context.Context, userID, id string) (*models.Widget, error) {
	var w models.Widget
	if err := one(ctx, s.owned(colWidgets, userID).Eq("_id", id), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// WidgetForAgent returns the agent's widget for the public embed endpoints.
// An agent has at most one widget.
func (s *Store) WidgetForAgent(ctx context.Context, agentID string) (*models.Widget, error) {
	var w models.Widget
	if err := one(ctx, s.client.NewQuery(colWidgets).Eq("agent_id", agentID), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) UpdateWidget(ctx context.Context, userID, id string, set bson.M) (*models.Widget, error) {
	set["updated_at"] = s.now()
	var w models.Widget
	found, err := s.owned(colWidgets, userID).Eq("_id", id).FindOneAndUpdate(ctx, bson.M{"$set": set}, &w)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (s *Store) DeleteWidget(ctx context.Context, userID, id string) (*models.Widget, error) {
	w, err := s.Widget(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.owned(colWidgets, userID).Eq("_id", id).DeleteOne(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
