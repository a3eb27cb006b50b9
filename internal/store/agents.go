package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
)

func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	now := s.now()
	if a.ID == "" {
		a.ID = NewID()
	}
	a.CreatedAt, a.UpdatedAt = now, now
	return s.client.NewQuery(colAgents).Insert(ctx, a)
}

func (s *Store) ListAgents(ctx context.Context, userID string) ([]models.Agent, error) {
	agents := []models.Agent{}
	err := s.owned(colAgents, userID).Sort("created_at", false).All(ctx, &agents)
	return agents, err
}

func (s *Store) CountAgents(ctx context.Context, userID string) (int64, error) {
	return s.owned(colAgents, userID).Count(ctx)
}

func (s *Store) Agent(ctx context.Context, userID, id string) (*models.Agent, error) {
	var a models.Agent
	if err := one(ctx, s.owned(colAgents, userID).Eq("_id", id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PublicAgent looks an agent up without tenant scoping. Only public
// surfaces keyed by agent ID (widget, tool webhooks) use it.
func (s *Store) PublicAgent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	if err := one(ctx, s.client.NewQuery(colAgents).Eq("_id", id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) AgentByVendorID(ctx context.Context, vendorAgentID string) (*models.Agent, error) {
	var a models.Agent
	if err := one(ctx, s.client.NewQuery(colAgents).Eq("vendor_agent_id", vendorAgentID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) UpdateAgent(ctx context.Context, userID, id string, set bson.M) (*models.Agent, error) {
	set["updated_at"] = s.now()
	var a models.Agent
	found, err := s.owned(colAgents, userID).Eq("_id", id).FindOneAndUpdate(ctx, bson.M{"$set": set}, &a)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &a, nil
}

// DeleteAgent removes the agent with its documents and widgets.
func (s *Store) DeleteAgent(ctx context.Context, userID, id string) error {
	if err := s.owned(colAgents, userID).Eq("_id", id).DeleteOne(ctx); err != nil {
		return err
	}
	if _, err := s.owned(colKnowledge, userID).Eq("agent_id", id).Delete(ctx); err != nil {
		return err
	}
	_, err := s.owned(colWidgets, userID).Eq("agent_id", id).Delete(ctx)
	return err
}
