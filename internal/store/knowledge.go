package store

import (
	"context"

	"github.com/hallcall/hallcall-api/internal/models"
)

func (s *Store) AddDocument(ctx context.Context, d *models.KnowledgeDocument) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	d.CreatedAt = s.now()
	return s.client.NewQuery(colKnowledge).Insert(ctx, d)
}

func (s *Store) ListDocuments(ctx context.Context, userID, agentID string) ([]models.KnowledgeDocument, error) {
	docs := []models.KnowledgeDocument{}
	err := s.owned(colKnowledge, userID).Eq("agent_id", agentID).Sort("created_at", true).All(ctx, &docs)
	return docs, err
}

func (s *Store) Document(ctx context.Context, userID, agentID, id string) (*models.KnowledgeDocument, error) {
	var d models.KnowledgeDocument
	if err := one(ctx, s.owned(colKnowledge, userID).Eq("agent_id", agentID).Eq("_id", id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) DeleteDocument(ctx context.Context, userID, agentID, id string) error {
	return s.owned(colKnowledge, userID).Eq("agent_id", agentID).Eq("_id", id).DeleteOne(ctx)
}
