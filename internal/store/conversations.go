package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/mongo"
)

// SaveConversation upserts a conversation by vendor ID and replaces its
// transcript. created reports whether the row is new, so minutes are only
// billed once per conversation.
func (s *Store) SaveConversation(ctx context.Context, c *models.Conversation, messages []models.Message) (created bool, err error) {
	now := s.now()

	var existing models.Conversation
	found, err := s.client.NewQuery(colConversations).Eq("vendor_conversation_id", c.VendorConversationID).One(ctx, &existing)
	if err != nil {
		return false, err
	}
	if found {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		if c.MinutesBilled < existing.MinutesBilled {
			c.MinutesBilled = existing.MinutesBilled
		}
	} else {
		if c.ID == "" {
			c.ID = NewID()
		}
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	err = s.client.NewQuery(colConversations).Eq("vendor_conversation_id", c.VendorConversationID).Upsert(ctx, bson.M{
		"user_id":             c.UserID,
		"agent_id":            c.AgentID,
		"status":              c.Status,
		"started_at":          c.StartedAt,
		"duration_secs":       c.DurationSecs,
		"summary":             c.Summary,
		"successful":          c.Successful,
		"caller_number":       c.CallerNumber,
		"campaign_id":         c.CampaignID,
		"campaign_contact_id": c.CampaignContactID,
		"minutes_billed":      c.MinutesBilled,
		"updated_at":          c.UpdatedAt,
	}, bson.M{"_id": c.ID, "created_at": c.CreatedAt})
	if err != nil {
		return false, err
	}

	if len(messages) > 0 {
		if _, err := s.client.NewQuery(colMessages).Eq("conversation_id", c.ID).Delete(ctx); err != nil {
			return false, err
		}
		docs := make([]interface{}, 0, len(messages))
		for i := range messages {
			m := messages[i]
			m.ID = NewID()
			m.UserID = c.UserID
			m.ConversationID = c.ID
			m.Seq = i
			docs = append(docs, m)
		}
		if _, err := s.client.NewQuery(colMessages).InsertMany(ctx, docs); err != nil {
			return false, err
		}
	}
	return !found, nil
}

// MarkBilled records minutes billed for a conversation.
func (s *Store) MarkBilled(ctx context.Context, conversationID string, minutes int) error {
	return s.client.NewQuery(colConversations).Eq("_id", conversationID).UpdateOne(ctx, bson.M{"minutes_billed": minutes})
}

func (s *Store) ListConversations(ctx context.Context, userID, agentID string, skip, limit int64) ([]models.Conversation, int64, error) {
	q := func() *mongo.QueryBuilder {
		b := s.owned(colConversations, userID)
		if agentID != "" {
			b = b.Eq("agent_id", agentID)
		}
		return b
	}
	total, err := q().Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	convs := []models.Conversation{}
	err = q().Sort("started_at", false).Skip(skip).Limit(limit).All(ctx, &convs)
	return convs, total, err
}

func (s *Store) Conversation(ctx context.Context, userID, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := one(ctx, s.owned(colConversations, userID).Eq("_id", id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) Messages(ctx context.Context, userID, conversationID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.owned(colMessages, userID).Eq("conversation_id", conversationID).Sort("seq", true).All(ctx, &msgs)
	return msgs, err
}
