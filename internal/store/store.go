// Package store is the persistence layer. Every method that acts for a
// caller takes the caller's user ID and filters on it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hallcall/hallcall-api/pkg/mongo"
)

const (
	colUsers         = "users"
	colProfiles      = "profiles"
	colAgents        = "agents"
	colKnowledge     = "knowledge_documents"
	colConversations = "conversations"
	colMessages      = "messages"
	colCampaigns     = "campaign_groups"
	colContacts      = "contacts"
	colPhoneNumbers  = "phone_numbers"
	colWidgets       = "widgets"
	colIntegrations  = "integrations"
	colSMSTemplates  = "sms_templates"
	colSMSHistory    = "sms_history"
	colSignupCodes   = "signup_verification_codes"
	colResetCodes    = "password_reset_codes"
	colAppointments  = "appointments"
)

var (
	ErrNotFound   = mongo.ErrNotFound
	ErrEmailTaken = errors.New("email already registered")
	ErrConflict   = errors.New("resource already exists")
)

type Store struct {
	client *mongo.Client
	now    func() time.Time
}

func New(client *mongo.Client) *Store {
	return &Store{client: client, now: func() time.Time { return time.Now().UTC() }}
}

// Client exposes the underlying connection for audit logging.
func (s *Store) Client() *mongo.Client { return s.client }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func NewID() string { return uuid.NewString() }

func (s *Store) owned(collection, userID string) *mongo.QueryBuilder {
	return s.client.NewQuery(collection).Eq("user_id", userID)
}

// one decodes a single document, mapping "no match" to ErrNotFound.
func one(ctx context.Context, q *mongo.QueryBuilder, out interface{}) error {
	found, err := q.One(ctx, out)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func Indexes() []mongo.Index {
	return []mongo.Index{
		{Collection: colUsers, Keys: []string{"email"}, Unique: true},
		{Collection: colAgents, Keys: []string{"user_id", "-created_at"}},
		{Collection: colAgents, Keys: []string{"vendor_agent_id"}},
		{Collection: colKnowledge, Keys: []string{"user_id", "agent_id"}},
		{Collection: colConversations, Keys: []string{"user_id", "-started_at"}},
		{Collection: colConversations, Keys: []string{"vendor_conversation_id"}, Unique: true},
		{Collection: colMessages, Keys: []string{"conversation_id", "seq"}},
		{Collection: colCampaigns, Keys: []string{"user_id", "-created_at"}},
		{Collection: colCampaigns, Keys: []string{"status"}},
		{Collection: colContacts, Keys: []string{"campaign_id", "phone"}, Unique: true},
		{Collection: colContacts, Keys: []string{"campaign_id", "status", "next_attempt_at"}},
		{Collection: colPhoneNumbers, Keys: []string{"number"}, Unique: true},
		{Collection: colPhoneNumbers, Keys: []string{"user_id"}},
		{Collection: colWidgets, Keys: []string{"agent_id"}, Unique: true},
		{Collection: colWidgets, Keys: []string{"user_id"}},
		{Collection: colIntegrations, Keys: []string{"user_id", "provider"}, Unique: true},
		{Collection: colSMSTemplates, Keys: []string{"user_id"}},
		{Collection: colSMSHistory, Keys: []string{"user_id", "-created_at"}},
		{Collection: colSMSHistory, Keys: []string{"twilio_sid"}},
		{Collection: colSignupCodes, Keys: []string{"email", "-created_at"}},
		{Collection: colSignupCodes, Keys: []string{"expires_at"}, TTL: 24 * time.Hour},
		{Collection: colResetCodes, Keys: []string{"email", "-created_at"}},
		{Collection: colResetCodes, Keys: []string{"expires_at"}, TTL: 24 * time.Hour},
		{Collection: colAppointments, Keys: []string{"user_id", "provider", "external_id"}, Unique: true},
		{Collection: colAppointments, Keys: []string{"user_id", "start"}},
		{Collection: "refresh_tokens", Keys: []string{"token_hash"}, Unique: true},
		{Collection: "refresh_tokens", Keys: []string{"expires_at"}, TTL: time.Hour},
		{Collection: "audit_log", Keys: []string{"user_id", "-created_at"}},
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	return s.client.EnsureIndexes(ctx, Indexes())
}
