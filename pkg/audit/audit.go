package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/mongo"
)

const Collection = "audit_log"

// Action represents an audit action
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionStart      Action = "start"
	ActionPause      Action = "pause"
	ActionResume     Action = "resume"
	ActionCancel     Action = "cancel"
	ActionLogin      Action = "login"
	ActionLogout     Action = "logout"
	ActionSignup     Action = "signup"
	ActionReset      Action = "password_reset"
	ActionConnect    Action = "connect"
	ActionDisconnect Action = "disconnect"
	ActionPurchase   Action = "purchase"
	ActionRelease    Action = "release"
	ActionSend       Action = "send"
)

type Entry struct {
	UserID       string                 `bson:"user_id" json:"user_id"`
	Action       Action                 `bson:"action" json:"action"`
	ResourceType string                 `bson:"resource_type" json:"resource_type"`
	ResourceID   string                 `bson:"resource_id" json:"resource_id"`
	Metadata     map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt    time.Time              `bson:"created_at" json:"created_at"`
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Action       string
	ResourceType string
	ResourceID   string
}

// Log writes an audit event. Failures are logged and returned but callers
// normally ignore them: the audited action already happened.
func Log(ctx context.Context, client *mongo.Client, userID string, action Action, resourceType, resourceID string, metadata map[string]interface{}) error {
	if client == nil {
		logger.Log.Warn("Audit logging skipped: MongoDB client not available")
		return nil
	}

	entry := Entry{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}

	// detached from the request so a cancelled client does not drop the record
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := client.NewQuery(Collection).Insert(ctx, entry); err != nil {
		logger.Log.Error("Failed to log audit event",
			zap.Error(err),
			zap.String("action", string(action)),
			zap.String("resource_type", resourceType),
		)
		return err
	}
	return nil
}

// List returns a user's audit entries, newest first.
func List(ctx context.Context, client *mongo.Client, userID string, f Filter, skip, limit int64) ([]Entry, int64, error) {
	q := func() *mongo.QueryBuilder {
		b := client.NewQuery(Collection).Eq("user_id", userID)
		if f.Action != "" {
			b = b.Eq("action", f.Action)
		}
		if f.ResourceType != "" {
			b = b.Eq("resource_type", f.ResourceType)
		}
		if f.ResourceID != "" {
			b = b.Eq("resource_id", f.ResourceID)
		}
		return b
	}
	total, err := q().Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := []Entry{}
	err = q().Sort("created_at", false).Skip(skip).Limit(limit).All(ctx, &out)
	return out, total, err
}
