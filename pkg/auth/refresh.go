package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hallcall/hallcall-api/pkg/mongo"
)

const refreshCollection = "refresh_tokens"

type refreshToken struct {
	UserID     string     `bson:"user_id"`
	TokenHash  string     `bson:"token_hash"`
	ExpiresAt  time.Time  `bson:"expires_at"`
	RevokedAt  *time.Time `bson:"revoked_at"`
	LastUsedAt *time.Time `bson:"last_used_at"`
	CreatedAt  time.Time  `bson:"created_at"`
}

// RefreshStore keeps hashed refresh tokens in MongoDB.
type RefreshStore struct {
	client *mongo.Client
	ttl    time.Duration
}

func NewRefreshStore(client *mongo.Client, ttlDays int) *RefreshStore {
	if ttlDays <= 0 {
		ttlDays = 30
	}
	return &RefreshStore{client: client, ttl: time.Duration(ttlDays) * 24 * time.Hour}
}

// Store saves the hash of token for userID.
func (s *RefreshStore) Store(ctx context.Context, userID, token string) error {
	now := time.Now().UTC()
	return s.client.NewQuery(refreshCollection).Insert(ctx, refreshToken{
		UserID:    userID,
		TokenHash: HashToken(token),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	})
}

// Verify returns the owner of a live token.
func (s *RefreshStore) Verify(ctx context.Context, token string) (string, error) {
	tokenHash := HashToken(token)

	var rt refreshToken
	found, err := s.client.NewQuery(refreshCollection).Eq("token_hash", tokenHash).One(ctx, &rt)
	if err != nil {
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}
	if !found {
		return "", fmt.Errorf("refresh token not found")
	}
	if rt.RevokedAt != nil {
		return "", fmt.Errorf("refresh token has been revoked")
	}
	if time.Now().After(rt.ExpiresAt) {
		return "", fmt.Errorf("refresh token has expired")
	}

	now := time.Now().UTC()
	_ = s.client.NewQuery(refreshCollection).Eq("token_hash", tokenHash).UpdateOne(ctx, map[string]interface{}{
		"last_used_at": now,
	})

	return rt.UserID, nil
}

// Revoke marks a single token revoked.
func (s *RefreshStore) Revoke(ctx context.Context, token string) error {
	err := s.client.NewQuery(refreshCollection).
		Eq("token_hash", HashToken(token)).
		UpdateOne(ctx, map[string]interface{}{"revoked_at": time.Now().UTC()})
	if err == mongo.ErrNotFound {
		return nil
	}
	return err
}

// RevokeAll revokes every live token of a user.
func (s *RefreshStore) RevokeAll(ctx context.Context, userID string) error {
	_, err := s.client.NewQuery(refreshCollection).
		Eq("user_id", userID).
		IsNull("revoked_at").
		Update(ctx, map[string]interface{}{"revoked_at": time.Now().UTC()})
	return err
}

// HashToken returns the hex sha256 of a token.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
