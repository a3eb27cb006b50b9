package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/pkg/mongo"
)

// CreateUser inserts the user and its profile on the given plan.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, role, fullName, company, plan string) (*models.User, error) {
	now := s.now()
	user := &models.User{
		ID:           NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := s.client.NewQuery(colUsers).Insert(ctx, user); err != nil {
		if mongo.IsDuplicateKey(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	p := models.PlanFor(plan)
	profile := models.Profile{
		UserID:       user.ID,
		FullName:     fullName,
		Company:      company,
		Plan:         p.Name,
		MinutesQuota: p.MinutesQuota,
		PeriodStart:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.client.NewQuery(colProfiles).Insert(ctx, profile); err != nil {
		// keep users and profiles one to one
		_ = s.client.NewQuery(colUsers).Eq("_id", user.ID).DeleteOne(ctx)
		return nil, err
	}
	return user, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := one(ctx, s.client.NewQuery(colUsers).Eq("email", email), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) User(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := one(ctx, s.client.NewQuery(colUsers).Eq("_id", userID), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	n, err := s.client.NewQuery(colUsers).Eq("email", email).Count(ctx)
	return n > 0, err
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.client.NewQuery(colUsers).Eq("_id", userID).UpdateOne(ctx, bson.M{"password_hash": passwordHash})
}

func (s *Store) TouchLogin(ctx context.Context, userID string) error {
	return s.client.NewQuery(colUsers).Eq("_id", userID).UpdateOne(ctx, bson.M{"last_login_at": s.now()})
}

func (s *Store) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := one(ctx, s.client.NewQuery(colProfiles).Eq("_id", userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, set bson.M) (*models.Profile, error) {
	set["updated_at"] = s.now()
	var p models.Profile
	found, err := s.client.NewQuery(colProfiles).Eq("_id", userID).FindOneAndUpdate(ctx, bson.M{"$set": set}, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &p, nil
}

// SetPlan switches plan and quota; usage is kept.
func (s *Store) SetPlan(ctx context.Context, userID, plan string) (*models.Profile, error) {
	p := models.PlanFor(plan)
	return s.UpdateProfile(ctx, userID, bson.M{"plan": p.Name, "minutes_quota": p.MinutesQuota})
}

// AddMinutes adds billed minutes, rolling the usage period over after a month.
func (s *Store) AddMinutes(ctx context.Context, userID string, minutes int) error {
	if minutes <= 0 {
		return nil
	}
	now := s.now()
	q := s.client.NewQuery(colProfiles).Eq("_id", userID)

	// period rollover happens at most once thanks to the period_start guard
	if _, err := s.client.NewQuery(colProfiles).
		Eq("_id", userID).
		Lt("period_start", now.AddDate(0, -1, 0)).
		Update(ctx, bson.M{"minutes_used": 0, "period_start": now}); err != nil {
		return fmt.Errorf("roll usage period: %w", err)
	}

	return q.Apply(ctx, bson.M{
		"$inc": bson.M{"minutes_used": minutes},
		"$set": bson.M{"updated_at": now},
	})
}

// QuotaExhausted reports whether the owner has no minutes left.
func (s *Store) QuotaExhausted(ctx context.Context, userID string) (bool, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return false, err
	}
	if p.PeriodStart.Before(s.now().AddDate(0, -1, 0)) {
		return false, nil
	}
	return p.MinutesRemaining() == 0, nil
}
