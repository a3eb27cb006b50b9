package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hallcall/hallcall-api/pkg/auth"
)

// OTPStore keeps signup and password reset codes in their own collections.
type OTPStore struct {
	s *Store
}

func (s *Store) OTP() *OTPStore { return &OTPStore{s: s} }

var _ auth.OTPStore = (*OTPStore)(nil)

func otpCollection(purpose auth.OTPPurpose) string {
	if purpose == auth.PurposePasswordReset {
		return colResetCodes
	}
	return colSignupCodes
}

func (o *OTPStore) ReplaceCode(ctx context.Context, purpose auth.OTPPurpose, rec *auth.OTPRecord) error {
	coll := otpCollection(purpose)
	if _, err := o.s.client.NewQuery(coll).Eq("email", rec.Email).IsNull("used_at").Delete(ctx); err != nil {
		return err
	}
	return o.s.client.NewQuery(coll).Insert(ctx, rec)
}

func (o *OTPStore) LatestCode(ctx context.Context, purpose auth.OTPPurpose, email string) (*auth.OTPRecord, error) {
	var rec auth.OTPRecord
	found, err := o.s.client.NewQuery(otpCollection(purpose)).
		Eq("email", email).
		IsNull("used_at").
		Sort("created_at", false).
		One(ctx, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// ReserveAttempt increments attempts only while the code is unused and under
// the cap, so each concurrent guess consumes exactly one attempt.
func (o *OTPStore) ReserveAttempt(ctx context.Context, purpose auth.OTPPurpose, id string, max int) (*auth.OTPRecord, bool, error) {
	var rec auth.OTPRecord
	found, err := o.s.client.NewQuery(otpCollection(purpose)).
		Eq("id", id).
		IsNull("used_at").
		Lt("attempts", max).
		FindOneAndUpdate(ctx, bson.M{"$inc": bson.M{"attempts": 1}}, &rec)
	if err != nil || !found {
		return nil, false, err
	}
	return &rec, true, nil
}

// MarkUsed only matches an unused row, so concurrent verifications of the
// same code see exactly one success.
func (o *OTPStore) MarkUsed(ctx context.Context, purpose auth.OTPPurpose, id string, at time.Time) (bool, error) {
	var rec auth.OTPRecord
	return o.s.client.NewQuery(otpCollection(purpose)).
		Eq("id", id).
		IsNull("used_at").
		FindOneAndUpdate(ctx, bson.M{"$set": bson.M{"used_at": at}}, &rec)
}
