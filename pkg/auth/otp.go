package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// OTPPurpose selects which code table a one-time code lives in.
type OTPPurpose string

const (
	PurposeSignup        OTPPurpose = "signup"
	PurposePasswordReset OTPPurpose = "password_reset"

	otpDigits = 6
)

var (
	ErrOTPInvalid = errors.New("invalid verification code")
	ErrOTPExpired = errors.New("verification code has expired")
	ErrOTPLocked  = errors.New("too many attempts, request a new code")
)

// OTPRecord is a stored one-time code. The plain code is never persisted.
type OTPRecord struct {
	ID        string     `bson:"id" json:"id"`
	Email     string     `bson:"email" json:"email"`
	CodeHash  string     `bson:"code_hash" json:"-"`
	ExpiresAt time.Time  `bson:"expires_at" json:"expires_at"`
	UsedAt    *time.Time `bson:"used_at" json:"used_at,omitempty"`
	Attempts  int        `bson:"attempts" json:"attempts"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`

	// signup
	PasswordHash string `bson:"password_hash,omitempty" json:"-"`
	FullName     string `bson:"full_name,omitempty" json:"full_name,omitempty"`
	Company      string `bson:"company,omitempty" json:"company,omitempty"`

	// password reset
	UserID string `bson:"user_id,omitempty" json:"user_id,omitempty"`
}

// OTPStore persists codes. Implementations must make MarkUsed atomic: it
// succeeds for exactly one caller per record.
type OTPStore interface {
	// ReplaceCode drops unused codes for the email and stores rec.
	ReplaceCode(ctx context.Context, purpose OTPPurpose, rec *OTPRecord) error
	// LatestCode returns the newest unused code for the email, or nil.
	LatestCode(ctx context.Context, purpose OTPPurpose, email string) (*OTPRecord, error)
	// ReserveAttempt atomically counts one attempt against an unused record
	// that has fewer than max attempts and returns the updated record. ok is
	// false when no attempt is left.
	ReserveAttempt(ctx context.Context, purpose OTPPurpose, id string, max int) (rec *OTPRecord, ok bool, err error)
	MarkUsed(ctx context.Context, purpose OTPPurpose, id string, at time.Time) (bool, error)
}

// OTPManager issues and verifies 6-digit codes.
type OTPManager struct {
	store       OTPStore
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

func NewOTPManager(store OTPStore, ttl time.Duration, maxAttempts int, newID func() string) *OTPManager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OTPManager{
		store:       store,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         time.Now,
		newID:       newID,
	}
}

// Issue generates a code for rec.Email, stores its hash and returns the plain
// code for delivery. rec carries the purpose specific payload.
func (m *OTPManager) Issue(ctx context.Context, purpose OTPPurpose, rec OTPRecord) (string, error) {
	code, err := GenerateOTP()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}

	now := m.now().UTC()
	rec.ID = m.newID()
	rec.Email = NormalizeEmail(rec.Email)
	rec.CodeHash = string(hash)
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(m.ttl)
	rec.UsedAt = nil
	rec.Attempts = 0

	if err := m.store.ReplaceCode(ctx, purpose, &rec); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	return code, nil
}

// Verify checks code against the newest unused code for email and consumes it.
// Every guess reserves an attempt before the hash is compared, so concurrent
// guesses cannot exceed the attempt cap.
func (m *OTPManager) Verify(ctx context.Context, purpose OTPPurpose, email, code string) (*OTPRecord, error) {
	rec, err := m.store.LatestCode(ctx, purpose, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}
	if rec == nil || rec.UsedAt != nil {
		return nil, ErrOTPInvalid
	}

	now := m.now().UTC()
	if !now.Before(rec.ExpiresAt) {
		return nil, ErrOTPExpired
	}

	reserved, ok, err := m.store.ReserveAttempt(ctx, purpose, rec.ID, m.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	if !ok {
		return nil, ErrOTPLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(reserved.CodeHash), []byte(strings.TrimSpace(code))) != nil {
		if reserved.Attempts >= m.maxAttempts {
			return nil, ErrOTPLocked
		}
		return nil, ErrOTPInvalid
	}

	used, err := m.store.MarkUsed(ctx, purpose, rec.ID, now)
	if err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if !used {
		return nil, ErrOTPInvalid
	}
	reserved.UsedAt = &now
	return reserved, nil
}

// GenerateOTP returns a uniformly random 6-digit code, zero padded.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
