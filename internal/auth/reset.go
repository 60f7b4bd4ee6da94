// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultResetTTL is how long a password-reset key stays redeemable.
const DefaultResetTTL = time.Hour

// PasswordResetToken is a single-use credential for setting a new password.
type PasswordResetToken struct {
	ID        ulid.ULID
	KeyHash   string
	UserID    ulid.ULID
	Owner     *User
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// NewPasswordResetToken creates a validated PasswordResetToken.
func NewPasswordResetToken(userID ulid.ULID, keyHash string, expiresAt, now time.Time) (*PasswordResetToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if keyHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("key hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	return &PasswordResetToken{
		ID:        ulid.Make(),
		KeyHash:   keyHash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// IsExpiredAt reports whether the token is expired at t, equality included.
func (r *PasswordResetToken) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// IsUsed reports whether the token has been redeemed or invalidated.
func (r *PasswordResetToken) IsUsed() bool {
	return r.UsedAt != nil
}

// PasswordResetTokenRepository manages reset-token persistence.
type PasswordResetTokenRepository interface {
	// Create stores a token. Returns ErrConflict when the key hash is taken.
	Create(ctx context.Context, token *PasswordResetToken) error

	KeyHashExists(ctx context.Context, keyHash string) (bool, error)

	// GetByKeyHash returns the token with Owner loaded, or ErrNotFound.
	GetByKeyHash(ctx context.Context, keyHash string) (*PasswordResetToken, error)

	// MarkUsed stamps an unused token. Returns ErrResetTokenUsed when the
	// token is already used and ErrNotFound when it does not exist.
	MarkUsed(ctx context.Context, id ulid.ULID, at time.Time) error

	// DeleteUnusedByUser removes the user's unused tokens.
	DeleteUnusedByUser(ctx context.Context, userID ulid.ULID) (int64, error)

	// InvalidateAllUnused marks every unused token of the user as used,
	// except the one with ID except when it is non-nil.
	InvalidateAllUnused(ctx context.Context, userID ulid.ULID, except *ulid.ULID, at time.Time) (int64, error)

	Delete(ctx context.Context, id ulid.ULID) error
	DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error)

	// DeleteExpired removes tokens expired at now, used or not.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResetRequest carries a freshly issued reset key. It is the zero value when
// the identifier matched no account.
type ResetRequest struct {
	Key       string
	ExpiresAt time.Time
}

// Issued reports whether a key was created.
func (r ResetRequest) Issued() bool {
	return r.Key != ""
}

// ResetDelivery hands a reset key to its owner out of band.
type ResetDelivery interface {
	DeliverReset(ctx context.Context, user *User, req ResetRequest) error
}

// LogDelivery records that a reset was issued without writing the key.
type LogDelivery struct {
	Logger *slog.Logger
}

// DeliverReset implements ResetDelivery.
func (d LogDelivery) DeliverReset(ctx context.Context, user *User, req ResetRequest) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "password reset issued",
		"user_id", user.ID.String(),
		"expires_at", req.ExpiresAt)
	return nil
}
