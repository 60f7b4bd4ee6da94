// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Default session lifetimes.
const (
	DefaultRememberTTL       = 30 * 24 * time.Hour
	DefaultShortTTL          = 24 * time.Hour
	DefaultRememberThreshold = 48 * time.Hour
)

// SessionToken is a server-side session record. The plaintext key is never
// stored; KeyHash is its SHA-256 digest.
type SessionToken struct {
	ID      ulid.ULID
	KeyHash string
	UserID  ulid.ULID
	// Owner is populated by GetByKeyHash.
	Owner *User
	// ExpiresAt is nil only when expiry is disabled.
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// NewSessionToken creates a validated SessionToken.
func NewSessionToken(userID ulid.ULID, keyHash string, expiresAt *time.Time, now time.Time) (*SessionToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if keyHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("key hash cannot be empty")
	}
	return &SessionToken{
		ID:        ulid.Make(),
		KeyHash:   keyHash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// IsExpiredAt reports whether the token is expired at t. A token is already
// expired at the instant of its expiry.
func (s *SessionToken) IsExpiredAt(t time.Time) bool {
	return s.ExpiresAt != nil && !t.Before(*s.ExpiresAt)
}

// SessionPolicy decides session lifetimes.
type SessionPolicy struct {
	RememberTTL time.Duration
	ShortTTL    time.Duration
	// RememberThreshold is the remaining lifetime above which an existing
	// session is treated as remembered.
	RememberThreshold time.Duration
	// DisableExpiry issues sessions that never expire.
	DisableExpiry bool
}

// DefaultSessionPolicy returns 30 day remembered sessions, 1 day short ones
// and a 2 day inference threshold.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		RememberTTL:       DefaultRememberTTL,
		ShortTTL:          DefaultShortTTL,
		RememberThreshold: DefaultRememberThreshold,
	}
}

// Validate rejects policies that could issue already-expired sessions or
// make inference ambiguous.
func (p SessionPolicy) Validate() error {
	if p.ShortTTL <= 0 || p.RememberTTL <= 0 {
		return oops.Code("SESSION_POLICY_INVALID").Errorf("session lifetimes must be positive")
	}
	if p.RememberThreshold < p.ShortTTL || p.RememberThreshold >= p.RememberTTL {
		return oops.Code("SESSION_POLICY_INVALID").
			With("short_ttl", p.ShortTTL).
			With("remember_ttl", p.RememberTTL).
			With("threshold", p.RememberThreshold).
			Errorf("remember threshold must lie between the short and remembered lifetimes")
	}
	return nil
}

// Lifetime returns the session duration for the remember choice.
func (p SessionPolicy) Lifetime(remember bool) time.Duration {
	if remember {
		return p.RememberTTL
	}
	return p.ShortTTL
}

// ExpiryAt returns the expiry for a session issued or refreshed at now.
func (p SessionPolicy) ExpiryAt(now time.Time, remember bool) *time.Time {
	if p.DisableExpiry {
		return nil
	}
	exp := now.Add(p.Lifetime(remember))
	return &exp
}

// InferRemember reports whether an existing session looks remembered: more
// than RememberThreshold of lifetime left at now. Tokens without an expiry
// are treated as not remembered.
func (p SessionPolicy) InferRemember(s *SessionToken, now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return s.ExpiresAt.Sub(now) > p.RememberThreshold
}

// IssuedSession is the result of issuing a session. Key is the plaintext
// bearer key; it is not recoverable later.
type IssuedSession struct {
	Key       string
	ExpiresAt *time.Time
	Session   *SessionToken
	User      *User
}

// SessionTokenRepository manages session persistence.
type SessionTokenRepository interface {
	// Create stores a new session. Returns ErrConflict when the key hash is taken.
	Create(ctx context.Context, session *SessionToken) error

	// KeyHashExists reports whether any session holds hash.
	KeyHashExists(ctx context.Context, keyHash string) (bool, error)

	// GetByKeyHash returns the session with Owner loaded, or ErrNotFound.
	GetByKeyHash(ctx context.Context, keyHash string) (*SessionToken, error)

	// UpdateExpiry sets a new expiry. Returns ErrNotFound if the session is gone.
	UpdateExpiry(ctx context.Context, id ulid.ULID, expiresAt *time.Time) error

	// Delete removes one session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByUser removes every session of a user and returns how many went.
	DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error)

	// DeleteExpired removes sessions expired at now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
