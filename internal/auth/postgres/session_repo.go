// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package postgres

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/internal/store"
)

// SessionTokenRepository implements auth.SessionTokenRepository using PostgreSQL.
type SessionTokenRepository struct {
	pool store.Querier
}

// NewSessionTokenRepository creates a new SessionTokenRepository.
func NewSessionTokenRepository(pool store.Querier) *SessionTokenRepository {
	return &SessionTokenRepository{pool: pool}
}

// Create stores a new session. A taken key hash yields auth.ErrConflict.
func (r *SessionTokenRepository) Create(ctx context.Context, session *auth.SessionToken) error {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO session_tokens (id, user_id, key_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_hash) DO NOTHING
	`,
		session.ID.String(),
		session.UserID.String(),
		session.KeyHash,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session_token").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_KEY_CONFLICT").Wrap(auth.ErrConflict)
	}
	return nil
}

// KeyHashExists reports whether any session holds keyHash.
func (r *SessionTokenRepository) KeyHashExists(ctx context.Context, keyHash string) (bool, error) {
	var exists bool
	err := store.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM session_tokens WHERE key_hash = $1)
	`, keyHash).Scan(&exists)
	if err != nil {
		return false, oops.Code("SESSION_LOOKUP_FAILED").
			With("operation", "check key hash").
			Wrap(err)
	}
	return exists, nil
}

// GetByKeyHash retrieves a session and its owner by key hash.
func (r *SessionTokenRepository) GetByKeyHash(ctx context.Context, keyHash string) (*auth.SessionToken, error) {
	var (
		idStr     string
		userIDStr string
		hash      string
		expiresAt *time.Time
		createdAt time.Time
		owner     userRow
	)
	dest := append([]any{&idStr, &userIDStr, &hash, &expiresAt, &createdAt}, owner.dest()...)
	err := store.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT s.id, s.user_id, s.key_hash, s.expires_at, s.created_at, `+userColumns+`
		FROM session_tokens s
		JOIN users u ON u.id = s.user_id
		WHERE s.key_hash = $1
	`, keyHash).Scan(dest...)
	if isNoRows(err) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_KEY_FAILED").
			With("operation", "get session by key hash").
			Wrap(err)
	}

	id, err := parseID("session id", idStr)
	if err != nil {
		return nil, err
	}
	userID, err := parseID("session user id", userIDStr)
	if err != nil {
		return nil, err
	}
	user, err := owner.build()
	if err != nil {
		return nil, err
	}
	return &auth.SessionToken{
		ID:        id,
		KeyHash:   hash,
		UserID:    userID,
		Owner:     user,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// UpdateExpiry sets a new expiry; nil means the session never expires.
func (r *SessionTokenRepository) UpdateExpiry(ctx context.Context, id ulid.ULID, expiresAt *time.Time) error {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE session_tokens SET expires_at = $2
		WHERE id = $1
	`, id.String(), expiresAt)
	if err != nil {
		return oops.Code("SESSION_UPDATE_EXPIRY_FAILED").
			With("operation", "update expires_at").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a session by ID. A missing session is not an error.
func (r *SessionTokenRepository) Delete(ctx context.Context, id ulid.ULID) error {
	_, err := store.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM session_tokens WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session_token").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// DeleteByUser removes all sessions for a user.
func (r *SessionTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM session_tokens WHERE user_id = $1`, userID.String())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete session_tokens by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes sessions whose expiry is at or before now.
func (r *SessionTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM session_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired session_tokens").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.SessionTokenRepository = (*SessionTokenRepository)(nil)
