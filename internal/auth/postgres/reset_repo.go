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

// PasswordResetTokenRepository implements auth.PasswordResetTokenRepository
// using PostgreSQL.
type PasswordResetTokenRepository struct {
	pool store.Querier
}

// NewPasswordResetTokenRepository creates a new PasswordResetTokenRepository.
func NewPasswordResetTokenRepository(pool store.Querier) *PasswordResetTokenRepository {
	return &PasswordResetTokenRepository{pool: pool}
}

// Create stores a new reset token. A taken key hash yields auth.ErrConflict.
func (r *PasswordResetTokenRepository) Create(ctx context.Context, token *auth.PasswordResetToken) error {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, key_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_hash) DO NOTHING
	`,
		token.ID.String(),
		token.UserID.String(),
		token.KeyHash,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password_reset_token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("RESET_KEY_CONFLICT").Wrap(auth.ErrConflict)
	}
	return nil
}

// KeyHashExists reports whether any reset token holds keyHash.
func (r *PasswordResetTokenRepository) KeyHashExists(ctx context.Context, keyHash string) (bool, error) {
	var exists bool
	err := store.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM password_reset_tokens WHERE key_hash = $1)
	`, keyHash).Scan(&exists)
	if err != nil {
		return false, oops.Code("RESET_LOOKUP_FAILED").
			With("operation", "check key hash").
			Wrap(err)
	}
	return exists, nil
}

// GetByKeyHash retrieves a reset token and its owner by key hash.
func (r *PasswordResetTokenRepository) GetByKeyHash(ctx context.Context, keyHash string) (*auth.PasswordResetToken, error) {
	var (
		idStr     string
		userIDStr string
		hash      string
		expiresAt time.Time
		usedAt    *time.Time
		createdAt time.Time
		owner     userRow
	)
	dest := append([]any{&idStr, &userIDStr, &hash, &expiresAt, &usedAt, &createdAt}, owner.dest()...)
	err := store.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT t.id, t.user_id, t.key_hash, t.expires_at, t.used_at, t.created_at, `+userColumns+`
		FROM password_reset_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.key_hash = $1
	`, keyHash).Scan(dest...)
	if isNoRows(err) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_BY_KEY_FAILED").
			With("operation", "get reset token by key hash").
			Wrap(err)
	}

	id, err := parseID("reset id", idStr)
	if err != nil {
		return nil, err
	}
	userID, err := parseID("reset user id", userIDStr)
	if err != nil {
		return nil, err
	}
	user, err := owner.build()
	if err != nil {
		return nil, err
	}
	return &auth.PasswordResetToken{
		ID:        id,
		KeyHash:   hash,
		UserID:    userID,
		Owner:     user,
		ExpiresAt: expiresAt,
		UsedAt:    usedAt,
		CreatedAt: createdAt,
	}, nil
}

// MarkUsed stamps an unused token. Only one of several concurrent callers
// can succeed; the rest get auth.ErrResetTokenUsed.
func (r *PasswordResetTokenRepository) MarkUsed(ctx context.Context, id ulid.ULID, at time.Time) error {
	conn := store.Conn(ctx, r.pool)
	tag, err := conn.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`, id.String(), at)
	if err != nil {
		return oops.Code("RESET_MARK_USED_FAILED").
			With("operation", "mark reset token used").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM password_reset_tokens WHERE id = $1)
	`, id.String()).Scan(&exists)
	if err != nil {
		return oops.Code("RESET_MARK_USED_FAILED").
			With("operation", "check reset token exists").
			With("id", id.String()).
			Wrap(err)
	}
	if !exists {
		return oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return oops.Code("RESET_ALREADY_USED").With("id", id.String()).Wrap(auth.ErrResetTokenUsed)
}

// DeleteUnusedByUser removes the user's unused tokens.
func (r *PasswordResetTokenRepository) DeleteUnusedByUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM password_reset_tokens WHERE user_id = $1 AND used_at IS NULL
	`, userID.String())
	if err != nil {
		return 0, oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete unused reset tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// InvalidateAllUnused marks the user's unused tokens as used at at, sparing
// except when it is non-nil.
func (r *PasswordResetTokenRepository) InvalidateAllUnused(
	ctx context.Context, userID ulid.ULID, except *ulid.ULID, at time.Time,
) (int64, error) {
	var exceptID *string
	if except != nil {
		s := except.String()
		exceptID = &s
	}
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = $2
		WHERE user_id = $1 AND used_at IS NULL AND ($3::text IS NULL OR id <> $3)
	`, userID.String(), at, exceptID)
	if err != nil {
		return 0, oops.Code("RESET_INVALIDATE_FAILED").
			With("operation", "invalidate unused reset tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a reset token by ID. A missing token is not an error.
func (r *PasswordResetTokenRepository) Delete(ctx context.Context, id ulid.ULID) error {
	_, err := store.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM password_reset_tokens WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete reset token").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// DeleteByUser removes all reset tokens for a user.
func (r *PasswordResetTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM password_reset_tokens WHERE user_id = $1
	`, userID.String())
	if err != nil {
		return 0, oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete reset tokens by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes tokens whose expiry is at or before now.
func (r *PasswordResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM password_reset_tokens WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired reset tokens").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.PasswordResetTokenRepository = (*PasswordResetTokenRepository)(nil)
