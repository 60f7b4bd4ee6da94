// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package postgres

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/internal/store"
)

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool store.Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool store.Querier) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user. A case-insensitive username or email clash
// yields auth.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, first_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`,
		user.ID.String(),
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_CONFLICT").
			With("username", user.Username).
			Wrap(auth.ErrConflict)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	var row userRow
	err := store.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE u.id = $1
	`, id.String()).Scan(row.dest()...)
	if isNoRows(err) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return row.build()
}

// GetByIdentifier retrieves a user whose username or email matches
// identifier, case-insensitively. A username match wins.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	var row userRow
	err := store.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE LOWER(u.username) = LOWER($1) OR LOWER(u.email) = LOWER($1)
		ORDER BY LOWER(u.username) = LOWER($1) DESC
		LIMIT 1
	`, identifier).Scan(row.dest()...)
	if isNoRows(err) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_IDENTIFIER_FAILED").
			With("operation", "get user by identifier").
			Wrap(err)
	}
	return row.build()
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(ctx, "password_hash", id, passwordHash)
}

// UpdateEmail sets a new email. A clash with another account yields
// auth.ErrConflict.
func (r *UserRepository) UpdateEmail(ctx context.Context, id ulid.ULID, email string) error {
	return r.update(ctx, "email", id, email)
}

// UpdateUsername sets a new username. A clash with another account yields
// auth.ErrConflict.
func (r *UserRepository) UpdateUsername(ctx context.Context, id ulid.ULID, username string) error {
	return r.update(ctx, "username", id, username)
}

// update sets one column; column is always a literal from this file.
func (r *UserRepository) update(ctx context.Context, column string, id ulid.ULID, value string) error {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET `+column+` = $2, updated_at = NOW()
		WHERE id = $1
	`, id.String(), value)
	if isUniqueViolation(err) {
		return oops.Code("USER_CONFLICT").
			With("column", column).
			With("id", id.String()).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update "+column).
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a user. Tokens and the profile cascade.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UsernameTaken reports whether a user other than exclude holds username.
func (r *UserRepository) UsernameTaken(ctx context.Context, username string, exclude ulid.ULID) (bool, error) {
	return r.taken(ctx, "username", username, exclude)
}

// EmailTaken reports whether a user other than exclude holds email.
func (r *UserRepository) EmailTaken(ctx context.Context, email string, exclude ulid.ULID) (bool, error) {
	return r.taken(ctx, "email", email, exclude)
}

func (r *UserRepository) taken(ctx context.Context, column, value string, exclude ulid.ULID) (bool, error) {
	var taken bool
	err := store.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE LOWER(`+column+`) = LOWER($1) AND id <> $2
		)
	`, value, exclude.String()).Scan(&taken)
	if err != nil {
		return false, oops.Code("USER_LOOKUP_FAILED").
			With("operation", "check "+column+" taken").
			Wrap(err)
	}
	return taken, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
