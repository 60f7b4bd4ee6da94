// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/profilespaces/profilespaces/internal/auth"
)

const userColumns = `u.id, u.username, u.email, u.password_hash, u.first_name, u.created_at, u.updated_at`

// userRow holds the scan targets for userColumns.
type userRow struct {
	id, username, email, passwordHash, firstName string
	createdAt, updatedAt                         time.Time
}

func (u *userRow) dest() []any {
	return []any{&u.id, &u.username, &u.email, &u.passwordHash, &u.firstName, &u.createdAt, &u.updatedAt}
}

func (u *userRow) build() (*auth.User, error) {
	id, err := parseID("user id", u.id)
	if err != nil {
		return nil, err
	}
	return &auth.User{
		ID:           id,
		Username:     u.username,
		Email:        u.email,
		PasswordHash: u.passwordHash,
		FirstName:    u.firstName,
		CreatedAt:    u.createdAt,
		UpdatedAt:    u.updatedAt,
	}, nil
}

func parseID(field, raw string) (ulid.ULID, error) {
	id, err := ulid.Parse(raw)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_STORED_ID").
			With("field", field).
			With("value", raw).
			Wrap(err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
