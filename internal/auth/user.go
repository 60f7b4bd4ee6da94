// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// User is an account holder.
type User struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var zeroID ulid.ULID

// NewUser creates a User with a fresh ID. The email is lower-cased; username
// case is preserved but uniqueness is case-insensitive.
func NewUser(username, email, firstName, passwordHash string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, oops.Code("USER_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(firstName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserRepository persists users. Lookups by username or email are
// case-insensitive.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByIdentifier finds a user whose username or email matches identifier.
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)

	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
	UpdateEmail(ctx context.Context, id ulid.ULID, email string) error
	UpdateUsername(ctx context.Context, id ulid.ULID, username string) error

	// Delete removes the user. Tokens and profile rows cascade.
	Delete(ctx context.Context, id ulid.ULID) error

	// UsernameTaken and EmailTaken ignore the user with ID exclude; pass the
	// zero ULID to check against everyone.
	UsernameTaken(ctx context.Context, username string, exclude ulid.ULID) (bool, error)
	EmailTaken(ctx context.Context, email string, exclude ulid.ULID) (bool, error)
}
