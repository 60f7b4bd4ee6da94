// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

// Package profile manages the public profile and notification preferences
// attached to each account.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/profilespaces/profilespaces/internal/auth"
)

// Sentinel errors reported by repositories.
var (
	ErrNotFound = errors.New("profile not found")
	ErrConflict = errors.New("profile conflict")
)

// Visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Theme values.
const (
	ThemeSystem = "system"
	ThemeDark   = "dark"
	ThemeLight  = "light"
)

// Pause values for notifications.
const (
	PauseOff  = "off"
	PauseDay  = "day"
	PauseWeek = "week"
)

// MaxDisplayNameLength bounds Profile.DisplayName.
const MaxDisplayNameLength = 150

// Notifications are the per-user delivery preferences.
type Notifications struct {
	Email             bool
	ProductUpdates    bool
	NewFollowerAlerts bool
	WeeklyDigest      bool
	Pause             string
	PauseUntil        *time.Time
}

// DefaultNotifications returns the preferences of a new profile.
func DefaultNotifications() Notifications {
	return Notifications{
		Email:          true,
		ProductUpdates: true,
		Pause:          PauseOff,
	}
}

// Profile is the public face of an account. Slug is empty when the account
// has no profile URL.
type Profile struct {
	UserID        ulid.ULID
	DisplayName   string
	Slug          string
	Status        string
	Bio           string
	Location      string
	Interests     []string
	PhotoKey      string
	Visibility    string
	Theme         string
	ShowLocation  bool
	AllowSearch   bool
	Notifications Notifications
	AgreedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Defaults builds the profile a user gets when none exists yet.
func Defaults(user *auth.User, now time.Time) *Profile {
	name := user.FirstName
	if name == "" {
		name = user.Username
	}
	return &Profile{
		UserID:        user.ID,
		DisplayName:   name,
		Slug:          user.Username,
		Interests:     []string{},
		Visibility:    VisibilityPublic,
		Theme:         ThemeSystem,
		Notifications: DefaultNotifications(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Repository persists profiles. Slug uniqueness is case-insensitive.
type Repository interface {
	Get(ctx context.Context, userID ulid.ULID) (*Profile, error)

	// Create inserts p. An existing row for the user or a taken slug yields
	// ErrConflict.
	Create(ctx context.Context, p *Profile) error

	// Update writes the editable profile fields. A taken slug yields ErrConflict.
	Update(ctx context.Context, p *Profile) error

	UpdateNotifications(ctx context.Context, userID ulid.ULID, n Notifications, at time.Time) error
	UpdatePhoto(ctx context.Context, userID ulid.ULID, key string, at time.Time) error

	// SlugTaken ignores the profile of exclude; pass the zero ULID to check
	// against everyone.
	SlugTaken(ctx context.Context, slug string, exclude ulid.ULID) (bool, error)
}

// Accounts is the slice of the user store the profile service needs.
type Accounts interface {
	UsernameTaken(ctx context.Context, username string, exclude ulid.ULID) (bool, error)
	UpdateUsername(ctx context.Context, id ulid.ULID, username string) error
}
