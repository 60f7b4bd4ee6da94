// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/pkg/errutil"
)

// ServiceConfig holds dependencies for Service. Photos may be nil, which
// disables photo uploads. MaxPhotoBytes defaults to MaxPhotoBytes.
type ServiceConfig struct {
	Profiles      Repository
	Accounts      Accounts
	Tx            auth.Transactor
	Photos        PhotoStore
	MaxPhotoBytes int64
	Now           func() time.Time
	Logger        *slog.Logger
}

// Service reads and edits profiles.
type Service struct {
	profiles Repository
	accounts Accounts
	tx       auth.Transactor
	photos   PhotoStore
	maxPhoto int64
	now      func() time.Time
	logger   *slog.Logger
}

var _ auth.ProfileInitializer = (*Service)(nil)

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Profiles == nil:
		return nil, oops.Code("PROFILE_INVALID_CONFIG").Errorf("profile repository is required")
	case cfg.Accounts == nil:
		return nil, oops.Code("PROFILE_INVALID_CONFIG").Errorf("account repository is required")
	case cfg.Tx == nil:
		return nil, oops.Code("PROFILE_INVALID_CONFIG").Errorf("transactor is required")
	}
	s := &Service{
		profiles: cfg.Profiles,
		accounts: cfg.Accounts,
		tx:       cfg.Tx,
		photos:   cfg.Photos,
		maxPhoto: cfg.MaxPhotoBytes,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if s.maxPhoto <= 0 {
		s.maxPhoto = MaxPhotoBytes
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// GetOrCreate returns the user's profile, creating it with defaults when
// missing.
func (s *Service) GetOrCreate(ctx context.Context, user *auth.User) (*Profile, error) {
	p, err := s.profiles.Get(ctx, user.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("PROFILE_LOAD_FAILED").With("user_id", user.ID.String()).Wrap(err)
	}
	return s.create(ctx, Defaults(user, s.now()))
}

// create inserts p. When the insert conflicts, either a concurrent request
// created the row or the slug belongs to someone else; the latter retries
// without a slug.
func (s *Service) create(ctx context.Context, p *Profile) (*Profile, error) {
	err := s.profiles.Create(ctx, p)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, oops.Code("PROFILE_CREATE_FAILED").With("user_id", p.UserID.String()).Wrap(err)
	}
	existing, getErr := s.profiles.Get(ctx, p.UserID)
	if getErr == nil {
		return existing, nil
	}
	if !errors.Is(getErr, ErrNotFound) {
		return nil, oops.Code("PROFILE_CREATE_FAILED").With("user_id", p.UserID.String()).Wrap(getErr)
	}
	p.Slug = ""
	if err := s.profiles.Create(ctx, p); err != nil {
		return nil, oops.Code("PROFILE_CREATE_FAILED").With("user_id", p.UserID.String()).Wrap(err)
	}
	return p, nil
}

// InitProfile creates the profile of a user who just signed up.
func (s *Service) InitProfile(ctx context.Context, user *auth.User, init auth.ProfileInit) error {
	p := Defaults(user, s.now())
	if name := strings.TrimSpace(init.DisplayName); name != "" {
		p.DisplayName = name
	}
	p.Status = init.Status
	p.Bio = init.Bio
	p.Location = init.Location
	if init.Interests != nil {
		p.Interests = init.Interests
	}
	p.AgreedAt = init.AgreedAt
	_, err := s.create(ctx, p)
	return err
}

// Update is an edit of the profile settings form. Empty Username keeps the
// current username, empty Slug follows the username, empty Visibility and
// Theme keep the current values. Nil Interests and nil flags keep the
// current values.
type Update struct {
	DisplayName  string
	Username     string
	Slug         string
	Status       string
	Bio          string
	Location     string
	Interests    []string
	Visibility   string
	Theme        string
	ShowLocation *bool
	AllowSearch  *bool
}

// Update validates and applies in. A username change and the profile write
// commit together. Input problems come back as *auth.ValidationError.
func (s *Service) Update(ctx context.Context, user *auth.User, in Update) (*Profile, *auth.User, error) {
	current, err := s.GetOrCreate(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	display := strings.TrimSpace(in.DisplayName)
	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = user.Username
	}
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = username
	}
	status := strings.TrimSpace(in.Status)
	bio := strings.TrimSpace(in.Bio)
	location := strings.TrimSpace(in.Location)
	visibility := strings.ToLower(strings.TrimSpace(in.Visibility))
	if visibility == "" {
		visibility = current.Visibility
	}
	theme := strings.ToLower(strings.TrimSpace(in.Theme))
	if theme == "" {
		theme = current.Theme
	}
	if theme == "" {
		theme = ThemeSystem
	}
	showLocation := current.ShowLocation
	if in.ShowLocation != nil {
		showLocation = *in.ShowLocation
	}
	allowSearch := current.AllowSearch
	if in.AllowSearch != nil {
		allowSearch = *in.AllowSearch
	}

	var v auth.ValidationError
	switch n := utf8.RuneCountInString(display); {
	case n == 0:
		v.Add("display_name", "Display name is required.")
	case n < auth.MinNameLength:
		v.Add("display_name", fmt.Sprintf("Display name must be at least %d characters.", auth.MinNameLength))
	case n > MaxDisplayNameLength:
		v.Add("display_name", "Display name is too long.")
	}

	if msg := auth.ValidateHandle(username, "Username"); msg != "" {
		v.Add("username", msg)
	} else if taken, err := s.accounts.UsernameTaken(ctx, username, user.ID); err != nil {
		return nil, nil, oops.Code("PROFILE_UPDATE_FAILED").With("operation", "check username").Wrap(err)
	} else if taken {
		v.Add("username", "This username is already taken.")
	}

	if msg := auth.ValidateHandle(slug, "Profile URL"); msg != "" {
		if strings.Contains(msg, "Use 3-30") {
			msg = "Profile URL must match username rules."
		}
		v.Add("profile_url", msg)
	} else if taken, err := s.profiles.SlugTaken(ctx, slug, user.ID); err != nil {
		return nil, nil, oops.Code("PROFILE_UPDATE_FAILED").With("operation", "check profile url").Wrap(err)
	} else if taken {
		v.Add("profile_url", "This URL is not available.")
	}

	auth.ValidateProfileText(&v, status, bio, location, in.Interests)
	if visibility != VisibilityPublic && visibility != VisibilityPrivate {
		v.Add("visibility", "Visibility must be public or private.")
	}
	if theme != ThemeSystem && theme != ThemeDark && theme != ThemeLight {
		v.Add("theme", "Theme must be system, dark, or light.")
	}
	if err := v.Err(); err != nil {
		return nil, nil, err
	}

	interests := current.Interests
	if in.Interests != nil {
		interests = auth.CleanInterests(in.Interests)
	}
	if len(interests) > auth.MaxInterests {
		interests = interests[:auth.MaxInterests]
	}

	next := *current
	next.DisplayName = display
	next.Slug = slug
	next.Status = status
	next.Bio = bio
	next.Location = location
	next.Interests = interests
	next.Visibility = visibility
	next.Theme = theme
	next.ShowLocation = showLocation && location != ""
	next.AllowSearch = allowSearch
	next.UpdatedAt = s.now()

	updatedUser := *user
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if username != user.Username {
			if err := s.accounts.UpdateUsername(ctx, user.ID, username); err != nil {
				if errors.Is(err, auth.ErrConflict) {
					return &auth.ValidationError{Fields: map[string]string{"username": "This username is already taken."}}
				}
				return oops.Code("PROFILE_UPDATE_FAILED").With("operation", "update username").Wrap(err)
			}
			updatedUser.Username = username
			updatedUser.UpdatedAt = next.UpdatedAt
		}
		if err := s.profiles.Update(ctx, &next); err != nil {
			if errors.Is(err, ErrConflict) {
				return &auth.ValidationError{Fields: map[string]string{"profile_url": "This URL is not available."}}
			}
			return oops.Code("PROFILE_UPDATE_FAILED").With("operation", "update profile").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &next, &updatedUser, nil
}

// NotificationsUpdate is a partial edit of notification preferences; nil
// fields are left alone.
type NotificationsUpdate struct {
	Email             *bool
	ProductUpdates    *bool
	NewFollowerAlerts *bool
	WeeklyDigest      *bool
	Pause             *string
}

// UpdateNotifications applies in. Pausing for a day or a week sets
// PauseUntil relative to now; turning the pause off clears it.
func (s *Service) UpdateNotifications(ctx context.Context, user *auth.User, in NotificationsUpdate) (*Profile, error) {
	current, err := s.GetOrCreate(ctx, user)
	if err != nil {
		return nil, err
	}

	n := current.Notifications
	changed := false
	for _, f := range []struct {
		in  *bool
		out *bool
	}{
		{in.Email, &n.Email},
		{in.ProductUpdates, &n.ProductUpdates},
		{in.NewFollowerAlerts, &n.NewFollowerAlerts},
		{in.WeeklyDigest, &n.WeeklyDigest},
	} {
		if f.in != nil {
			*f.out = *f.in
			changed = true
		}
	}

	now := s.now()
	if in.Pause != nil {
		pause := strings.ToLower(strings.TrimSpace(*in.Pause))
		var until *time.Time
		switch pause {
		case PauseOff:
		case PauseDay:
			t := now.Add(24 * time.Hour)
			until = &t
		case PauseWeek:
			t := now.Add(7 * 24 * time.Hour)
			until = &t
		default:
			return nil, &auth.ValidationError{Fields: map[string]string{
				"pause_notifications": "Pause must be off, day, or week.",
			}}
		}
		n.Pause = pause
		n.PauseUntil = until
		changed = true
	}
	if !changed {
		return current, nil
	}

	if err := s.profiles.UpdateNotifications(ctx, user.ID, n, now); err != nil {
		return nil, oops.Code("NOTIFICATIONS_UPDATE_FAILED").With("user_id", user.ID.String()).Wrap(err)
	}
	next := *current
	next.Notifications = n
	next.UpdatedAt = now
	return &next, nil
}

// Availability answers a handle availability check.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
}

// UsernameAvailable reports whether user could switch to username.
func (s *Service) UsernameAvailable(ctx context.Context, user *auth.User, username string) (Availability, error) {
	username = strings.TrimSpace(username)
	if msg := auth.ValidateHandle(username, "Username"); msg != "" {
		return Availability{Reason: msg}, nil
	}
	taken, err := s.accounts.UsernameTaken(ctx, username, user.ID)
	if err != nil {
		return Availability{}, oops.Code("USERNAME_CHECK_FAILED").Wrap(err)
	}
	if taken {
		return Availability{Reason: "This username is already taken."}, nil
	}
	return Availability{Available: true}, nil
}

// SlugAvailable reports whether user could claim slug as profile URL.
func (s *Service) SlugAvailable(ctx context.Context, user *auth.User, slug string) (Availability, error) {
	slug = strings.TrimSpace(slug)
	if msg := auth.ValidateHandle(slug, "Profile URL"); msg != "" {
		return Availability{Reason: msg}, nil
	}
	taken, err := s.profiles.SlugTaken(ctx, slug, user.ID)
	if err != nil {
		return Availability{}, oops.Code("SLUG_CHECK_FAILED").Wrap(err)
	}
	if taken {
		return Availability{Reason: "This URL is not available."}, nil
	}
	return Availability{Available: true}, nil
}

// MaxPhotoBytes returns the upload size limit.
func (s *Service) MaxPhotoBytes() int64 {
	return s.maxPhoto
}

// PhotosEnabled reports whether a photo store is configured.
func (s *Service) PhotosEnabled() bool {
	return s.photos != nil
}

// PhotoURL returns the public URL of p's photo, or "" when it has none.
func (s *Service) PhotoURL(p *Profile) string {
	if p == nil || p.PhotoKey == "" || s.photos == nil {
		return ""
	}
	return s.photos.URL(p.PhotoKey)
}

// SetPhoto stores up as the user's photo. The previous object is removed
// once the profile points at the new one.
func (s *Service) SetPhoto(ctx context.Context, user *auth.User, up Upload) (*Profile, error) {
	if s.photos == nil {
		return nil, oops.Code(CodePhotoStorageDisabled).Errorf("photo storage is not configured")
	}
	if err := checkUpload(up, s.maxPhoto); err != nil {
		return nil, err
	}
	current, err := s.GetOrCreate(ctx, user)
	if err != nil {
		return nil, err
	}

	key, err := PhotoKey(user.ID, up.Filename)
	if err != nil {
		return nil, err
	}
	if err := s.photos.Save(ctx, key, up.ContentType, up.Body, up.Size); err != nil {
		return nil, oops.Code("PHOTO_SAVE_FAILED").With("key", key).Wrap(err)
	}
	now := s.now()
	if err := s.profiles.UpdatePhoto(ctx, user.ID, key, now); err != nil {
		s.discard(ctx, key)
		return nil, oops.Code("PHOTO_SAVE_FAILED").With("operation", "update profile").Wrap(err)
	}
	if old := current.PhotoKey; old != "" && old != key {
		s.discard(ctx, old)
	}

	next := *current
	next.PhotoKey = key
	next.UpdatedAt = now
	s.logger.InfoContext(ctx, "profile photo updated", "user_id", user.ID.String(), "key", key)
	return &next, nil
}

// RemovePhoto clears the user's photo and deletes the stored object.
func (s *Service) RemovePhoto(ctx context.Context, user *auth.User) (*Profile, error) {
	if s.photos == nil {
		return nil, oops.Code(CodePhotoStorageDisabled).Errorf("photo storage is not configured")
	}
	current, err := s.GetOrCreate(ctx, user)
	if err != nil {
		return nil, err
	}
	if current.PhotoKey == "" {
		return current, nil
	}
	now := s.now()
	if err := s.profiles.UpdatePhoto(ctx, user.ID, "", now); err != nil {
		return nil, oops.Code("PHOTO_DELETE_FAILED").With("user_id", user.ID.String()).Wrap(err)
	}
	s.discard(ctx, current.PhotoKey)

	next := *current
	next.PhotoKey = ""
	next.UpdatedAt = now
	return &next, nil
}

// DiscardPhoto deletes a stored photo object that no profile references any
// more. Failures are logged.
func (s *Service) DiscardPhoto(ctx context.Context, key string) {
	if key == "" || s.photos == nil {
		return
	}
	s.discard(ctx, key)
}

func (s *Service) discard(ctx context.Context, key string) {
	if err := s.photos.Delete(ctx, key); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "delete photo object", oops.With("key", key).Wrap(err))
	}
}
