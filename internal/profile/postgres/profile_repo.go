// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

// Package postgres stores profiles in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/profilespaces/profilespaces/internal/profile"
	"github.com/profilespaces/profilespaces/internal/store"
)

const profileColumns = `user_id, display_name, profile_slug, status, bio, location, interests, photo_key,
	visibility, theme, show_location, allow_search,
	email_notifications, product_updates, new_follower_alerts, weekly_digest, pause_notifications, pause_until,
	agreed_to_terms_at, created_at, updated_at`

// ProfileRepository implements profile.Repository using PostgreSQL.
type ProfileRepository struct {
	pool store.Querier
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(pool store.Querier) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

var _ profile.Repository = (*ProfileRepository)(nil)

// Get retrieves the profile of userID.
func (r *ProfileRepository) Get(ctx context.Context, userID ulid.ULID) (*profile.Profile, error) {
	var (
		rawID     string
		slug      *string
		interests []byte
		p         profile.Profile
	)
	err := store.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE user_id = $1
	`, userID.String()).Scan(
		&rawID, &p.DisplayName, &slug, &p.Status, &p.Bio, &p.Location, &interests, &p.PhotoKey,
		&p.Visibility, &p.Theme, &p.ShowLocation, &p.AllowSearch,
		&p.Notifications.Email, &p.Notifications.ProductUpdates, &p.Notifications.NewFollowerAlerts,
		&p.Notifications.WeeklyDigest, &p.Notifications.Pause, &p.Notifications.PauseUntil,
		&p.AgreedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PROFILE_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(profile.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PROFILE_GET_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}

	if p.UserID, err = ulid.Parse(rawID); err != nil {
		return nil, oops.Code("INVALID_STORED_ID").With("value", rawID).Wrap(err)
	}
	if slug != nil {
		p.Slug = *slug
	}
	p.Interests = []string{}
	if len(interests) > 0 {
		if err := json.Unmarshal(interests, &p.Interests); err != nil {
			return nil, oops.Code("PROFILE_CORRUPT_INTERESTS").
				With("user_id", userID.String()).
				Wrap(err)
		}
	}
	return &p, nil
}

// Create inserts p. An existing profile for the user or a taken slug yields
// profile.ErrConflict.
func (r *ProfileRepository) Create(ctx context.Context, p *profile.Profile) error {
	interests, err := encodeInterests(p.Interests)
	if err != nil {
		return err
	}
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT DO NOTHING
	`,
		p.UserID.String(), p.DisplayName, nullIfEmpty(p.Slug), p.Status, p.Bio, p.Location, interests, p.PhotoKey,
		p.Visibility, p.Theme, p.ShowLocation, p.AllowSearch,
		p.Notifications.Email, p.Notifications.ProductUpdates, p.Notifications.NewFollowerAlerts,
		p.Notifications.WeeklyDigest, p.Notifications.Pause, p.Notifications.PauseUntil,
		p.AgreedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return oops.Code("PROFILE_CREATE_FAILED").
			With("user_id", p.UserID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("PROFILE_CONFLICT").
			With("user_id", p.UserID.String()).
			With("slug", p.Slug).
			Wrap(profile.ErrConflict)
	}
	return nil
}

// Update writes the editable fields of p.
func (r *ProfileRepository) Update(ctx context.Context, p *profile.Profile) error {
	interests, err := encodeInterests(p.Interests)
	if err != nil {
		return err
	}
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE profiles SET
			display_name = $2, profile_slug = $3, status = $4, bio = $5, location = $6, interests = $7,
			visibility = $8, theme = $9, show_location = $10, allow_search = $11, updated_at = $12
		WHERE user_id = $1
	`,
		p.UserID.String(), p.DisplayName, nullIfEmpty(p.Slug), p.Status, p.Bio, p.Location, interests,
		p.Visibility, p.Theme, p.ShowLocation, p.AllowSearch, p.UpdatedAt,
	)
	return r.checkUpdate(tag, err, "PROFILE_UPDATE_FAILED", p.UserID)
}

// UpdateNotifications writes the notification preferences of userID.
func (r *ProfileRepository) UpdateNotifications(ctx context.Context, userID ulid.ULID, n profile.Notifications, at time.Time) error {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE profiles SET
			email_notifications = $2, product_updates = $3, new_follower_alerts = $4, weekly_digest = $5,
			pause_notifications = $6, pause_until = $7, updated_at = $8
		WHERE user_id = $1
	`, userID.String(), n.Email, n.ProductUpdates, n.NewFollowerAlerts, n.WeeklyDigest, n.Pause, n.PauseUntil, at)
	return r.checkUpdate(tag, err, "NOTIFICATIONS_UPDATE_FAILED", userID)
}

// UpdatePhoto sets the photo object key of userID; "" clears it.
func (r *ProfileRepository) UpdatePhoto(ctx context.Context, userID ulid.ULID, key string, at time.Time) error {
	tag, err := store.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE profiles SET photo_key = $2, updated_at = $3
		WHERE user_id = $1
	`, userID.String(), key, at)
	return r.checkUpdate(tag, err, "PHOTO_UPDATE_FAILED", userID)
}

func (r *ProfileRepository) checkUpdate(tag pgconn.CommandTag, err error, code string, userID ulid.ULID) error {
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("PROFILE_CONFLICT").
				With("user_id", userID.String()).
				Wrap(profile.ErrConflict)
		}
		return oops.Code(code).With("user_id", userID.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("PROFILE_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(profile.ErrNotFound)
	}
	return nil
}

// SlugTaken reports whether a profile other than exclude's uses slug,
// case-insensitively.
func (r *ProfileRepository) SlugTaken(ctx context.Context, slug string, exclude ulid.ULID) (bool, error) {
	var taken bool
	err := store.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM profiles
			WHERE LOWER(profile_slug) = LOWER($1) AND user_id <> $2
		)
	`, slug, exclude.String()).Scan(&taken)
	if err != nil {
		return false, oops.Code("SLUG_CHECK_FAILED").With("slug", slug).Wrap(err)
	}
	return taken, nil
}

func encodeInterests(interests []string) ([]byte, error) {
	if interests == nil {
		interests = []string{}
	}
	b, err := json.Marshal(interests)
	if err != nil {
		return nil, oops.Code("PROFILE_ENCODE_FAILED").Wrap(err)
	}
	return b, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
