// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package httpapi

import (
	"time"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/internal/profile"
)

type userBody struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	Status        string   `json:"status"`
	Bio           string   `json:"bio"`
	Location      string   `json:"location"`
	Interests     []string `json:"interests"`
	ProfileURL    string   `json:"profile_url"`
	PhotoURL      string   `json:"photo_url"`
	Visibility    string   `json:"visibility"`
	Theme         string   `json:"theme"`
	ShowLocation  bool     `json:"show_location"`
	AllowSearch   bool     `json:"allow_search"`
	AgreedToTerms bool     `json:"agreed_to_terms"`
}

type profileBody struct {
	DisplayName  string   `json:"display_name"`
	Username     string   `json:"username"`
	ProfileURL   string   `json:"profile_url"`
	Status       string   `json:"status"`
	Bio          string   `json:"bio"`
	Location     string   `json:"location"`
	Interests    []string `json:"interests"`
	PhotoURL     string   `json:"photo_url"`
	Visibility   string   `json:"visibility"`
	Theme        string   `json:"theme"`
	ShowLocation bool     `json:"show_location"`
	AllowSearch  bool     `json:"allow_search"`
	UpdatedAt    string   `json:"updated_at"`
}

type notificationsBody struct {
	EmailNotifications bool    `json:"email_notifications"`
	ProductUpdates     bool    `json:"product_updates"`
	NewFollowerAlerts  bool    `json:"new_follower_alerts"`
	WeeklyDigest       bool    `json:"weekly_digest"`
	PauseNotifications string  `json:"pause_notifications"`
	PauseUntil         *string `json:"pause_until"`
}

type sessionBody struct {
	Token     string   `json:"token"`
	ExpiresAt *string  `json:"expires_at"`
	User      userBody `json:"user"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

func interestsOf(p *profile.Profile) []string {
	if p.Interests == nil {
		return []string{}
	}
	return p.Interests
}

func (a *API) userBody(u *auth.User, p *profile.Profile) userBody {
	return userBody{
		ID:            u.ID.String(),
		Name:          p.DisplayName,
		Username:      u.Username,
		Email:         u.Email,
		Status:        p.Status,
		Bio:           p.Bio,
		Location:      p.Location,
		Interests:     interestsOf(p),
		ProfileURL:    p.Slug,
		PhotoURL:      a.profiles.PhotoURL(p),
		Visibility:    p.Visibility,
		Theme:         p.Theme,
		ShowLocation:  p.ShowLocation,
		AllowSearch:   p.AllowSearch,
		AgreedToTerms: p.AgreedAt != nil,
	}
}

func (a *API) profileBody(u *auth.User, p *profile.Profile) profileBody {
	return profileBody{
		DisplayName:  p.DisplayName,
		Username:     u.Username,
		ProfileURL:   p.Slug,
		Status:       p.Status,
		Bio:          p.Bio,
		Location:     p.Location,
		Interests:    interestsOf(p),
		PhotoURL:     a.profiles.PhotoURL(p),
		Visibility:   p.Visibility,
		Theme:        p.Theme,
		ShowLocation: p.ShowLocation,
		AllowSearch:  p.AllowSearch,
		UpdatedAt:    timestamp(p.UpdatedAt),
	}
}

func notificationsOf(p *profile.Profile) notificationsBody {
	n := p.Notifications
	return notificationsBody{
		EmailNotifications: n.Email,
		ProductUpdates:     n.ProductUpdates,
		NewFollowerAlerts:  n.NewFollowerAlerts,
		WeeklyDigest:       n.WeeklyDigest,
		PauseNotifications: n.Pause,
		PauseUntil:         optionalTimestamp(n.PauseUntil),
	}
}
