// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package httpapi

import (
	"errors"
	"net/http"

	"github.com/profilespaces/profilespaces/internal/profile"
)

// multipartOverhead is allowed on top of the photo limit for form framing.
const multipartOverhead = 64 * 1024

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	user := principal(r).User
	prof, err := a.profiles.GetOrCreate(r.Context(), user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, map[string]profileBody{"profile": a.profileBody(user, prof)})
}

type profileUpdateBody struct {
	Profile profileBody `json:"profile"`
	User    userBody    `json:"user"`
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := a.readPayload(w, r)
	if !ok {
		return
	}
	in := profile.Update{
		DisplayName:  p.trimmed("display_name", "name"),
		Username:     p.trimmed("username"),
		Slug:         p.trimmed("profile_url", "profile_slug", "slug"),
		Status:       p.trimmed("status"),
		Bio:          p.trimmed("bio"),
		Location:     p.trimmed("location"),
		Visibility:   p.trimmed("visibility"),
		Theme:        p.trimmed("theme"),
		ShowLocation: p.flag("show_location", "showLocation"),
		AllowSearch:  p.flag("allow_search", "allowSearch"),
	}
	if interests, present := p.list("interests"); present {
		in.Interests = interests
	}

	prof, user, err := a.profiles.Update(r.Context(), principal(r).User, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, profileUpdateBody{
		Profile: a.profileBody(user, prof),
		User:    a.userBody(user, prof),
	})
}

func (a *API) usernameAvailability(w http.ResponseWriter, r *http.Request) {
	res, err := a.profiles.UsernameAvailable(r.Context(), principal(r).User, r.URL.Query().Get("username"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, res)
}

func (a *API) slugAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slug := q.Get("profile_url")
	if slug == "" {
		slug = q.Get("slug")
	}
	res, err := a.profiles.SlugAvailable(r.Context(), principal(r).User, slug)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, res)
}

type photoBody struct {
	PhotoURL string `json:"photo_url"`
}

func (a *API) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	if !a.profiles.PhotosEnabled() {
		a.writeDetail(w, r, http.StatusServiceUnavailable, "Photo uploads are not available.")
		return
	}
	limit := a.profiles.MaxPhotoBytes()
	if r.ContentLength > limit+multipartOverhead {
		a.photoTooLarge(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.photoTooLarge(w, r)
			return
		}
		a.writeDetail(w, r, http.StatusBadRequest, "No photo uploaded.")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("photo")
	if err != nil {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		a.writeDetail(w, r, http.StatusBadRequest, "No photo uploaded.")
		return
	}
	defer func() { _ = file.Close() }()

	user := principal(r).User
	prof, err := a.profiles.SetPhoto(r.Context(), user, profile.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, photoBody{PhotoURL: a.profiles.PhotoURL(prof)})
}

func (a *API) deletePhoto(w http.ResponseWriter, r *http.Request) {
	if _, err := a.profiles.RemovePhoto(r.Context(), principal(r).User); err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, photoBody{})
}

func (a *API) getNotifications(w http.ResponseWriter, r *http.Request) {
	prof, err := a.profiles.GetOrCreate(r.Context(), principal(r).User)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, map[string]notificationsBody{"notifications": notificationsOf(prof)})
}

func (a *API) updateNotifications(w http.ResponseWriter, r *http.Request) {
	p, ok := a.readPayload(w, r)
	if !ok {
		return
	}
	prof, err := a.profiles.UpdateNotifications(r.Context(), principal(r).User, profile.NotificationsUpdate{
		Email:             p.flag("email_notifications", "emailNotifications"),
		ProductUpdates:    p.flag("product_updates", "productUpdates"),
		NewFollowerAlerts: p.flag("new_follower_alerts", "newFollowerAlerts"),
		WeeklyDigest:      p.flag("weekly_digest", "weeklyDigest"),
		Pause:             p.text("pause_notifications", "pauseNotifications", "pause"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, map[string]notificationsBody{"notifications": notificationsOf(prof)})
}
