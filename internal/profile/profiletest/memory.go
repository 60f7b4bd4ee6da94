// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

// Package profiletest provides in-memory profile storage for tests.
package profiletest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/profilespaces/profilespaces/internal/profile"
)

// Repository is an in-memory profile.Repository.
type Repository struct {
	mu       sync.Mutex
	rows     map[ulid.ULID]profile.Profile
	failures map[string]error
}

var _ profile.Repository = (*Repository)(nil)

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		rows:     make(map[ulid.ULID]profile.Profile),
		failures: make(map[string]error),
	}
}

// Fail makes op (for example "Update") return err until cleared with nil.
func (r *Repository) Fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// Put stores p directly.
func (r *Repository) Put(p profile.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[p.UserID] = clone(p)
}

// Len returns the number of stored profiles.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func clone(p profile.Profile) profile.Profile {
	p.Interests = append([]string(nil), p.Interests...)
	if p.Notifications.PauseUntil != nil {
		t := *p.Notifications.PauseUntil
		p.Notifications.PauseUntil = &t
	}
	return p
}

func (r *Repository) slugTakenLocked(slug string, exclude ulid.ULID) bool {
	if slug == "" {
		return false
	}
	for id, row := range r.rows {
		if id != exclude && strings.EqualFold(row.Slug, slug) {
			return true
		}
	}
	return false
}

// Get implements profile.Repository.
func (r *Repository) Get(_ context.Context, userID ulid.ULID) (*profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures["Get"]; err != nil {
		return nil, err
	}
	row, ok := r.rows[userID]
	if !ok {
		return nil, oops.Code("PROFILE_NOT_FOUND").Wrap(profile.ErrNotFound)
	}
	out := clone(row)
	return &out, nil
}

// Create implements profile.Repository.
func (r *Repository) Create(_ context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures["Create"]; err != nil {
		return err
	}
	if _, exists := r.rows[p.UserID]; exists || r.slugTakenLocked(p.Slug, p.UserID) {
		return oops.Code("PROFILE_CONFLICT").Wrap(profile.ErrConflict)
	}
	r.rows[p.UserID] = clone(*p)
	return nil
}

// Update implements profile.Repository.
func (r *Repository) Update(_ context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures["Update"]; err != nil {
		return err
	}
	row, ok := r.rows[p.UserID]
	if !ok {
		return oops.Code("PROFILE_NOT_FOUND").Wrap(profile.ErrNotFound)
	}
	if r.slugTakenLocked(p.Slug, p.UserID) {
		return oops.Code("PROFILE_CONFLICT").Wrap(profile.ErrConflict)
	}
	next := clone(*p)
	next.PhotoKey = row.PhotoKey
	next.Notifications = row.Notifications
	next.CreatedAt = row.CreatedAt
	r.rows[p.UserID] = next
	return nil
}

// UpdateNotifications implements profile.Repository.
func (r *Repository) UpdateNotifications(_ context.Context, userID ulid.ULID, n profile.Notifications, at time.Time) error {
	return r.mutate("UpdateNotifications", userID, func(p *profile.Profile) {
		p.Notifications = n
		p.UpdatedAt = at
	})
}

// UpdatePhoto implements profile.Repository.
func (r *Repository) UpdatePhoto(_ context.Context, userID ulid.ULID, key string, at time.Time) error {
	return r.mutate("UpdatePhoto", userID, func(p *profile.Profile) {
		p.PhotoKey = key
		p.UpdatedAt = at
	})
}

func (r *Repository) mutate(op string, userID ulid.ULID, apply func(*profile.Profile)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[op]; err != nil {
		return err
	}
	row, ok := r.rows[userID]
	if !ok {
		return oops.Code("PROFILE_NOT_FOUND").Wrap(profile.ErrNotFound)
	}
	apply(&row)
	r.rows[userID] = clone(row)
	return nil
}

// SlugTaken implements profile.Repository.
func (r *Repository) SlugTaken(_ context.Context, slug string, exclude ulid.ULID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures["SlugTaken"]; err != nil {
		return false, err
	}
	return r.slugTakenLocked(slug, exclude), nil
}

// Photos is an in-memory profile.PhotoStore.
type Photos struct {
	mu        sync.Mutex
	objects   map[string][]byte
	saveErr   error
	deleteErr error
}

var _ profile.PhotoStore = (*Photos)(nil)

// NewPhotos creates an empty Photos.
func NewPhotos() *Photos {
	return &Photos{objects: make(map[string][]byte)}
}

// FailSave makes Save return err; nil clears it.
func (p *Photos) FailSave(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saveErr = err
}

// FailDelete makes Delete return err; nil clears it.
func (p *Photos) FailDelete(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteErr = err
}

// Save implements profile.PhotoStore.
func (p *Photos) Save(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	p.objects[key] = buf.Bytes()
	return nil
}

// Delete implements profile.PhotoStore.
func (p *Photos) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.objects, key)
	return nil
}

// URL implements profile.PhotoStore.
func (p *Photos) URL(key string) string {
	return "https://photos.test/" + key
}

// Keys returns the stored object keys.
func (p *Photos) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.objects))
	for k := range p.objects {
		keys = append(keys, k)
	}
	return keys
}

// Object returns the bytes stored under key.
func (p *Photos) Object(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.objects[key]
	return b, ok
}
