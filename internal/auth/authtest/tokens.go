// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package authtest

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/profilespaces/profilespaces/internal/auth"
)

// Sessions implements auth.SessionTokenRepository over a Store.
type Sessions Store

var _ auth.SessionTokenRepository = (*Sessions)(nil)

func (r *Sessions) store() *Store { return (*Store)(r) }

// Create implements auth.SessionTokenRepository.
func (r *Sessions) Create(_ context.Context, t *auth.SessionToken) error {
	s := r.store()
	if err := s.begin("sessions.Create"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.users[t.UserID]; !ok {
		return auth.ErrNotFound
	}
	for _, existing := range s.sessions {
		if existing.KeyHash == t.KeyHash {
			return auth.ErrConflict
		}
	}
	stored := *t
	stored.Owner = nil
	s.sessions[t.ID] = stored
	return nil
}

// KeyHashExists implements auth.SessionTokenRepository.
func (r *Sessions) KeyHashExists(_ context.Context, hash string) (bool, error) {
	s := r.store()
	if err := s.begin("sessions.KeyHashExists"); err != nil {
		s.mu.Unlock()
		return false, err
	}
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.KeyHash == hash {
			return true, nil
		}
	}
	return false, nil
}

// GetByKeyHash implements auth.SessionTokenRepository.
func (r *Sessions) GetByKeyHash(_ context.Context, hash string) (*auth.SessionToken, error) {
	s := r.store()
	if err := s.begin("sessions.GetByKeyHash"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.KeyHash == hash {
			found := existing
			found.Owner = s.ownerCopy(found.UserID)
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

// UpdateExpiry implements auth.SessionTokenRepository.
func (r *Sessions) UpdateExpiry(_ context.Context, id ulid.ULID, expiresAt *time.Time) error {
	s := r.store()
	if err := s.begin("sessions.UpdateExpiry"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	existing, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	existing.ExpiresAt = expiresAt
	s.sessions[id] = existing
	return nil
}

// Delete implements auth.SessionTokenRepository.
func (r *Sessions) Delete(_ context.Context, id ulid.ULID) error {
	s := r.store()
	if err := s.begin("sessions.Delete"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteByUser implements auth.SessionTokenRepository.
func (r *Sessions) DeleteByUser(_ context.Context, userID ulid.ULID) (int64, error) {
	s := r.store()
	if err := s.begin("sessions.DeleteByUser"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.sessions {
		if t.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpired implements auth.SessionTokenRepository.
func (r *Sessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s := r.store()
	if err := s.begin("sessions.DeleteExpired"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.sessions {
		if t.IsExpiredAt(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Resets implements auth.PasswordResetTokenRepository over a Store.
type Resets Store

var _ auth.PasswordResetTokenRepository = (*Resets)(nil)

func (r *Resets) store() *Store { return (*Store)(r) }

// Create implements auth.PasswordResetTokenRepository.
func (r *Resets) Create(_ context.Context, t *auth.PasswordResetToken) error {
	s := r.store()
	if err := s.begin("resets.Create"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.users[t.UserID]; !ok {
		return auth.ErrNotFound
	}
	for _, existing := range s.resets {
		if existing.KeyHash == t.KeyHash {
			return auth.ErrConflict
		}
	}
	stored := *t
	stored.Owner = nil
	s.resets[t.ID] = stored
	return nil
}

// KeyHashExists implements auth.PasswordResetTokenRepository.
func (r *Resets) KeyHashExists(_ context.Context, hash string) (bool, error) {
	s := r.store()
	if err := s.begin("resets.KeyHashExists"); err != nil {
		s.mu.Unlock()
		return false, err
	}
	defer s.mu.Unlock()
	for _, existing := range s.resets {
		if existing.KeyHash == hash {
			return true, nil
		}
	}
	return false, nil
}

// GetByKeyHash implements auth.PasswordResetTokenRepository.
func (r *Resets) GetByKeyHash(_ context.Context, hash string) (*auth.PasswordResetToken, error) {
	s := r.store()
	if err := s.begin("resets.GetByKeyHash"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	for _, existing := range s.resets {
		if existing.KeyHash == hash {
			found := existing
			found.Owner = s.ownerCopy(found.UserID)
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

// MarkUsed implements auth.PasswordResetTokenRepository.
func (r *Resets) MarkUsed(_ context.Context, id ulid.ULID, at time.Time) error {
	s := r.store()
	if err := s.begin("resets.MarkUsed"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	existing, ok := s.resets[id]
	if !ok {
		return auth.ErrNotFound
	}
	if existing.UsedAt != nil {
		return auth.ErrResetTokenUsed
	}
	existing.UsedAt = &at
	s.resets[id] = existing
	return nil
}

// DeleteUnusedByUser implements auth.PasswordResetTokenRepository.
func (r *Resets) DeleteUnusedByUser(_ context.Context, userID ulid.ULID) (int64, error) {
	s := r.store()
	if err := s.begin("resets.DeleteUnusedByUser"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.resets {
		if t.UserID == userID && t.UsedAt == nil {
			delete(s.resets, id)
			n++
		}
	}
	return n, nil
}

// InvalidateAllUnused implements auth.PasswordResetTokenRepository.
func (r *Resets) InvalidateAllUnused(_ context.Context, userID ulid.ULID, except *ulid.ULID, at time.Time) (int64, error) {
	s := r.store()
	if err := s.begin("resets.InvalidateAllUnused"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.resets {
		if t.UserID != userID || t.UsedAt != nil || (except != nil && id == *except) {
			continue
		}
		stamp := at
		t.UsedAt = &stamp
		s.resets[id] = t
		n++
	}
	return n, nil
}

// Delete implements auth.PasswordResetTokenRepository.
func (r *Resets) Delete(_ context.Context, id ulid.ULID) error {
	s := r.store()
	if err := s.begin("resets.Delete"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	delete(s.resets, id)
	return nil
}

// DeleteByUser implements auth.PasswordResetTokenRepository.
func (r *Resets) DeleteByUser(_ context.Context, userID ulid.ULID) (int64, error) {
	s := r.store()
	if err := s.begin("resets.DeleteByUser"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.resets {
		if t.UserID == userID {
			delete(s.resets, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpired implements auth.PasswordResetTokenRepository.
func (r *Resets) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s := r.store()
	if err := s.begin("resets.DeleteExpired"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.resets {
		if t.IsExpiredAt(now) {
			delete(s.resets, id)
			n++
		}
	}
	return n, nil
}
