// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

// Package authtest provides in-memory auth repositories and test helpers.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/profilespaces/profilespaces/internal/auth"
)

type txKey struct{}

// Store is an in-memory backing for every auth repository. InTransaction
// serializes transactions and restores the previous state when fn fails, so
// atomicity can be asserted without a database.
type Store struct {
	txMu sync.Mutex // held for the duration of a transaction
	mu   sync.Mutex

	users    map[ulid.ULID]auth.User
	sessions map[ulid.ULID]auth.SessionToken
	resets   map[ulid.ULID]auth.PasswordResetToken
	failures map[string]error
	calls    map[string]int
}

var _ auth.Transactor = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:    make(map[ulid.ULID]auth.User),
		sessions: make(map[ulid.ULID]auth.SessionToken),
		resets:   make(map[ulid.ULID]auth.PasswordResetToken),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Stores returns the repositories and transactor for auth.NewService.
func (s *Store) Stores() auth.Stores {
	return auth.Stores{
		Users:    (*Users)(s),
		Sessions: (*Sessions)(s),
		Resets:   (*Resets)(s),
		Tx:       s,
	}
}

// Fail makes the named operation (for example "sessions.DeleteByUser")
// return err until cleared with a nil err.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// begin locks the data and records the call. The caller must unlock.
func (s *Store) begin(op string) error {
	s.mu.Lock()
	s.calls[op]++
	return s.failures[op]
}

// InTransaction implements auth.Transactor.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users    map[ulid.ULID]auth.User
	sessions map[ulid.ULID]auth.SessionToken
	resets   map[ulid.ULID]auth.PasswordResetToken
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		users:    make(map[ulid.ULID]auth.User, len(s.users)),
		sessions: make(map[ulid.ULID]auth.SessionToken, len(s.sessions)),
		resets:   make(map[ulid.ULID]auth.PasswordResetToken, len(s.resets)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.sessions {
		snap.sessions[k] = v
	}
	for k, v := range s.resets {
		snap.resets[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users, s.sessions, s.resets = snap.users, snap.sessions, snap.resets
}

// SessionsFor returns copies of the user's sessions.
func (s *Store) SessionsFor(userID ulid.ULID) []auth.SessionToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.SessionToken
	for _, t := range s.sessions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// ResetsFor returns copies of the user's reset tokens.
func (s *Store) ResetsFor(userID ulid.ULID) []auth.PasswordResetToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.PasswordResetToken
	for _, t := range s.resets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// User returns a copy of the stored user.
func (s *Store) User(id ulid.ULID) (auth.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// PutSession stores a session directly, bypassing uniqueness checks.
func (s *Store) PutSession(t auth.SessionToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Owner = nil
	s.sessions[t.ID] = t
}

func (s *Store) ownerCopy(id ulid.ULID) *auth.User {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return &u
}

// Users implements auth.UserRepository over a Store.
type Users Store

var _ auth.UserRepository = (*Users)(nil)

func (u *Users) store() *Store { return (*Store)(u) }

// Create implements auth.UserRepository.
func (u *Users) Create(_ context.Context, user *auth.User) error {
	s := u.store()
	if err := s.begin("users.Create"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return auth.ErrConflict
		}
	}
	s.users[user.ID] = *user
	return nil
}

// GetByID implements auth.UserRepository.
func (u *Users) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s := u.store()
	if err := s.begin("users.GetByID"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	if owner := s.ownerCopy(id); owner != nil {
		return owner, nil
	}
	return nil, auth.ErrNotFound
}

// GetByIdentifier implements auth.UserRepository.
func (u *Users) GetByIdentifier(_ context.Context, identifier string) (*auth.User, error) {
	s := u.store()
	if err := s.begin("users.GetByIdentifier"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, identifier) || strings.EqualFold(existing.Email, identifier) {
			found := existing
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (u *Users) update(op string, id ulid.ULID, apply func(*auth.User) error) error {
	s := u.store()
	if err := s.begin(op); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	existing, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	if err := apply(&existing); err != nil {
		return err
	}
	existing.UpdatedAt = time.Now()
	s.users[id] = existing
	return nil
}

// UpdatePassword implements auth.UserRepository.
func (u *Users) UpdatePassword(_ context.Context, id ulid.ULID, hash string) error {
	return u.update("users.UpdatePassword", id, func(user *auth.User) error {
		user.PasswordHash = hash
		return nil
	})
}

// UpdateEmail implements auth.UserRepository.
func (u *Users) UpdateEmail(_ context.Context, id ulid.ULID, email string) error {
	return u.update("users.UpdateEmail", id, func(user *auth.User) error {
		for otherID, other := range u.users {
			if otherID != id && strings.EqualFold(other.Email, email) {
				return auth.ErrConflict
			}
		}
		user.Email = email
		return nil
	})
}

// UpdateUsername implements auth.UserRepository.
func (u *Users) UpdateUsername(_ context.Context, id ulid.ULID, username string) error {
	return u.update("users.UpdateUsername", id, func(user *auth.User) error {
		for otherID, other := range u.users {
			if otherID != id && strings.EqualFold(other.Username, username) {
				return auth.ErrConflict
			}
		}
		user.Username = username
		return nil
	})
}

// Delete implements auth.UserRepository. Sessions and reset tokens cascade.
func (u *Users) Delete(_ context.Context, id ulid.ULID) error {
	s := u.store()
	if err := s.begin("users.Delete"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.users, id)
	for k, t := range s.sessions {
		if t.UserID == id {
			delete(s.sessions, k)
		}
	}
	for k, t := range s.resets {
		if t.UserID == id {
			delete(s.resets, k)
		}
	}
	return nil
}

// UsernameTaken implements auth.UserRepository.
func (u *Users) UsernameTaken(_ context.Context, username string, exclude ulid.ULID) (bool, error) {
	s := u.store()
	if err := s.begin("users.UsernameTaken"); err != nil {
		s.mu.Unlock()
		return false, err
	}
	defer s.mu.Unlock()
	for id, existing := range s.users {
		if id != exclude && strings.EqualFold(existing.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

// EmailTaken implements auth.UserRepository.
func (u *Users) EmailTaken(_ context.Context, email string, exclude ulid.ULID) (bool, error) {
	s := u.store()
	if err := s.begin("users.EmailTaken"); err != nil {
		s.mu.Unlock()
		return false, err
	}
	defer s.mu.Unlock()
	for id, existing := range s.users {
		if id != exclude && strings.EqualFold(existing.Email, email) {
			return true, nil
		}
	}
	return false, nil
}
