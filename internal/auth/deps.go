// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"context"
	"time"
)

// Transactor runs fn inside one storage transaction. Repositories called with
// the ctx passed to fn take part in it; fn returning an error rolls back.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProfileInit carries the profile fields collected at signup.
type ProfileInit struct {
	DisplayName string
	Status      string
	Bio         string
	Location    string
	Interests   []string
	AgreedAt    *time.Time
}

// ProfileInitializer creates the profile row for a new user inside the
// signup transaction.
type ProfileInitializer interface {
	InitProfile(ctx context.Context, user *User, init ProfileInit) error
}

// Recorder receives account metrics.
type Recorder interface {
	AuthAttempt(operation, outcome string)
	SessionIssued(reason string)
	SessionsRevoked(reason string, n int64)
	TokensReaped(kind string, n int64)
}

type nopRecorder struct{}

func (nopRecorder) AuthAttempt(string, string)    {}
func (nopRecorder) SessionIssued(string)          {}
func (nopRecorder) SessionsRevoked(string, int64) {}
func (nopRecorder) TokensReaped(string, int64)    {}
