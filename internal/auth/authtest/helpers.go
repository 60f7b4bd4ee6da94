// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/profilespaces/profilespaces/internal/auth"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a Clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ScriptedKeys returns the scripted keys in order, then falls back to random
// keys. It lets tests force key collisions.
type ScriptedKeys struct {
	mu     sync.Mutex
	keys   []string
	calls  int
	random auth.RandomKeyGenerator
}

// NewScriptedKeys creates a generator yielding keys first.
func NewScriptedKeys(keys ...string) *ScriptedKeys {
	return &ScriptedKeys{keys: keys}
}

// Generate implements auth.KeyGenerator.
func (g *ScriptedKeys) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.keys) > 0 {
		k := g.keys[0]
		g.keys = g.keys[1:]
		return k, nil
	}
	return g.random.Generate()
}

// Calls returns how many keys were generated.
func (g *ScriptedKeys) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// FastHasher returns an argon2id hasher with minimal cost for tests.
func FastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Time:    1,
		Memory:  1024,
		Threads: 1,
		SaltLen: 16,
		KeyLen:  32,
	})
}

// RecordedCount is one Recorder observation.
type RecordedCount struct {
	Metric string
	Labels [2]string
	Value  int64
}

// Recorder is an auth.Recorder that keeps every observation.
type Recorder struct {
	mu   sync.Mutex
	seen []RecordedCount
}

var _ auth.Recorder = (*Recorder)(nil)

func (r *Recorder) add(c RecordedCount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, c)
}

// AuthAttempt implements auth.Recorder.
func (r *Recorder) AuthAttempt(operation, outcome string) {
	r.add(RecordedCount{Metric: "auth_attempt", Labels: [2]string{operation, outcome}, Value: 1})
}

// SessionIssued implements auth.Recorder.
func (r *Recorder) SessionIssued(reason string) {
	r.add(RecordedCount{Metric: "session_issued", Labels: [2]string{reason}, Value: 1})
}

// SessionsRevoked implements auth.Recorder.
func (r *Recorder) SessionsRevoked(reason string, n int64) {
	r.add(RecordedCount{Metric: "sessions_revoked", Labels: [2]string{reason}, Value: n})
}

// TokensReaped implements auth.Recorder.
func (r *Recorder) TokensReaped(kind string, n int64) {
	r.add(RecordedCount{Metric: "tokens_reaped", Labels: [2]string{kind}, Value: n})
}

// Total sums the values recorded for metric with the given first label.
func (r *Recorder) Total(metric, label string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, c := range r.seen {
		if c.Metric == metric && c.Labels[0] == label {
			total += c.Value
		}
	}
	return total
}

// Count sums the values recorded for metric with both labels.
func (r *Recorder) Count(metric, first, second string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, c := range r.seen {
		if c.Metric == metric && c.Labels == [2]string{first, second} {
			total += c.Value
		}
	}
	return total
}

// Deliveries is an auth.ResetDelivery that keeps the latest reset issued to
// each username.
type Deliveries struct {
	mu    sync.Mutex
	last  map[string]auth.ResetRequest
	count int
}

var _ auth.ResetDelivery = (*Deliveries)(nil)

// DeliverReset implements auth.ResetDelivery.
func (d *Deliveries) DeliverReset(_ context.Context, user *auth.User, req auth.ResetRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		d.last = make(map[string]auth.ResetRequest)
	}
	d.last[strings.ToLower(user.Username)] = req
	d.count++
	return nil
}

// Key returns the latest reset key delivered to username, or "".
func (d *Deliveries) Key(username string) string {
	return d.Request(username).Key
}

// Request returns the latest reset delivered to username.
func (d *Deliveries) Request(username string) auth.ResetRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last[strings.ToLower(username)]
}

// Count reports how many resets were delivered.
func (d *Deliveries) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}
