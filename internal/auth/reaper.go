// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DefaultReapInterval is how often the Reaper sweeps by default.
const DefaultReapInterval = time.Hour

// ReapResult counts rows removed by one sweep.
type ReapResult struct {
	Sessions    int64
	ResetTokens int64
}

// Reaper periodically deletes expired session and reset tokens. Expired
// tokens are already rejected on use, so the sweep only reclaims storage.
type Reaper struct {
	sessions SessionTokenRepository
	resets   PasswordResetTokenRepository
	interval time.Duration
	logger   *slog.Logger
	recorder Recorder
	clock    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a Reaper sharing svc's stores, clock, logger and recorder.
func NewReaper(svc *Service, interval time.Duration) (*Reaper, error) {
	if svc == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("service is required")
	}
	if interval <= 0 {
		return nil, oops.Code("AUTH_INVALID_CONFIG").With("interval", interval).Errorf("reap interval must be positive")
	}
	return &Reaper{
		sessions: svc.sessions,
		resets:   svc.resets,
		interval: interval,
		logger:   svc.logger,
		recorder: svc.recorder,
		clock:    svc.now,
	}, nil
}

// RunOnce performs a single sweep. Both stores are swept even if the first
// fails; errors are combined.
func (r *Reaper) RunOnce(ctx context.Context) (ReapResult, error) {
	now := r.clock()
	var res ReapResult
	var errs []error

	n, err := r.sessions.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, oops.Code("REAP_FAILED").With("kind", "session").Wrap(err))
	} else {
		res.Sessions = n
		r.recorder.TokensReaped("session", n)
	}

	n, err = r.resets.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, oops.Code("REAP_FAILED").With("kind", "password_reset").Wrap(err))
	} else {
		res.ResetTokens = n
		r.recorder.TokensReaped("password_reset", n)
	}

	if res.Sessions > 0 || res.ResetTokens > 0 {
		r.logger.InfoContext(ctx, "reaped expired tokens", "sessions", res.Sessions, "reset_tokens", res.ResetTokens)
	}
	return res, errors.Join(errs...)
}

// Start begins periodic sweeps until ctx is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "token reap failed", "error", err)
			}
		}
	}
}
