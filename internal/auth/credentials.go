// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
)

// CredentialManager applies password changes. Each change sets the new hash,
// revokes every session, invalidates every outstanding reset key and issues
// one replacement session, all in a single transaction.
type CredentialManager struct {
	svc *Service
}

// NewCredentialManager creates a CredentialManager sharing svc's stores and policy.
func NewCredentialManager(svc *Service) (*CredentialManager, error) {
	if svc == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("service is required")
	}
	return &CredentialManager{svc: svc}, nil
}

// ChangePassword replaces the principal's password after checking current.
// The replacement session keeps the remembered or short lifetime of the
// session making the request.
func (m *CredentialManager) ChangePassword(ctx context.Context, p *Principal, current, next string) (issued *IssuedSession, err error) {
	s := m.svc
	ctx, span := tracer.Start(ctx, "auth.change_password")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("user.id", p.User.ID.String()))

	ok, verifyErr := s.hasher.Verify(current, p.User.PasswordHash)
	if verifyErr != nil || !ok {
		s.recorder.AuthAttempt("password_change", "failure")
		return nil, oops.Code(CodeInvalidCredentials).Errorf("incorrect current password")
	}
	if err := s.checkPasswordPolicy(next); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return nil, oops.Code("PASSWORD_CHANGE_FAILED").With("operation", "hash password").Wrap(err)
	}

	remember := s.policy.InferRemember(p.Session, s.now())
	user := *p.User
	user.PasswordHash = hash

	var revoked int64
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		if err = s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return oops.Code("PASSWORD_CHANGE_FAILED").With("operation", "update password").Wrap(err)
		}
		if revoked, err = s.sessions.DeleteByUser(ctx, user.ID); err != nil {
			return oops.Code("PASSWORD_CHANGE_FAILED").With("operation", "revoke sessions").Wrap(err)
		}
		if _, err = s.resets.InvalidateAllUnused(ctx, user.ID, nil, s.now()); err != nil {
			return oops.Code("PASSWORD_CHANGE_FAILED").With("operation", "invalidate reset tokens").Wrap(err)
		}
		issued, err = s.issueSession(ctx, &user, remember, "password_change")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recorder.SessionsRevoked("password_change", revoked)
	s.recorder.AuthAttempt("password_change", "success")
	s.logger.InfoContext(ctx, "password changed", "user_id", user.ID.String(), "sessions_revoked", revoked)
	return issued, nil
}

// RedeemReset sets a new password using a reset key. The key is consumed,
// every session and every other outstanding reset key of the user is
// invalidated, and one short-lived session is returned.
//
// An expired, unused key is deleted when presented.
func (m *CredentialManager) RedeemReset(ctx context.Context, key, next string) (issued *IssuedSession, err error) {
	s := m.svc
	ctx, span := tracer.Start(ctx, "auth.redeem_reset")
	defer func() { endSpan(span, err) }()

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, oops.Code(CodeResetTokenInvalid).Errorf("reset token required")
	}
	if err := s.checkPasswordPolicy(next); err != nil {
		return nil, err
	}

	token, err := s.resets.GetByKeyHash(ctx, HashKey(key))
	if errors.Is(err, ErrNotFound) {
		s.recorder.AuthAttempt("reset_redeem", "invalid")
		return nil, oops.Code(CodeResetTokenInvalid).Errorf("invalid reset token")
	}
	if err != nil {
		return nil, oops.Code("RESET_REDEEM_FAILED").With("operation", "get reset token").Wrap(err)
	}

	now := s.now()
	if token.IsUsed() {
		s.recorder.AuthAttempt("reset_redeem", "used")
		return nil, oops.Code(CodeResetTokenUsed).
			With("reset_id", token.ID.String()).
			Errorf("reset token already used")
	}
	if token.IsExpiredAt(now) {
		if delErr := s.resets.Delete(ctx, token.ID); delErr != nil {
			s.logger.WarnContext(ctx, "delete expired reset token", "reset_id", token.ID.String(), "error", delErr)
		}
		s.recorder.AuthAttempt("reset_redeem", "expired")
		return nil, oops.Code(CodeResetTokenInvalid).
			With("reset_id", token.ID.String()).
			With("expired", true).
			Errorf("reset token is invalid or expired")
	}

	user := token.Owner
	if user == nil {
		if user, err = s.users.GetByID(ctx, token.UserID); err != nil {
			return nil, oops.Code("RESET_REDEEM_FAILED").With("operation", "load token owner").Wrap(err)
		}
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return nil, oops.Code("RESET_REDEEM_FAILED").With("operation", "hash password").Wrap(err)
	}
	updated := *user
	updated.PasswordHash = hash

	var revoked int64
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		// MarkUsed only matches unused rows, so of two concurrent redemptions
		// exactly one gets past this point.
		if err := s.resets.MarkUsed(ctx, token.ID, now); err != nil {
			if errors.Is(err, ErrResetTokenUsed) || errors.Is(err, ErrNotFound) {
				return oops.Code(CodeResetTokenUsed).
					With("reset_id", token.ID.String()).
					Errorf("reset token already used")
			}
			return oops.Code("RESET_REDEEM_FAILED").With("operation", "mark token used").Wrap(err)
		}
		var err error
		if err = s.users.UpdatePassword(ctx, updated.ID, hash); err != nil {
			return oops.Code("RESET_REDEEM_FAILED").With("operation", "update password").Wrap(err)
		}
		if revoked, err = s.sessions.DeleteByUser(ctx, updated.ID); err != nil {
			return oops.Code("RESET_REDEEM_FAILED").With("operation", "revoke sessions").Wrap(err)
		}
		if _, err = s.resets.InvalidateAllUnused(ctx, updated.ID, &token.ID, now); err != nil {
			return oops.Code("RESET_REDEEM_FAILED").With("operation", "invalidate reset tokens").Wrap(err)
		}
		issued, err = s.issueSession(ctx, &updated, false, "password_reset")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recorder.SessionsRevoked("password_reset", revoked)
	s.recorder.AuthAttempt("reset_redeem", "success")
	s.logger.InfoContext(ctx, "password reset", "user_id", updated.ID.String(), "sessions_revoked", revoked)
	return issued, nil
}
