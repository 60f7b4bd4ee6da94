// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by repositories when a unique constraint rejects a write.
var ErrConflict = errors.New("conflict")

// ErrResetTokenUsed is returned by MarkUsed when the token was already consumed.
var ErrResetTokenUsed = errors.New("reset token already used")

// Error codes carried by oops errors returned from this package.
const (
	CodeMissingToken       = "AUTH_MISSING_TOKEN"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeTokenExpired       = "AUTH_TOKEN_EXPIRED"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeWeakSecret         = "AUTH_WEAK_SECRET"
	CodeConflict           = "AUTH_CONFLICT"
	CodeResetTokenInvalid  = "RESET_TOKEN_INVALID"
	CodeResetTokenUsed     = "RESET_TOKEN_USED"
	CodeInvalidAPIKey      = "AUTH_INVALID_API_KEY"
	CodeValidation         = "AUTH_VALIDATION_FAILED"
	CodeConfirmation       = "AUTH_CONFIRMATION_REQUIRED"
)
