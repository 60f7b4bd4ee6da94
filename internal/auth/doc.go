// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

// Package auth implements ProfileSpaces accounts: opaque session tokens,
// password-reset tokens and the credential transitions that tie them together.
//
// # Tokens
//
// Session and reset keys are 256-bit random strings handed to the client once.
// Only their SHA-256 digest is persisted, so a leaked table cannot be replayed.
// A key is valid while its record exists and has not expired; deleting the
// record ends the session immediately.
//
// # Services
//
//   - Service - signup, login, logout, session issue and refresh, reset requests,
//     email change and account deletion
//   - CredentialManager - password change and reset redemption, each applied
//     atomically with session revocation and reset-token invalidation
//   - Guard - extracts keys from HTTP requests and resolves them to a Principal
//   - Reaper - optional periodic removal of expired rows
//
// Services are created with constructors that validate their dependencies.
// Repositories are interfaces; internal/auth/postgres provides the pgx
// implementation and internal/auth/authtest an in-memory one for tests.
package auth
