// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

// Package postgres implements the auth repositories on PostgreSQL.
//
// Every statement runs through store.Conn, so a repository joins the
// transaction opened by store.Transactor when one is bound to the context.
// Token inserts use ON CONFLICT DO NOTHING so a key collision inside a
// transaction reports auth.ErrConflict without aborting it.
package postgres
