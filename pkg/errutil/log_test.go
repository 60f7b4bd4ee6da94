// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilespaces/profilespaces/pkg/errutil"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("SESSION_REFRESH_FAILED").
		With("session_id", "01HZX").
		Errorf("update failed")

	errutil.LogError(logger, "refresh session expiry", err)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "refresh session expiry", entry["msg"])
	assert.Equal(t, "SESSION_REFRESH_FAILED", entry["code"])
	assert.Equal(t, map[string]any{"session_id": "01HZX"}, entry["context"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogErrorContext(context.Background(), logger, "deliver password reset", errors.New("smtp down"))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "smtp down")
	assert.NotContains(t, entry, "code")
}

func TestCode(t *testing.T) {
	assert.Equal(t, "AUTH_INVALID_TOKEN", errutil.Code(oops.Code("AUTH_INVALID_TOKEN").Errorf("invalid")))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	assert.Empty(t, errutil.Code(oops.Errorf("no code")))
}
