// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/samber/oops"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/internal/profile"
	"github.com/profilespaces/profilespaces/pkg/errutil"
)

type detailBody struct {
	Detail string `json:"detail"`
}

type errorsBody struct {
	Errors map[string]string `json:"errors"`
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.DebugContext(r.Context(), "write response", "error", err)
	}
}

func (a *API) writeDetail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	a.writeJSON(w, r, status, detailBody{Detail: detail})
}

func (a *API) writeFields(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	a.writeJSON(w, r, http.StatusBadRequest, errorsBody{Errors: fields})
}

// authDetail returns the 401 message for a guard failure code.
func authDetail(code string) (string, bool) {
	switch code {
	case auth.CodeInvalidAPIKey:
		return "Invalid or missing API token.", true
	case auth.CodeMissingToken:
		return "Session token required.", true
	case auth.CodeInvalidToken:
		return "Invalid session token.", true
	case auth.CodeTokenExpired:
		return "Session expired. Please log in again.", true
	case auth.CodeInvalidCredentials:
		return "Invalid credentials.", true
	}
	return "", false
}

// fail maps err to a response. Unrecognized errors are logged and answered
// with 500.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		a.writeFields(w, r, verr.Fields)
		return
	}

	code := errutil.Code(err)
	if detail, ok := authDetail(code); ok {
		a.writeDetail(w, r, http.StatusUnauthorized, detail)
		return
	}

	switch code {
	case auth.CodeConflict:
		a.writeDetail(w, r, http.StatusConflict, "Username or email is already registered.")
	case auth.CodeResetTokenInvalid:
		if expired, _ := contextValue(err, "expired").(bool); expired {
			a.writeDetail(w, r, http.StatusBadRequest, "Reset token is invalid or expired.")
			return
		}
		a.writeDetail(w, r, http.StatusBadRequest, "Invalid reset token.")
	case auth.CodeResetTokenUsed:
		a.writeDetail(w, r, http.StatusBadRequest, "Reset token is invalid or expired.")
	case auth.CodeWeakSecret:
		a.writeFields(w, r, map[string]string{"password": a.auth.PasswordPolicyMessage("")})
	case profile.CodePhotoMissing:
		a.writeDetail(w, r, http.StatusBadRequest, "No photo uploaded.")
	case profile.CodePhotoTooLarge:
		a.photoTooLarge(w, r)
	case profile.CodePhotoNotImage:
		a.writeDetail(w, r, http.StatusBadRequest, "Upload an image file.")
	case profile.CodePhotoStorageDisabled:
		a.writeDetail(w, r, http.StatusServiceUnavailable, "Photo uploads are not available.")
	default:
		errutil.LogErrorContext(r.Context(), a.logger, "request failed", err)
		a.writeDetail(w, r, http.StatusInternalServerError, "Internal server error.")
	}
}

func (a *API) photoTooLarge(w http.ResponseWriter, r *http.Request) {
	a.writeDetail(w, r, http.StatusBadRequest, fmt.Sprintf("Photo is too large (max %s).", byteSize(a.profiles.MaxPhotoBytes())))
}

func contextValue(err error, key string) any {
	if oe, ok := oops.AsOops(err); ok {
		return oe.Context()[key]
	}
	return nil
}

// byteSize formats n for users: whole megabytes as "5 MB", otherwise
// kilobytes.
func byteSize(n int64) string {
	const mb = 1024 * 1024
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d KB", (n+1023)/1024)
}
