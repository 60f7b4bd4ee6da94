// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/internal/auth/authtest"
	"github.com/profilespaces/profilespaces/internal/httpapi"
	"github.com/profilespaces/profilespaces/internal/observability"
	"github.com/profilespaces/profilespaces/internal/profile"
	"github.com/profilespaces/profilespaces/internal/profile/profiletest"
	"github.com/profilespaces/profilespaces/pkg/errutil"
)

const (
	apiKey   = "test-api-key"
	password = "correct-horse"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t        *testing.T
	store    *authtest.Store
	clock    *authtest.Clock
	profiles *profiletest.Repository
	photos   *profiletest.Photos
	resets   *authtest.Deliveries
	hasher   *countingHasher
	handler  http.Handler
}

// countingHasher counts password verifications.
type countingHasher struct {
	auth.PasswordHasher
	verifies atomic.Int64
}

func (c *countingHasher) Verify(password, hash string) (bool, error) {
	c.verifies.Add(1)
	return c.PasswordHasher.Verify(password, hash)
}

type option func(*httpapi.Config, *profile.ServiceConfig)

func withResetEcho() option {
	return func(c *httpapi.Config, _ *profile.ServiceConfig) { c.EchoResetKeys = true }
}

func withoutPhotos() option {
	return func(_ *httpapi.Config, pc *profile.ServiceConfig) { pc.Photos = nil }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		store:    authtest.NewStore(),
		clock:    authtest.NewClock(epoch),
		profiles: profiletest.NewRepository(),
		photos:   profiletest.NewPhotos(),
		resets:   &authtest.Deliveries{},
		hasher:   &countingHasher{PasswordHasher: authtest.FastHasher()},
	}
	pcfg := profile.ServiceConfig{
		Profiles:      h.profiles,
		Accounts:      h.store.Stores().Users,
		Tx:            h.store,
		Photos:        h.photos,
		MaxPhotoBytes: 1024,
		Now:           h.clock.Now,
	}
	cfg := httpapi.Config{APIKey: apiKey, AuthRateLimit: -1}
	for _, opt := range opts {
		opt(&cfg, &pcfg)
	}

	profiles, err := profile.NewService(pcfg)
	require.NoError(t, err)
	svc, err := auth.NewService(h.store.Stores(), h.hasher,
		auth.WithClock(h.clock.Now),
		auth.WithProfileInitializer(profiles),
		auth.WithResetDelivery(h.resets))
	require.NoError(t, err)
	creds, err := auth.NewCredentialManager(svc)
	require.NoError(t, err)

	cfg.Auth, cfg.Credentials, cfg.Profiles = svc, creds, profiles
	api, err := httpapi.New(cfg)
	require.NoError(t, err)
	h.handler = api
	return h
}

type response struct {
	*httptest.ResponseRecorder
	body map[string]any
}

func (r response) detail() any {
	return r.body["detail"]
}

func (r response) fields() map[string]any {
	errs, _ := r.body["errors"].(map[string]any)
	return errs
}

func (r response) object(key string) map[string]any {
	obj, _ := r.body[key].(map[string]any)
	return obj
}

func (h *harness) send(req *http.Request, token string) response {
	h.t.Helper()
	if req.Header.Get(auth.HeaderAPIKey) == "" {
		req.Header.Set(auth.HeaderAPIKey, apiKey)
	}
	if token != "" {
		req.Header.Set(auth.HeaderSessionToken, token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	res := response{ResponseRecorder: rec}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &res.body), rec.Body.String())
	}
	return res
}

func (h *harness) do(method, path string, body any, token string) response {
	h.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, "/api/accounts"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	return h.send(req, token)
}

func (h *harness) signup(username string) (token string, user map[string]any) {
	h.t.Helper()
	res := h.do(http.MethodPost, "/signup/", map[string]any{
		"name":             "Ada Lovelace",
		"username":         username,
		"email":            username + "@example.com",
		"password":         password,
		"confirm_password": password,
		"agreed_to_terms":  "yes",
		"interests":        []any{"math", " engines ", "math"},
	}, "")
	require.Equal(h.t, http.StatusCreated, res.Code, res.Body.String())
	return res.body["token"].(string), res.object("user")
}

func TestNew_RequiresServices(t *testing.T) {
	_, err := httpapi.New(httpapi.Config{})
	errutil.AssertErrorCode(t, err, "HTTPAPI_INVALID_CONFIG")
}

func TestAPIKeyGate(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/login/", strings.NewReader(`{}`))
	req.Header.Set(auth.HeaderAPIKey, "wrong")
	res := h.send(req, "")

	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "Invalid or missing API token.", res.detail())
}

func TestSignup(t *testing.T) {
	h := newHarness(t)

	res := h.do(http.MethodPost, "/signup/", map[string]any{
		"name":      "Ada Lovelace",
		"username":  "ada",
		"email":     "ADA@example.com",
		"password":  password,
		"confirm":   password,
		"agree":     true,
		"remember":  "on",
		"bio":       "  Analyst  ",
		"interests": []any{"math", " engines ", "math", ""},
	}, "")

	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	assert.NotEmpty(t, res.body["token"])
	assert.Equal(t, epoch.Add(auth.DefaultRememberTTL).Format(time.RFC3339Nano), res.body["expires_at"])

	user := res.object("user")
	assert.Equal(t, "ada", user["username"])
	assert.Equal(t, "ada@example.com", user["email"])
	assert.Equal(t, "Ada Lovelace", user["name"])
	assert.Equal(t, "ada", user["profile_url"])
	assert.Equal(t, "Analyst", user["bio"])
	assert.Equal(t, []any{"math", "engines"}, user["interests"])
	assert.Equal(t, true, user["agreed_to_terms"])
	assert.Equal(t, "", user["photo_url"])
}

func TestSignup_Validation(t *testing.T) {
	h := newHarness(t)
	h.signup("taken")

	res := h.do(http.MethodPost, "/signup/", map[string]any{
		"name":     "A",
		"username": "Taken",
		"email":    "not-an-email",
		"password": "short",
		"confirm":  "different",
	}, "")

	require.Equal(t, http.StatusBadRequest, res.Code)
	fields := res.fields()
	assert.Equal(t, "Name must be at least 2 characters.", fields["name"])
	assert.Equal(t, "Username is already taken.", fields["username"])
	assert.Equal(t, "Password must be at least 8 characters.", fields["password"])
	assert.Equal(t, "Passwords do not match.", fields["confirm"])
	assert.Contains(t, fields, "agree")
	assert.Contains(t, fields, "email")
}

func TestMalformedBodies(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		body   string
		detail string
	}{
		{`{"identifier":`, "Invalid JSON body."},
		{`["a"]`, "Expected a JSON object."},
		{`"text"`, "Expected a JSON object."},
	}
	for _, tt := range tests {
		res := h.do(http.MethodPost, "/login/", tt.body, "")
		assert.Equal(t, http.StatusBadRequest, res.Code, tt.body)
		assert.Equal(t, tt.detail, res.detail(), tt.body)
	}
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	h.signup("ada")

	res := h.do(http.MethodPost, "/login/", map[string]any{}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Username or email is required.", res.fields()["identifier"])
	assert.Equal(t, "Password is required.", res.fields()["password"])

	for _, identifier := range []string{"ada", "nobody"} {
		res = h.do(http.MethodPost, "/login/", map[string]any{"identifier": identifier, "password": "wrong-password"}, "")
		assert.Equal(t, http.StatusUnauthorized, res.Code)
		assert.Equal(t, "Invalid credentials.", res.detail())
	}

	res = h.do(http.MethodPost, "/login/", map[string]any{"identifier": "ADA@example.com", "password": password}, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, epoch.Add(auth.DefaultShortTTL).Format(time.RFC3339Nano), res.body["expires_at"])
	assert.Equal(t, "ada", res.object("user")["username"])
}

func TestSession_GuardFailures(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")

	res := h.do(http.MethodGet, "/session/", nil, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "Session token required.", res.detail())

	res = h.do(http.MethodGet, "/session/", nil, "not-a-real-token")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "Invalid session token.", res.detail())

	h.clock.Advance(auth.DefaultShortTTL + time.Second)
	res = h.do(http.MethodGet, "/session/", nil, token)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Equal(t, "Session expired. Please log in again.", res.detail())

	res = h.do(http.MethodGet, "/session/", nil, token)
	assert.Equal(t, "Invalid session token.", res.detail(), "expired sessions are deleted on sight")
}

func TestSession_AcceptsEveryCarrier(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")

	carriers := map[string]func(*http.Request){
		"authorization token":  func(r *http.Request) { r.Header.Set("Authorization", "Token "+token) },
		"authorization bearer": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
		"x-session":            func(r *http.Request) { r.Header.Set(auth.HeaderSession, token) },
		"cookie":               func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: token}) },
	}
	for name, set := range carriers {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/accounts/session/", nil)
			set(req)
			res := h.send(req, "")
			require.Equal(t, http.StatusOK, res.Code, res.Body.String())
			assert.Equal(t, "ada", res.object("user")["username"])
		})
	}
}

func TestSession_RefreshSlidesExpiry(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")

	h.clock.Advance(20 * time.Hour)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/session/", nil, token).Code)

	h.clock.Advance(20 * time.Hour)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/session/", nil, token).Code)
}

func clearedCookie(t *testing.T, res response) *http.Cookie {
	t.Helper()
	for _, c := range res.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie was not cleared")
	return nil
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")
	other := h.do(http.MethodPost, "/login/", map[string]any{"identifier": "ada", "password": password}, "").body["token"].(string)

	res := h.do(http.MethodPost, "/logout/", nil, token)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Logged out.", res.detail())
	c := clearedCookie(t, res)
	assert.Empty(t, c.Value)
	assert.Negative(t, c.MaxAge)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/session/", nil, token).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/session/", nil, other).Code)
}

func TestLogoutAll(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")
	other := h.do(http.MethodPost, "/login/", map[string]any{"identifier": "ada", "password": password}, "").body["token"].(string)

	res := h.do(http.MethodPost, "/logout/all/", nil, token)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "All sessions cleared.", res.detail())
	clearedCookie(t, res)

	for _, key := range []string{token, other} {
		res := h.do(http.MethodGet, "/session/", nil, key)
		assert.Equal(t, http.StatusUnauthorized, res.Code)
		assert.Equal(t, "Invalid session token.", res.detail(), "revoked, not expired")
	}
}

func TestChangeEmail(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")
	h.signup("grace")

	res := h.do(http.MethodPost, "/email/", map[string]any{"new_email": "grace@example.com", "current_password": "nope"}, token)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Email is already in use.", res.fields()["email"])
	assert.Equal(t, "Incorrect password.", res.fields()["password"])

	res = h.do(http.MethodPost, "/email/", map[string]any{"email": "Ada@New.example", "password": password}, token)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, "ada@new.example", res.object("user")["email"])
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")

	tests := []struct {
		name   string
		body   map[string]any
		fields map[string]any
	}{
		{"empty", map[string]any{}, map[string]any{
			"current": "Enter your current password.",
			"new":     "Create a new password.",
			"confirm": "Confirm your new password.",
		}},
		{"wrong current and short", map[string]any{"current": "nope", "new": "short", "confirm": "short"}, map[string]any{
			"current": "Incorrect current password.",
			"new":     "Password must be at least 8 characters.",
		}},
		{"mismatch", map[string]any{"current_password": password, "new_password": "next-password", "confirm_password": "other"}, map[string]any{
			"confirm": "Passwords do not match.",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.do(http.MethodPost, "/password/change/", tt.body, token)
			require.Equal(t, http.StatusBadRequest, res.Code)
			assert.Equal(t, tt.fields, res.fields())
		})
	}

	res := h.do(http.MethodPost, "/password/change/", map[string]any{
		"current": password, "password": "next-password", "confirm": "next-password",
	}, token)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	fresh := res.body["token"].(string)
	assert.NotEqual(t, token, fresh)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/session/", nil, token).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/session/", nil, fresh).Code)
	login := h.do(http.MethodPost, "/login/", map[string]any{"identifier": "ada", "password": "next-password"}, "")
	assert.Equal(t, http.StatusOK, login.Code)
}

func TestChangePassword_VerifiesCurrentOnce(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")

	tests := []struct {
		name   string
		body   map[string]any
		status int
		fields map[string]any
	}{
		{"wrong current", map[string]any{"current": "nope", "new": "next-password", "confirm": "next-password"},
			http.StatusBadRequest, map[string]any{"current": "Incorrect current password."}},
		{"wrong current and mismatch", map[string]any{"current": "nope", "new": "next-password", "confirm": "other"},
			http.StatusBadRequest, map[string]any{"current": "Incorrect current password.", "confirm": "Passwords do not match."}},
		{"success", map[string]any{"current": password, "new": "next-password", "confirm": "next-password"},
			http.StatusOK, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.hasher.verifies.Load()
			res := h.do(http.MethodPost, "/password/change/", tt.body, token)
			require.Equal(t, tt.status, res.Code, res.Body.String())
			if tt.fields != nil {
				assert.Equal(t, tt.fields, res.fields())
			}
			assert.Equal(t, int64(1), h.hasher.verifies.Load()-before)
		})
	}
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")

	res := h.do(http.MethodPost, "/password/reset/request/", map[string]any{}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Username or email is required.", res.fields()["identifier"])

	unknown := h.do(http.MethodPost, "/password/reset/request/", map[string]any{"email": "nobody@example.com"}, "")
	require.Equal(t, http.StatusOK, unknown.Code)
	assert.Equal(t, map[string]any{"detail": "If an account exists, a reset token has been created."}, unknown.body)
	assert.Zero(t, h.resets.Count())

	known := h.do(http.MethodPost, "/password/reset/request/", map[string]any{"username": "ADA"}, "")
	require.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, unknown.body, known.body, "known and unknown identifiers get the same reply")
	assert.Equal(t, unknown.Body.String(), known.Body.String())

	require.Equal(t, 1, h.resets.Count())
	assert.WithinDuration(t, epoch.Add(auth.DefaultResetTTL), h.resets.Request("ada").ExpiresAt, 0)
	resetKey := h.resets.Key("ada")
	require.NotEmpty(t, resetKey)

	res = h.do(http.MethodPost, "/password/reset/", map[string]any{"password": "next-password"}, "")
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, map[string]any{
		"token":   "Reset token is required.",
		"confirm": "Confirm your new password.",
	}, res.fields())

	res = h.do(http.MethodPost, "/password/reset/", map[string]any{
		"token": "bogus", "password": "next-password", "confirm": "next-password",
	}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Invalid reset token.", res.detail())

	body := map[string]any{"reset_token": resetKey, "new_password": "next-password", "confirm_password": "next-password"}
	res = h.do(http.MethodPost, "/password/reset/", body, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, epoch.Add(auth.DefaultShortTTL).Format(time.RFC3339Nano), res.body["expires_at"])
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/session/", nil, token).Code)

	res = h.do(http.MethodPost, "/password/reset/", body, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Reset token is invalid or expired.", res.detail())
}

func TestPasswordReset_Expired(t *testing.T) {
	h := newHarness(t)
	h.signup("ada")

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/password/reset/request/", map[string]any{"identifier": "ada"}, "").Code)
	resetKey := h.resets.Key("ada")
	h.clock.Advance(auth.DefaultResetTTL + time.Minute)

	res := h.do(http.MethodPost, "/password/reset/", map[string]any{
		"token": resetKey, "password": "next-password", "confirm": "next-password",
	}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Reset token is invalid or expired.", res.detail())
}

func TestPasswordReset_EchoKeys(t *testing.T) {
	h := newHarness(t, withResetEcho())
	h.signup("ada")

	res := h.do(http.MethodPost, "/password/reset/request/", map[string]any{"identifier": "ada"}, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "If an account exists, a reset token has been created.", res.detail())
	assert.Equal(t, h.resets.Key("ada"), res.body["reset_token"])
	assert.Equal(t, epoch.Add(auth.DefaultResetTTL).Format(time.RFC3339Nano), res.body["expires_at"])

	res = h.do(http.MethodPost, "/password/reset/request/", map[string]any{"identifier": "nobody"}, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotContains(t, res.body, "reset_token")
}

func TestDeleteAccount(t *testing.T) {
	h := newHarness(t)
	token, user := h.signup("ada")
	upload := h.uploadPhoto(token, "photo", "me.png", "image/png", []byte("png-bytes"))
	require.Equal(t, http.StatusOK, upload.Code, upload.Body.String())
	require.Len(t, h.photos.Keys(), 1)

	res := h.do(http.MethodPost, "/delete/", map[string]any{"confirm": "delete", "password": "wrong"}, token)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, `Type "DELETE" to confirm.`, res.fields()["confirm"])
	assert.Equal(t, "Incorrect password.", res.fields()["password"])

	res = h.do(http.MethodPost, "/delete/", map[string]any{"confirmation": "DELETE"}, token)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, "Account deleted.", res.detail())
	clearedCookie(t, res)

	assert.Empty(t, h.photos.Keys())
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/session/", nil, token).Code)
	login := h.do(http.MethodPost, "/login/", map[string]any{"identifier": user["username"], "password": password}, "")
	assert.Equal(t, http.StatusUnauthorized, login.Code)
}

func TestProfile_GetAndUpdate(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")
	h.signup("grace")

	res := h.do(http.MethodGet, "/profile/", nil, token)
	require.Equal(t, http.StatusOK, res.Code)
	prof := res.object("profile")
	assert.Equal(t, "Ada Lovelace", prof["display_name"])
	assert.Equal(t, "public", prof["visibility"])
	assert.Equal(t, "system", prof["theme"])

	res = h.do(http.MethodPatch, "/profile/", map[string]any{
		"name":          "Ada L",
		"username":      "Grace",
		"profile_slug":  "settings",
		"visibility":    "secret",
		"interests":     []any{"a", "b", "c", "d", "e", "f"},
		"show_location": true,
	}, token)
	require.Equal(t, http.StatusBadRequest, res.Code)
	fields := res.fields()
	assert.Equal(t, "This username is already taken.", fields["username"])
	assert.Equal(t, "Profile URL is not available.", fields["profile_url"])
	assert.Equal(t, "Visibility must be public or private.", fields["visibility"])
	assert.Equal(t, "Add up to 5 interests.", fields["interests"])

	res = h.do(http.MethodPatch, "/profile/", map[string]any{
		"display_name":  "Ada L",
		"username":      "ada2",
		"bio":           "Engines",
		"theme":         "DARK",
		"interests":     []any{"go", "go", " rust "},
		"showLocation":  "true",
		"allowSearch":   "1",
	}, token)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	prof = res.object("profile")
	assert.Equal(t, "Ada L", prof["display_name"])
	assert.Equal(t, "ada2", prof["username"])
	assert.Equal(t, "ada2", prof["profile_url"], "profile URL follows the username")
	assert.Equal(t, "dark", prof["theme"])
	assert.Equal(t, []any{"go", "rust"}, prof["interests"])
	assert.Equal(t, false, prof["show_location"], "no location means nothing to show")
	assert.Equal(t, true, prof["allow_search"])
	assert.Equal(t, "ada2", res.object("user")["username"])

	res = h.do(http.MethodPost, "/profile/", map[string]any{"display_name": "Ada L", "location": "London", "show_location": "yes"}, token)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	prof = res.object("profile")
	assert.Equal(t, true, prof["show_location"])
	assert.Equal(t, "", prof["bio"], "omitted text fields are cleared")
	assert.Equal(t, []any{"go", "rust"}, prof["interests"], "omitted interests are kept")
}

func TestAvailability(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")
	h.signup("grace")

	tests := []struct {
		path      string
		available bool
		reason    string
	}{
		{"/profile/username/?username=ada", true, ""},
		{"/profile/username/?username=GRACE", false, "This username is already taken."},
		{"/profile/username/?username=x", false, "Use 3-30 letters, numbers, or ._- in your username."},
		{"/profile/username/", false, "Username is required."},
		{"/profile/url/?profile_url=fresh", true, ""},
		{"/profile/url/?slug=grace", false, "This URL is not available."},
		{"/profile/url/?slug=admin", false, "Profile URL is not available."},
	}
	for _, tt := range tests {
		res := h.do(http.MethodGet, tt.path, nil, token)
		require.Equal(t, http.StatusOK, res.Code, tt.path)
		assert.Equal(t, tt.available, res.body["available"], tt.path)
		assert.Equal(t, tt.reason, res.body["reason"], tt.path)
	}
}

func TestNotifications(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")

	res := h.do(http.MethodGet, "/notifications/", nil, token)
	require.Equal(t, http.StatusOK, res.Code)
	n := res.object("notifications")
	assert.Equal(t, true, n["email_notifications"])
	assert.Equal(t, true, n["product_updates"])
	assert.Equal(t, false, n["weekly_digest"])
	assert.Equal(t, "off", n["pause_notifications"])
	assert.Nil(t, n["pause_until"])

	res = h.do(http.MethodPatch, "/notifications/", map[string]any{
		"emailNotifications": false,
		"weekly_digest":      "on",
		"pause":              " Day ",
	}, token)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	n = res.object("notifications")
	assert.Equal(t, false, n["email_notifications"])
	assert.Equal(t, true, n["product_updates"])
	assert.Equal(t, true, n["weekly_digest"])
	assert.Equal(t, "day", n["pause_notifications"])
	assert.Equal(t, epoch.Add(24*time.Hour).Format(time.RFC3339Nano), n["pause_until"])

	res = h.do(http.MethodPatch, "/notifications/", map[string]any{"pause_notifications": "month"}, token)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Pause must be off, day, or week.", res.fields()["pause_notifications"])

	res = h.do(http.MethodPatch, "/notifications/", map[string]any{"pauseNotifications": "off"}, token)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Nil(t, res.object("notifications")["pause_until"])
}

func (h *harness) uploadPhoto(token, field, filename, contentType string, data []byte) response {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(h.t, err)
	_, err = part.Write(data)
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/profile/photo/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return h.send(req, token)
}

func TestPhotoUpload(t *testing.T) {
	h := newHarness(t)
	token, user := h.signup("ada")

	res := h.uploadPhoto(token, "file", "Me.PNG", "image/png", []byte("first"))
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	first, _ := res.body["photo_url"].(string)
	assert.True(t, strings.HasPrefix(first, "https://photos.test/profile_photos/user-"+user["id"].(string)+"-"), first)
	assert.True(t, strings.HasSuffix(first, ".png"), first)

	res = h.uploadPhoto(token, "photo", "again.jpg", "image/jpeg", []byte("second"))
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	keys := h.photos.Keys()
	require.Len(t, keys, 1, "the replaced photo is deleted")
	assert.Equal(t, "https://photos.test/"+keys[0], res.body["photo_url"])

	session := h.do(http.MethodGet, "/session/", nil, token)
	assert.Equal(t, res.body["photo_url"], session.object("user")["photo_url"])

	res = h.do(http.MethodDelete, "/profile/photo/delete/", nil, token)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "", res.body["photo_url"])
	assert.Empty(t, h.photos.Keys())
}

func TestPhotoUpload_Rejections(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")

	res := h.uploadPhoto(token, "avatar", "me.png", "image/png", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "No photo uploaded.", res.detail())

	res = h.uploadPhoto(token, "photo", "notes.txt", "text/plain", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Upload an image file.", res.detail())

	res = h.uploadPhoto(token, "photo", "big.png", "image/png", bytes.Repeat([]byte("x"), 2048))
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Photo is too large (max 1 KB).", res.detail())

	res = h.do(http.MethodPost, "/profile/photo/", `{}`, token)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "No photo uploaded.", res.detail())

	assert.Empty(t, h.photos.Keys())
}

func TestPhotoRoutes_StorageDisabled(t *testing.T) {
	h := newHarness(t, withoutPhotos())
	token, user := h.signup("ada")
	assert.Equal(t, "", user["photo_url"])

	res := h.uploadPhoto(token, "photo", "me.png", "image/png", []byte("x"))
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)

	res = h.do(http.MethodDelete, "/profile/photo/delete/", nil, token)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Equal(t, "Photo uploads are not available.", res.detail())
}

func TestStorageFailureIsInternalError(t *testing.T) {
	h := newHarness(t)
	token, _ := h.signup("ada")
	h.profiles.Fail("Get", assert.AnError)

	res := h.do(http.MethodGet, "/profile/", nil, token)
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, "Internal server error.", res.detail())
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t)
	res := h.do(http.MethodGet, "/login/", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, res.Code)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *httpapi.Config, _ *profile.ServiceConfig) { c.AuthRateLimit = 2 })
	body := map[string]any{"identifier": "ada", "password": "wrong-password"}

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/login/", body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/login/", body, "").Code)

	res := h.do(http.MethodPost, "/login/", body, "")
	assert.Equal(t, http.StatusTooManyRequests, res.Code)
	assert.Equal(t, "Too many requests. Try again later.", res.detail())
}

func TestMetricsAndCORS(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, func(c *httpapi.Config, _ *profile.ServiceConfig) {
		c.Metrics = metrics
		c.AllowedOrigins = []string{"https://app.example"}
	})

	h.do(http.MethodPost, "/login/", map[string]any{"identifier": "ada", "password": "wrong-password"}, "")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("POST", "/api/accounts/login/", "401")), 0)

	req := httptest.NewRequest(http.MethodOptions, "/api/accounts/login/", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", auth.HeaderAPIKey)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
