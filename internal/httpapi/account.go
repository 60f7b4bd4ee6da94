// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package httpapi

import (
	"net/http"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/pkg/errutil"
)

// readPayload decodes the body or answers 400 and returns false.
func (a *API) readPayload(w http.ResponseWriter, r *http.Request) (payload, bool) {
	p, problem := decodePayload(w, r)
	if problem != "" {
		a.writeDetail(w, r, http.StatusBadRequest, problem)
		return nil, false
	}
	return p, true
}

// writeSession answers with a freshly issued session and its owner.
func (a *API) writeSession(w http.ResponseWriter, r *http.Request, status int, issued *auth.IssuedSession) {
	prof, err := a.profiles.GetOrCreate(r.Context(), issued.User)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, status, sessionBody{
		Token:     issued.Key,
		ExpiresAt: optionalTimestamp(issued.ExpiresAt),
		User:      a.userBody(issued.User, prof),
	})
}

// writeUser answers {"user": ...}.
func (a *API) writeUser(w http.ResponseWriter, r *http.Request, user *auth.User) {
	prof, err := a.profiles.GetOrCreate(r.Context(), user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, map[string]userBody{"user": a.userBody(user, prof)})
}

func (a *API) signup(w http.ResponseWriter, r *http.Request) {
	p, ok := a.readPayload(w, r)
	if !ok {
		return
	}
	interests, _ := p.list("interests")
	issued, err := a.auth.Signup(r.Context(), auth.SignupInput{
		Name:      p.trimmed("name"),
		Username:  p.trimmed("username"),
		Email:     p.trimmed("email"),
		Password:  p.str("password"),
		Confirm:   p.str("confirm", "confirm_password"),
		Status:    p.trimmed("status"),
		Bio:       p.trimmed("bio"),
		Location:  p.trimmed("location"),
		Interests: interests,
		Agree:     p.truthy("agree", "agreed_to_terms"),
		Remember:  p.truthy("remember"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, r, http.StatusCreated, issued)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	p, ok := a.readPayload(w, r)
	if !ok {
		return
	}
	issued, err := a.auth.Login(r.Context(), p.trimmed("identifier"), p.str("password"), p.truthy("remember"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, r, http.StatusOK, issued)
}

func (a *API) session(w http.ResponseWriter, r *http.Request) {
	a.writeUser(w, r, principal(r).User)
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Logout(r.Context(), principal(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	a.clearSessionCookie(w)
	a.writeDetail(w, r, http.StatusOK, "Logged out.")
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	if _, err := a.auth.LogoutAll(r.Context(), principal(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	a.clearSessionCookie(w)
	a.writeDetail(w, r, http.StatusOK, "All sessions cleared.")
}

func (a *API) changeEmail(w http.ResponseWriter, r *http.Request) {
	p, ok := a.readPayload(w, r)
	if !ok {
		return
	}
	user, err := a.auth.ChangeEmail(r.Context(), principal(r),
		p.trimmed("email", "new_email"),
		p.str("password", "current_password"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeUser(w, r, user)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := a.readPayload(w, r)
	if !ok {
		return
	}
	caller := principal(r)
	current := p.str("current", "current_password")
	next := p.str("new", "new_password", "password")
	confirm := p.str("confirm", "confirm_password")

	var v auth.ValidationError
	if next == "" {
		v.Add("new", "Create a new password.")
	} else if msg := a.auth.PasswordPolicyMessage(next); msg != "" {
		v.Add("new", msg)
	}
	checkConfirm(&v, next, confirm)
	// The current password is verified here only to report it alongside
	// other field errors; otherwise ChangePassword verifies it.
	switch {
	case current == "":
		v.Add("current", "Enter your current password.")
	case v.Err() != nil && !a.auth.CheckPassword(caller.User, current):
		v.Add("current", "Incorrect current password.")
	}
	if v.Err() != nil {
		a.writeFields(w, r, v.Fields)
		return
	}

	issued, err := a.creds.ChangePassword(r.Context(), caller, current, next)
	if errutil.Code(err) == auth.CodeInvalidCredentials {
		a.writeFields(w, r, map[string]string{"current": "Incorrect current password."})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, r, http.StatusOK, issued)
}

// resetRequestDetail is the only reply to a reset request, whether or not the
// identifier matched an account.
const resetRequestDetail = "If an account exists, a reset token has been created."

type resetRequestBody struct {
	Detail     string `json:"detail"`
	ResetToken string `json:"reset_token,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

func (a *API) requestReset(w http.ResponseWriter, r *http.Request) {
	p, ok := a.readPayload(w, r)
	if !ok {
		return
	}
	req, err := a.auth.RequestReset(r.Context(), p.trimmed("identifier", "email", "username"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	body := resetRequestBody{Detail: resetRequestDetail}
	if a.echoResets && req.Issued() {
		body.ResetToken = req.Key
		body.ExpiresAt = timestamp(req.ExpiresAt)
	}
	a.writeJSON(w, r, http.StatusOK, body)
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	p, ok := a.readPayload(w, r)
	if !ok {
		return
	}
	key := p.trimmed("token", "reset_token")
	next := p.str("password", "new_password")
	confirm := p.str("confirm", "confirm_password")

	var v auth.ValidationError
	if key == "" {
		v.Add("token", "Reset token is required.")
	}
	if next == "" {
		v.Add("password", "Password is required.")
	} else if msg := a.auth.PasswordPolicyMessage(next); msg != "" {
		v.Add("password", msg)
	}
	checkConfirm(&v, next, confirm)
	if v.Err() != nil {
		a.writeFields(w, r, v.Fields)
		return
	}

	issued, err := a.creds.RedeemReset(r.Context(), key, next)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeSession(w, r, http.StatusOK, issued)
}

func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := a.readPayload(w, r)
	if !ok {
		return
	}
	caller := principal(r)
	prof, err := a.profiles.GetOrCreate(r.Context(), caller.User)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	err = a.auth.DeleteAccount(r.Context(), caller, p.trimmed("confirm", "confirmation"), p.str("password"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.profiles.DiscardPhoto(r.Context(), prof.PhotoKey)
	a.clearSessionCookie(w)
	a.writeDetail(w, r, http.StatusOK, "Account deleted.")
}

func checkConfirm(v *auth.ValidationError, next, confirm string) {
	switch {
	case confirm == "":
		v.Add("confirm", "Confirm your new password.")
	case next != confirm:
		v.Add("confirm", "Passwords do not match.")
	}
}
