// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/profilespaces/profilespaces/internal/auth"
)

const password = "correct-horse"

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type reply struct {
	status int
	body   map[string]any
}

func (r reply) str(key string) string {
	s, _ := r.body[key].(string)
	return s
}

func (r reply) object(key string) map[string]any {
	obj, _ := r.body[key].(map[string]any)
	return obj
}

func (s *stack) send(req *http.Request, token string) reply {
	GinkgoHelper()
	req.Header.Set(auth.HeaderAPIKey, apiKey)
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	resp, err := s.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	out := reply{status: resp.StatusCode}
	if len(raw) > 0 {
		Expect(json.Unmarshal(raw, &out.body)).To(Succeed(), string(raw))
	}
	return out
}

func (s *stack) call(method, path string, body any, token string) reply {
	GinkgoHelper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+"/api/accounts"+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	return s.send(req, token)
}

func (s *stack) signup(username string, remember bool) string {
	GinkgoHelper()
	res := s.call(http.MethodPost, "/signup/", map[string]any{
		"name": "Test " + username, "username": username, "email": username + "@example.com",
		"password": password, "confirm": password, "agree": true, "remember": remember,
	}, "")
	Expect(res.status).To(Equal(http.StatusCreated), fmt.Sprint(res.body))
	return res.str("token")
}

func (s *stack) upload(token string, data []byte) reply {
	GinkgoHelper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="photo"; filename="me.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(mw.Close()).To(Succeed())

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/accounts/profile/photo/", &buf)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.send(req, token)
}

func countRows(table string) int {
	GinkgoHelper()
	var n int
	Expect(env.pool.QueryRow(env.ctx, "SELECT count(*) FROM "+table).Scan(&n)).To(Succeed())
	return n
}

var _ = Describe("Account API", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack(epoch)
	})

	It("signs up, edits the profile and logs in under the new username", func() {
		token := s.signup("ada", false)

		res := s.call(http.MethodGet, "/session/", nil, token)
		Expect(res.status).To(Equal(http.StatusOK))
		Expect(res.object("user")).To(HaveKeyWithValue("profile_url", "ada"))

		res = s.call(http.MethodPatch, "/profile/", map[string]any{
			"display_name": "Ada L", "username": "countess", "interests": []any{"math", "math", "looms"},
		}, token)
		Expect(res.status).To(Equal(http.StatusOK), fmt.Sprint(res.body))
		Expect(res.object("profile")).To(HaveKeyWithValue("profile_url", "countess"))
		Expect(res.object("profile")).To(HaveKeyWithValue("interests", []any{"math", "looms"}))

		res = s.call(http.MethodPost, "/login/", map[string]any{"identifier": "COUNTESS", "password": password}, "")
		Expect(res.status).To(Equal(http.StatusOK))
		Expect(res.object("user")).To(HaveKeyWithValue("name", "Ada L"))
	})

	It("rejects a username already held by another account", func() {
		s.signup("grace", false)
		token := s.signup("ada", false)

		res := s.call(http.MethodPatch, "/profile/", map[string]any{"display_name": "Ada", "username": "Grace"}, token)
		Expect(res.status).To(Equal(http.StatusBadRequest))
		Expect(res.object("errors")).To(HaveKeyWithValue("username", "This username is already taken."))

		res = s.call(http.MethodGet, "/profile/url/?slug=grace", nil, token)
		Expect(res.body).To(HaveKeyWithValue("available", false))
	})

	It("resets a password once and revokes existing sessions", func() {
		token := s.signup("ada", true)

		res := s.call(http.MethodPost, "/password/reset/request/", map[string]any{"email": "ada@example.com"}, "")
		Expect(res.status).To(Equal(http.StatusOK))
		Expect(res.body).To(Equal(map[string]any{"detail": "If an account exists, a reset token has been created."}))
		key := s.resets.Key("ada")
		Expect(key).NotTo(BeEmpty())

		body := map[string]any{"token": key, "password": "brand-new-pass", "confirm": "brand-new-pass"}
		res = s.call(http.MethodPost, "/password/reset/", body, "")
		Expect(res.status).To(Equal(http.StatusOK), fmt.Sprint(res.body))
		fresh := res.str("token")

		Expect(s.call(http.MethodGet, "/session/", nil, token).status).To(Equal(http.StatusUnauthorized))
		Expect(s.call(http.MethodGet, "/session/", nil, fresh).status).To(Equal(http.StatusOK))

		res = s.call(http.MethodPost, "/password/reset/", body, "")
		Expect(res.status).To(Equal(http.StatusBadRequest))
		Expect(res.body).To(HaveKeyWithValue("detail", "Reset token is invalid or expired."))

		res = s.call(http.MethodPost, "/login/", map[string]any{"identifier": "ada", "password": "brand-new-pass"}, "")
		Expect(res.status).To(Equal(http.StatusOK))
	})

	It("deletes expired sessions when they are presented", func() {
		token := s.signup("ada", false)
		Expect(countRows("session_tokens")).To(Equal(1))

		s.clock.Advance(auth.DefaultShortTTL + time.Minute)
		res := s.call(http.MethodGet, "/session/", nil, token)
		Expect(res.status).To(Equal(http.StatusUnauthorized))
		Expect(res.body).To(HaveKeyWithValue("detail", "Session expired. Please log in again."))
		Expect(countRows("session_tokens")).To(BeZero())
	})

	It("sweeps expired tokens with the reaper", func() {
		s.signup("ada", false)
		s.signup("grace", true)
		Expect(s.call(http.MethodPost, "/password/reset/request/", map[string]any{"identifier": "ada"}, "").status).
			To(Equal(http.StatusOK))

		s.clock.Advance(2 * auth.DefaultShortTTL)
		reaper, err := auth.NewReaper(s.auth, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		res, err := reaper.RunOnce(env.ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Sessions).To(Equal(int64(1)))
		Expect(res.ResetTokens).To(Equal(int64(1)))
		Expect(countRows("session_tokens")).To(Equal(1), "the remembered session survives")
	})

	It("removes the account, its profile and its photo", func() {
		token := s.signup("ada", false)
		Expect(s.upload(token, []byte("png")).status).To(Equal(http.StatusOK))
		Expect(s.photos.Keys()).To(HaveLen(1))

		res := s.call(http.MethodPost, "/delete/", map[string]any{"confirm": "DELETE", "password": password}, token)
		Expect(res.status).To(Equal(http.StatusOK), fmt.Sprint(res.body))

		Expect(s.photos.Keys()).To(BeEmpty())
		Expect(countRows("users")).To(BeZero())
		Expect(countRows("profiles")).To(BeZero())
		Expect(countRows("session_tokens")).To(BeZero())
	})
})
