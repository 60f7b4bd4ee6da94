// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/internal/auth/authtest"
	"github.com/profilespaces/profilespaces/internal/auth/postgres"
	"github.com/profilespaces/profilespaces/internal/store"
	"github.com/profilespaces/profilespaces/pkg/errutil"
)

const password = "correct-horse"

func newStores() auth.Stores {
	return auth.Stores{
		Users:    postgres.NewUserRepository(testPool),
		Sessions: postgres.NewSessionTokenRepository(testPool),
		Resets:   postgres.NewPasswordResetTokenRepository(testPool),
		Tx:       store.NewTransactor(testPool),
	}
}

// blindSessions skips the pre-insert key check so the unique constraint is
// what detects the collision.
type blindSessions struct {
	*postgres.SessionTokenRepository
}

func (blindSessions) KeyHashExists(context.Context, string) (bool, error) { return false, nil }

var _ = Describe("Auth service on PostgreSQL", func() {
	var (
		ctx   context.Context
		clock *authtest.Clock
		svc   *auth.Service
		creds *auth.CredentialManager
	)

	signup := func(username string, remember bool) *auth.IssuedSession {
		issued, err := svc.Signup(ctx, auth.SignupInput{
			Name: "Test " + username, Username: username, Email: username + "@example.com",
			Password: password, Confirm: password, Agree: true, Remember: remember,
		})
		Expect(err).NotTo(HaveOccurred())
		return issued
	}

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		clock = authtest.NewClock(time.Now().UTC().Truncate(time.Microsecond))

		var err error
		svc, err = auth.NewService(newStores(), authtest.FastHasher(), auth.WithClock(clock.Now))
		Expect(err).NotTo(HaveOccurred())
		creds, err = auth.NewCredentialManager(svc)
		Expect(err).NotTo(HaveOccurred())
	})

	It("resolves issued keys and expires them at the boundary", func() {
		issued := signup("alice", false)

		p, err := svc.AuthenticateKey(ctx, issued.Key, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.User.Username).To(Equal("alice"))

		clock.Advance(24 * time.Hour)
		_, err = svc.AuthenticateKey(ctx, issued.Key, false)
		Expect(errutil.Code(err)).To(Equal(auth.CodeTokenExpired))

		var n int
		Expect(testPool.QueryRow(ctx, `SELECT COUNT(*) FROM session_tokens`).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
	})

	It("rejects a duplicate signup without leaving partial rows", func() {
		signup("alice", false)
		_, err := svc.Signup(ctx, auth.SignupInput{
			Name: "Other", Username: "ALICE", Email: "other@example.com",
			Password: password, Confirm: password, Agree: true,
		})
		var verr *auth.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(verr.Fields).To(HaveKey("username"))

		var n int
		Expect(testPool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)).To(Succeed())
		Expect(n).To(Equal(1))
	})

	It("retries a key collision inside the signup transaction", func() {
		stores := newStores()
		stores.Sessions = blindSessions{postgres.NewSessionTokenRepository(testPool)}
		keys := authtest.NewScriptedKeys("dup", "dup", "fresh")
		var err error
		svc, err = auth.NewService(stores, authtest.FastHasher(),
			auth.WithClock(clock.Now), auth.WithKeyGenerator(keys))
		Expect(err).NotTo(HaveOccurred())

		Expect(signup("alice", false).Key).To(Equal("dup"))
		Expect(signup("bob", false).Key).To(Equal("fresh"))
	})

	It("revokes everything on password change", func() {
		issued := signup("alice", true)
		req, err := svc.RequestReset(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())

		p, err := svc.AuthenticateKey(ctx, issued.Key, false)
		Expect(err).NotTo(HaveOccurred())
		next, err := creds.ChangePassword(ctx, p, password, "battery-staple")
		Expect(err).NotTo(HaveOccurred())
		Expect(*next.ExpiresAt).To(BeTemporally("~", clock.Now().Add(30*24*time.Hour), time.Millisecond))

		_, err = svc.AuthenticateKey(ctx, issued.Key, false)
		Expect(errutil.Code(err)).To(Equal(auth.CodeInvalidToken))
		_, err = creds.RedeemReset(ctx, req.Key, "another-password")
		Expect(errutil.Code(err)).To(Equal(auth.CodeResetTokenUsed))
	})

	It("lets exactly one concurrent redemption succeed", func() {
		signup("alice", false)
		req, err := svc.RequestReset(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())

		const attempts = 8
		var wg sync.WaitGroup
		errs := make([]error, attempts)
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, errs[i] = creds.RedeemReset(ctx, req.Key, "battery-staple")
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			}
		}
		Expect(succeeded).To(Equal(1))

		var sessions int
		Expect(testPool.QueryRow(ctx, `SELECT COUNT(*) FROM session_tokens`).Scan(&sessions)).To(Succeed())
		Expect(sessions).To(Equal(1))
	})

	It("cascades account deletion", func() {
		issued := signup("alice", false)
		_, err := svc.RequestReset(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		p, err := svc.AuthenticateKey(ctx, issued.Key, false)
		Expect(err).NotTo(HaveOccurred())

		Expect(svc.DeleteAccount(ctx, p, auth.DeleteConfirmation, password)).To(Succeed())

		var tokens int
		Expect(testPool.QueryRow(ctx,
			`SELECT (SELECT COUNT(*) FROM session_tokens) + (SELECT COUNT(*) FROM password_reset_tokens)`,
		).Scan(&tokens)).To(Succeed())
		Expect(tokens).To(BeZero())
	})

	It("reaps expired tokens", func() {
		signup("alice", false)
		_, err := svc.RequestReset(ctx, "alice")
		Expect(err).NotTo(HaveOccurred())
		clock.Advance(48 * time.Hour)

		reaper, err := auth.NewReaper(svc, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		res, err := reaper.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(auth.ReapResult{Sessions: 1, ResetTokens: 1}))
	})
})
