// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

// Package httpapi serves the account JSON API under /api/accounts.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/samber/oops"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/internal/observability"
	"github.com/profilespaces/profilespaces/internal/profile"
)

// DefaultAuthRateLimit is the per-IP request budget per minute on the
// credential endpoints.
const DefaultAuthRateLimit = 30

// Config wires the API to its services.
type Config struct {
	Auth        *auth.Service
	Credentials *auth.CredentialManager
	Profiles    *profile.Service

	// APIKey is the shared secret required in X-API-Key; empty disables it.
	APIKey       string
	CookieSecure bool
	// AllowedOrigins enables CORS for these browser origins.
	AllowedOrigins []string
	// AuthRateLimit caps signup, login and reset requests per IP per minute.
	// Zero uses DefaultAuthRateLimit; negative disables the limit.
	AuthRateLimit int
	// EchoResetKeys returns issued reset keys in the reset request response.
	// Development only: it lets anyone who knows a username reset its
	// password.
	EchoResetKeys bool

	Metrics *observability.Metrics // optional
	Logger  *slog.Logger
}

// API is the account HTTP handler.
type API struct {
	auth         *auth.Service
	creds        *auth.CredentialManager
	profiles     *profile.Service
	guard        *auth.Guard
	cookieSecure bool
	echoResets   bool
	logger       *slog.Logger
	router       chi.Router
}

// New builds the API and its routes.
func New(cfg Config) (*API, error) {
	switch {
	case cfg.Auth == nil:
		return nil, oops.Code("HTTPAPI_INVALID_CONFIG").Errorf("auth service is required")
	case cfg.Credentials == nil:
		return nil, oops.Code("HTTPAPI_INVALID_CONFIG").Errorf("credential manager is required")
	case cfg.Profiles == nil:
		return nil, oops.Code("HTTPAPI_INVALID_CONFIG").Errorf("profile service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &API{
		auth:         cfg.Auth,
		creds:        cfg.Credentials,
		profiles:     cfg.Profiles,
		cookieSecure: cfg.CookieSecure,
		echoResets:   cfg.EchoResetKeys,
		logger:       logger,
	}
	guard, err := auth.NewGuard(cfg.Auth, auth.GuardConfig{APIKey: cfg.APIKey, OnError: a.fail})
	if err != nil {
		return nil, err
	}
	a.guard = guard

	limit := cfg.AuthRateLimit
	if limit == 0 {
		limit = DefaultAuthRateLimit
	}
	a.router = a.routes(cfg.Metrics, cfg.AllowedOrigins, limit)
	return a, nil
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) routes(metrics *observability.Metrics, origins []string, limit int) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if metrics != nil {
		r.Use(metrics.Middleware)
	}
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept", "Authorization", "Content-Type",
				auth.HeaderAPIKey, auth.HeaderSessionToken, auth.HeaderSession,
			},
			AllowCredentials: true,
			MaxAge:           int((10 * time.Minute).Seconds()),
		}))
	}

	r.Route("/api/accounts", func(r chi.Router) {
		r.Use(a.guard.APIKeyMiddleware)

		r.Group(func(r chi.Router) {
			if limit > 0 {
				r.Use(httprate.Limit(limit, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
						a.writeDetail(w, r, http.StatusTooManyRequests, "Too many requests. Try again later.")
					}),
				))
			}
			r.Post("/signup/", a.signup)
			r.Post("/login/", a.login)
			r.Post("/password/reset/request/", a.requestReset)
			r.Post("/password/reset/", a.resetPassword)
		})

		// Routes that end or replace the session do not extend it.
		r.Group(func(r chi.Router) {
			r.Use(a.guard.Middleware(false))
			r.Post("/logout/", a.logout)
			r.Post("/logout/all/", a.logoutAll)
			r.Post("/password/change/", a.changePassword)
			r.Post("/delete/", a.deleteAccount)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.guard.Middleware(true))
			r.Get("/session/", a.session)
			r.Post("/email/", a.changeEmail)
			r.Get("/profile/", a.getProfile)
			r.Patch("/profile/", a.updateProfile)
			r.Post("/profile/", a.updateProfile)
			r.Get("/profile/username/", a.usernameAvailability)
			r.Get("/profile/url/", a.slugAvailability)
			r.Post("/profile/photo/", a.uploadPhoto)
			r.Delete("/profile/photo/delete/", a.deletePhoto)
			r.Get("/notifications/", a.getNotifications)
			r.Patch("/notifications/", a.updateNotifications)
		})
	})
	return r
}

// principal returns the authenticated caller. Guarded routes always have one.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

// clearSessionCookie expires the session_token cookie.
func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
