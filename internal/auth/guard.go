// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Header and cookie names probed for session keys.
const (
	HeaderAPIKey       = "X-API-Key"
	HeaderSessionToken = "X-Session-Token"
	HeaderSession      = "X-Session"
	SessionCookieName  = "session_token"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// APIKey is the shared secret every request must present in X-API-Key.
	// Empty disables the check.
	APIKey string
	// OnError renders authentication failures from Middleware. Defaults to a
	// bare 401.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Guard authenticates HTTP requests.
type Guard struct {
	svc     *Service
	apiKey  [sha256.Size]byte
	gated   bool
	onError func(w http.ResponseWriter, r *http.Request, err error)
}

// NewGuard creates a Guard backed by svc.
func NewGuard(svc *Service, cfg GuardConfig) (*Guard, error) {
	if svc == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("service is required")
	}
	g := &Guard{svc: svc, onError: cfg.OnError}
	if cfg.APIKey != "" {
		g.gated = true
		g.apiKey = sha256.Sum256([]byte(cfg.APIKey))
	}
	if g.onError == nil {
		g.onError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		}
	}
	return g, nil
}

// ExtractKey returns the session key carried by r, probing the Authorization
// header (Token or Bearer scheme), X-Session-Token, X-Session and finally the
// session_token cookie. It returns "" when none is present.
func ExtractKey(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		scheme, value, ok := strings.Cut(authz, " ")
		if ok && (strings.EqualFold(scheme, "token") || strings.EqualFold(scheme, "bearer")) {
			return strings.TrimSpace(value)
		}
	}
	for _, h := range []string{HeaderSessionToken, HeaderSession} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// CheckAPIKey enforces the shared-secret gate.
func (g *Guard) CheckAPIKey(r *http.Request) error {
	if !g.gated {
		return nil
	}
	provided := r.Header.Get(HeaderAPIKey)
	sum := sha256.Sum256([]byte(provided))
	if provided == "" || subtle.ConstantTimeCompare(sum[:], g.apiKey[:]) != 1 {
		return oops.Code(CodeInvalidAPIKey).Errorf("invalid or missing API token")
	}
	return nil
}

// Authenticate resolves the session key carried by r.
func (g *Guard) Authenticate(ctx context.Context, r *http.Request, refresh bool) (*Principal, error) {
	return g.svc.AuthenticateKey(ctx, ExtractKey(r), refresh)
}

// AuthenticateKey resolves an explicit session key.
func (g *Guard) AuthenticateKey(ctx context.Context, key string, refresh bool) (*Principal, error) {
	return g.svc.AuthenticateKey(ctx, key, refresh)
}

// APIKeyMiddleware rejects requests failing CheckAPIKey.
func (g *Guard) APIKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.CheckAPIKey(r); err != nil {
			g.onError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Middleware authenticates each request and stores the Principal in its
// context. refresh slides the session expiry.
func (g *Guard) Middleware(refresh bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := g.Authenticate(r.Context(), r, refresh)
			if err != nil {
				g.onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the Principal stored by Middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
