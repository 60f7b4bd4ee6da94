// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package observability

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/profilespaces/profilespaces/internal/auth"
)

var _ auth.Recorder = (*Metrics)(nil)

// Metrics holds the account service counters.
type Metrics struct {
	AuthAttempts         *prometheus.CounterVec
	SessionsIssued       *prometheus.CounterVec
	SessionsRevokedTotal *prometheus.CounterVec
	TokensReapedTotal    *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profilespaces_auth_attempts_total",
				Help: "Credential checks by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		SessionsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profilespaces_sessions_issued_total",
				Help: "Session tokens issued by reason",
			},
			[]string{"reason"},
		),
		SessionsRevokedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profilespaces_sessions_revoked_total",
				Help: "Session tokens revoked by reason",
			},
			[]string{"reason"},
		),
		TokensReapedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profilespaces_tokens_reaped_total",
				Help: "Expired tokens removed by the background sweep",
			},
			[]string{"kind"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profilespaces_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
	}

	reg.MustRegister(m.AuthAttempts, m.SessionsIssued, m.SessionsRevokedTotal, m.TokensReapedTotal, m.HTTPRequests)
	return m
}

// AuthAttempt implements auth.Recorder.
func (m *Metrics) AuthAttempt(operation, outcome string) {
	m.AuthAttempts.WithLabelValues(operation, outcome).Inc()
}

// SessionIssued implements auth.Recorder.
func (m *Metrics) SessionIssued(reason string) {
	m.SessionsIssued.WithLabelValues(reason).Inc()
}

// SessionsRevoked implements auth.Recorder.
func (m *Metrics) SessionsRevoked(reason string, n int64) {
	if n > 0 {
		m.SessionsRevokedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// TokensReaped implements auth.Recorder.
func (m *Metrics) TokensReaped(kind string, n int64) {
	if n > 0 {
		m.TokensReapedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// Middleware counts requests by their chi route pattern. Unmatched requests
// are labelled "unmatched" to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
