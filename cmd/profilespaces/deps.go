// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/profilespaces/profilespaces/internal/observability"
	"github.com/profilespaces/profilespaces/internal/photos"
	"github.com/profilespaces/profilespaces/internal/profile"
	"github.com/profilespaces/profilespaces/internal/store"
)

// Database is the connection pool the commands run against. *pgxpool.Pool
// and pgxmock pools satisfy it.
type Database interface {
	store.Pool
	Ping(ctx context.Context) error
	Close()
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseFactory opens the connection pool.
	// Default: store.Connect with retries
	DatabaseFactory func(ctx context.Context, url string) (Database, error)

	// PhotoStoreFactory builds the photo object store.
	// Default: photos.New
	PhotoStoreFactory func(ctx context.Context, cfg photos.Config) (profile.PhotoStore, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readiness observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.DatabaseFactory == nil {
		out.DatabaseFactory = connectDatabase
	}
	if out.PhotoStoreFactory == nil {
		out.PhotoStoreFactory = func(ctx context.Context, cfg photos.Config) (profile.PhotoStore, error) {
			s, err := photos.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readiness observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, readiness, logger)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func connectDatabase(ctx context.Context, url string) (Database, error) {
	pool, err := store.Connect(ctx, url, store.DefaultConnectOptions())
	if err != nil {
		return nil, err
	}
	return pool, nil
}
