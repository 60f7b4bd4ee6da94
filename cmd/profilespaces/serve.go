// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/profilespaces/profilespaces/internal/auth"
	authpg "github.com/profilespaces/profilespaces/internal/auth/postgres"
	"github.com/profilespaces/profilespaces/internal/config"
	"github.com/profilespaces/profilespaces/internal/httpapi"
	"github.com/profilespaces/profilespaces/internal/logging"
	"github.com/profilespaces/profilespaces/internal/observability"
	"github.com/profilespaces/profilespaces/internal/photos"
	"github.com/profilespaces/profilespaces/internal/profile"
	profilepg "github.com/profilespaces/profilespaces/internal/profile/postgres"
	"github.com/profilespaces/profilespaces/internal/store"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the account API server",
		Long: `Start the HTTP server for the account API, the metrics and health
endpoints, and the expired token sweeper.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// setupLogging installs the default logger for cfg.
func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	return logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
	})
}

// newAuthService wires the auth service to the PostgreSQL repositories in db.
func newAuthService(cfg *config.Config, db Database, logger *slog.Logger, opts ...auth.Option) (*auth.Service, error) {
	stores := auth.Stores{
		Users:    authpg.NewUserRepository(db),
		Sessions: authpg.NewSessionTokenRepository(db),
		Resets:   authpg.NewPasswordResetTokenRepository(db),
		Tx:       store.NewTransactor(db),
	}
	opts = append([]auth.Option{
		auth.WithLogger(logger),
		auth.WithSessionPolicy(cfg.SessionPolicy()),
		auth.WithResetTTL(cfg.ResetTTL),
		auth.WithMinPasswordLength(cfg.MinPasswordLength),
	}, opts...)
	return auth.NewService(stores, auth.NewArgon2idHasher(), opts...)
}

// app is the wired service graph behind the API.
type app struct {
	auth    *auth.Service
	handler http.Handler
}

func buildApp(ctx context.Context, cfg *config.Config, db Database, metrics *observability.Metrics, logger *slog.Logger, deps *ServeDeps) (*app, error) {
	var photoStore profile.PhotoStore
	if cfg.PhotosEnabled() {
		s, err := deps.PhotoStoreFactory(ctx, photos.Config{
			Bucket:         cfg.PhotoBucket,
			Region:         cfg.PhotoRegion,
			Endpoint:       cfg.PhotoEndpoint,
			AccessKey:      cfg.PhotoAccessKey,
			SecretKey:      cfg.PhotoSecretKey,
			PublicBaseURL:  cfg.PhotoPublicBaseURL,
			ForcePathStyle: cfg.PhotoPathStyle,
		})
		if err != nil {
			return nil, oops.Code("PHOTOS_INIT_FAILED").Wrap(err)
		}
		photoStore = s
	} else {
		logger.Warn("photo bucket not configured, photo uploads disabled")
	}

	users := authpg.NewUserRepository(db)
	profiles, err := profile.NewService(profile.ServiceConfig{
		Profiles:      profilepg.NewProfileRepository(db),
		Accounts:      users,
		Tx:            store.NewTransactor(db),
		Photos:        photoStore,
		MaxPhotoBytes: cfg.PhotoMaxBytes,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	opts := []auth.Option{auth.WithProfileInitializer(profiles)}
	if metrics != nil {
		opts = append(opts, auth.WithRecorder(metrics))
	}
	if cfg.ResetEchoKey {
		logger.Warn("reset_echo_key is enabled, reset keys are returned to API callers")
	}
	svc, err := newAuthService(cfg, db, logger, opts...)
	if err != nil {
		return nil, err
	}
	creds, err := auth.NewCredentialManager(svc)
	if err != nil {
		return nil, err
	}

	// The API treats zero as "use the default"; the config treats it as
	// "no limit".
	limit := cfg.RateLimit
	if limit == 0 {
		limit = -1
	}
	api, err := httpapi.New(httpapi.Config{
		Auth:           svc,
		Credentials:    creds,
		Profiles:       profiles,
		APIKey:         cfg.APIAuthToken,
		CookieSecure:   cfg.CookieSecure,
		AllowedOrigins: cfg.AllowedOrigins(),
		AuthRateLimit:  limit,
		EchoResetKeys:  cfg.ResetEchoKey,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{auth: svc, handler: api}, nil
}

// runServeWithDeps starts the API with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return oops.Wrapf(err, "invalid configuration")
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return oops.Wrapf(err, "set up logging")
	}

	logger.Info("starting account service",
		"http_addr", cfg.HTTPAddr,
		"metrics_addr", cfg.MetricsAddr,
		"version", version,
	)

	db, err := deps.DatabaseFactory(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer db.Close()
	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, db.Ping, logger)
		metrics = obsServer.Metrics()
	}

	a, err := buildApp(ctx, cfg, db, metrics, logger, deps)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTPAddr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTPAddr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()
	logger.Info("API server listening", "addr", listener.Addr().String())

	if obsServer != nil {
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			shutdownHTTP(httpServer, logger)
			return oops.Wrapf(startErr, "start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, logger, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	if cfg.ReapInterval > 0 {
		reaper, reapErr := auth.NewReaper(a.auth, cfg.ReapInterval)
		if reapErr != nil {
			shutdownHTTP(httpServer, logger)
			return reapErr
		}
		reaper.Start(ctx)
		defer reaper.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Account service started")

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case serveErr := <-errChan:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(serveErr)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownHTTP(httpServer, logger)
	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	cancel()

	logger.Info("shutdown complete")
	return runErr
}

func shutdownHTTP(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error stopping API server", "error", err)
	}
}

// monitorServerErrors cancels the process context when a server reports an
// error. It returns when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, logger *slog.Logger, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
