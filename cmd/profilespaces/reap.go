// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/profilespaces/profilespaces/internal/auth"
	"github.com/profilespaces/profilespaces/internal/config"
)

// NewReapCmd creates the reap subcommand.
func NewReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired session and reset tokens once",
		Long: `Run a single sweep that deletes expired session tokens and password
reset tokens, then exit. Useful from cron when serve runs with
--reap-interval=0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runReap(cmd.Context(), cfg, cmd, connectDatabase)
		},
	}
}

func runReap(ctx context.Context, cfg *config.Config, cmd *cobra.Command, connect func(context.Context, string) (Database, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return oops.Wrapf(err, "invalid configuration")
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return oops.Wrapf(err, "set up logging")
	}

	db, err := connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer db.Close()

	svc, err := newAuthService(cfg, db, logger)
	if err != nil {
		return err
	}
	reaper, err := auth.NewReaper(svc, auth.DefaultReapInterval)
	if err != nil {
		return err
	}
	res, err := reaper.RunOnce(ctx)
	cmd.Printf("Removed %d expired sessions and %d expired reset tokens\n", res.Sessions, res.ResetTokens)
	return err
}
