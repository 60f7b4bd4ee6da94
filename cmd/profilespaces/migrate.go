// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package main

import (
	"fmt"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/profilespaces/profilespaces/internal/store"
)

// Migrator is the subset of store.Migrator used by the migrate commands.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// MigratorFactory opens a Migrator for a database URL.
type MigratorFactory func(databaseURL string) (Migrator, error)

func defaultMigratorFactory(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(defaultMigratorFactory)
}

func newMigrateCmd(factory MigratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back or inspect the PostgreSQL schema migrations.`,
		// Bare "migrate" applies pending migrations.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, runMigrateUp)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, runMigrateUp)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("refusing to drop all tables without --yes")
			}
			return withMigrator(cmd, factory, func(cmd *cobra.Command, m Migrator) error {
				cmd.Println("Rolling back all migrations...")
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("All migrations rolled back")
				return nil
			})
		},
	}
	down.Flags().Bool("yes", false, "confirm dropping all tables")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, runMigrateStatus)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Mark VERSION as applied and clear the dirty flag. Use only after
repairing a database left dirty by a failed migration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return withMigrator(cmd, factory, func(cmd *cobra.Command, m Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced version %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, factory MigratorFactory, fn func(*cobra.Command, Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}

	m, err := factory(cfg.DatabaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()
	return fn(cmd, m)
}

func runMigrateUp(cmd *cobra.Command, m Migrator) error {
	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, m Migrator) error {
	status, err := m.Status()
	if err != nil {
		return err
	}
	cmd.Printf("Current version: %d\n", status.Version)
	if status.Dirty {
		cmd.Println("Database is DIRTY: repair it, then run 'migrate force VERSION'")
	}
	if len(status.Pending) == 0 {
		cmd.Println("No pending migrations")
		return nil
	}
	cmd.Printf("Pending migrations: %d\n", len(status.Pending))
	for _, v := range status.Pending {
		name, nameErr := store.MigrationName(v)
		if nameErr != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		cmd.Printf("  %s\n", name)
	}
	return nil
}
