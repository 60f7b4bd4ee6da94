// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/profilespaces/profilespaces/internal/config"
	"github.com/profilespaces/profilespaces/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the ProfileSpaces CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profilespaces",
		Short: "ProfileSpaces - account and profile service",
		Long: `ProfileSpaces serves the account JSON API: signup, login, sessions,
password resets, profile settings, notification preferences and photos.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (default $XDG_CONFIG_HOME/profilespaces/config.yaml when present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewReapCmd())

	return cmd
}

// loadConfig reads the config file named by --config, the environment and
// the flags of cmd, including inherited ones. Without --config the XDG
// config file is used if it exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = xdg.DefaultConfigFile()
	}
	return config.Load(path, cmd.Flags())
}
