// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "migrate", "reap"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "with equals",
			args:     []string{"--config=/etc/profilespaces.yaml", "--help"},
			wantFlag: "/etc/profilespaces.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""
			t.Cleanup(func() { configFile = "" })

			cmd := NewRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_SettingFlagsAreInherited(t *testing.T) {
	cmd := NewRootCmd()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"http-addr", "database-url", "api-auth-token", "photo-bucket", "reap-interval"} {
		assert.NotNil(t, serve.InheritedFlags().Lookup(name), "serve missing inherited --%s", name)
	}
}

func TestLoadConfig_FallsBackToXDGConfigFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	dir := filepath.Join(base, "profilespaces")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("http_addr: 127.0.0.1:9999\n"), 0o600))

	configFile = ""
	t.Cleanup(func() { configFile = "" })

	cmd := NewRootCmd()
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTPAddr)

	explicit := filepath.Join(t.TempDir(), "other.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("http_addr: 127.0.0.1:7777\n"), 0o600))
	configFile = explicit
	cfg, err = loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.HTTPAddr)
}
