// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilespaces/profilespaces/pkg/errutil"
)

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("invalid://url")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"postgres scheme", "postgres://u:p@db:5432/app", "pgx5://u:p@db:5432/app"},
		{"postgresql scheme", "postgresql://db/app?sslmode=disable", "pgx5://db/app?sslmode=disable"},
		{"already pgx5", "pgx5://db/app", "pgx5://db/app"},
		{"other scheme untouched", "mysql://db/app", "mysql://db/app"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, migrationURL(tt.in))
		})
	}
}

type fakeMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	forced         int
	closeSourceErr error
	closeDBErr     error
}

func (m *fakeMigrate) Up() error                    { return m.upErr }
func (m *fakeMigrate) Down() error                  { return m.downErr }
func (m *fakeMigrate) Steps(_ int) error            { return m.stepsErr }
func (m *fakeMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *fakeMigrate) Force(v int) error {
	m.forced = v
	return m.forceErr
}
func (m *fakeMigrate) Close() (error, error) { return m.closeSourceErr, m.closeDBErr }

func TestMigrator_Up(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"applies", nil, false},
		{"no change is success", migrate.ErrNoChange, false},
		{"failure", errors.New("database locked"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: &fakeMigrate{upErr: tt.err}}
			err := m.Up()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "MIGRATION_UP_FAILED")
		})
	}
}

func TestMigrator_Down(t *testing.T) {
	require.NoError(t, (&Migrator{m: &fakeMigrate{downErr: migrate.ErrNoChange}}).Down())

	err := (&Migrator{m: &fakeMigrate{downErr: errors.New("constraint violation")}}).Down()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_DOWN_FAILED")
}

func TestMigrator_Steps(t *testing.T) {
	require.NoError(t, (&Migrator{m: &fakeMigrate{}}).Steps(2))
	require.NoError(t, (&Migrator{m: &fakeMigrate{stepsErr: migrate.ErrNoChange}}).Steps(0))

	err := (&Migrator{m: &fakeMigrate{stepsErr: errors.New("invalid step")}}).Steps(-3)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_STEPS_FAILED")
	errutil.AssertErrorContext(t, err, "steps", -3)
}

func TestMigrator_Version(t *testing.T) {
	t.Run("applied and dirty", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionVal: 2, dirty: true}}
		version, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), version)
		assert.True(t, dirty)
	})

	t.Run("nil version is zero", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}
		version, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Zero(t, version)
		assert.False(t, dirty)
	})

	t.Run("failure", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: errors.New("connection lost")}}
		_, _, err := m.Version()
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Force(t *testing.T) {
	fake := &fakeMigrate{}
	require.NoError(t, (&Migrator{m: fake}).Force(1))
	assert.Equal(t, 1, fake.forced)

	err := (&Migrator{m: &fakeMigrate{}}).Force(-1)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")

	err = (&Migrator{m: &fakeMigrate{forceErr: errors.New("boom")}}).Force(2)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_FORCE_FAILED")
}

func TestMigrator_Status(t *testing.T) {
	t.Run("fresh database has everything pending", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}
		status, err := m.Status()
		require.NoError(t, err)
		assert.Zero(t, status.Version)
		assert.Equal(t, []uint{1, 2}, status.Pending)
	})

	t.Run("partially applied", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionVal: 1}}
		status, err := m.Status()
		require.NoError(t, err)
		assert.Equal(t, uint(1), status.Version)
		assert.Equal(t, []uint{2}, status.Pending)
	})

	t.Run("current", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionVal: 2}}
		status, err := m.Status()
		require.NoError(t, err)
		assert.Empty(t, status.Pending)
	})

	t.Run("version failure", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: errors.New("connection lost")}}
		_, err := m.Status()
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Close(t *testing.T) {
	tests := []struct {
		name      string
		srcErr    error
		dbErr     error
		component string
	}{
		{"source", errors.New("source close failed"), nil, "source"},
		{"database", nil, errors.New("db close failed"), "database"},
		{"both", errors.New("source close failed"), errors.New("db close failed"), "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: &fakeMigrate{closeSourceErr: tt.srcErr, closeDBErr: tt.dbErr}}
			err := m.Close()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
		})
	}

	require.NoError(t, (&Migrator{m: &fakeMigrate{}}).Close())
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(1)
	require.NoError(t, err)
	assert.Equal(t, "000001_accounts", name)

	name, err = MigrationName(2)
	require.NoError(t, err)
	assert.Equal(t, "000002_profiles", name)

	name, err = MigrationName(99)
	require.NoError(t, err)
	assert.Empty(t, name)
}
