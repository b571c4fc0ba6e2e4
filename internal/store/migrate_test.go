// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package store

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/pkg/errutil"
)

type fakeMigrate struct {
	upErr, downErr, stepsErr, forceErr error
	version                            uint
	dirty                              bool
	versionErr                         error
	closeSrcErr, closeDBErr            error
}

func (f *fakeMigrate) Up() error                    { return f.upErr }
func (f *fakeMigrate) Down() error                  { return f.downErr }
func (f *fakeMigrate) Steps(int) error              { return f.stepsErr }
func (f *fakeMigrate) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeMigrate) Force(int) error              { return f.forceErr }
func (f *fakeMigrate) Close() (error, error)        { return f.closeSrcErr, f.closeDBErr }

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/anvil")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestNewMigrator_PostgresqlSchemeIsRewritten(t *testing.T) {
	_, err := NewMigrator("postgresql://127.0.0.1:1/anvil?connect_timeout=1")
	require.Error(t, err, "nothing listens on port 1")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	assert.NotContains(t, err.Error(), "unknown driver")
}

func TestMigrator_NoChangeIsSuccess(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{upErr: migrate.ErrNoChange, downErr: migrate.ErrNoChange, stepsErr: migrate.ErrNoChange}}
	require.NoError(t, m.Up())
	require.NoError(t, m.Down())
	require.NoError(t, m.Steps(0))
}

func TestMigrator_ErrorCodes(t *testing.T) {
	boom := errors.New("database locked")
	tests := []struct {
		name string
		call func(*Migrator) error
		fake *fakeMigrate
		code string
	}{
		{"up", (*Migrator).Up, &fakeMigrate{upErr: boom}, "MIGRATION_UP_FAILED"},
		{"down", (*Migrator).Down, &fakeMigrate{downErr: boom}, "MIGRATION_DOWN_FAILED"},
		{"steps", func(m *Migrator) error { return m.Steps(2) }, &fakeMigrate{stepsErr: boom}, "MIGRATION_STEPS_FAILED"},
		{"force", func(m *Migrator) error { return m.Force(1) }, &fakeMigrate{forceErr: boom}, "MIGRATION_FORCE_FAILED"},
		{"force negative", func(m *Migrator) error { return m.Force(-1) }, &fakeMigrate{}, "INVALID_VERSION"},
		{"version", func(m *Migrator) error { _, _, err := m.Version(); return err }, &fakeMigrate{versionErr: boom}, "MIGRATION_VERSION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(&Migrator{m: tt.fake})
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestMigrator_Version(t *testing.T) {
	v, dirty, err := (&Migrator{m: &fakeMigrate{version: 2, dirty: true}}).Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.True(t, dirty)

	v, dirty, err = (&Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}).Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)
}

func TestMigrator_Close(t *testing.T) {
	require.NoError(t, (&Migrator{m: &fakeMigrate{}}).Close())

	err := (&Migrator{m: &fakeMigrate{closeSrcErr: errors.New("src")}}).Close()
	errutil.AssertErrorContext(t, err, "component", "source")

	err = (&Migrator{m: &fakeMigrate{closeDBErr: errors.New("db")}}).Close()
	errutil.AssertErrorContext(t, err, "component", "database")

	err = (&Migrator{m: &fakeMigrate{closeSrcErr: errors.New("src gone"), closeDBErr: errors.New("db gone")}}).Close()
	errutil.AssertErrorContext(t, err, "component", "both")
	assert.Contains(t, err.Error(), "src gone")
	assert.Contains(t, err.Error(), "db gone")
}

func TestMigrator_PendingAndApplied(t *testing.T) {
	fresh := &Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}
	pending, err := fresh.PendingMigrations()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, pending)
	applied, err := fresh.AppliedMigrations()
	require.NoError(t, err)
	assert.Empty(t, applied)

	partial := &Migrator{m: &fakeMigrate{version: 1}}
	pending, err = partial.PendingMigrations()
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, pending)
	applied, err = partial.AppliedMigrations()
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, applied)

	broken := &Migrator{m: &fakeMigrate{versionErr: errors.New("connection lost")}}
	_, err = broken.PendingMigrations()
	errutil.AssertErrorContext(t, err, "operation", "get pending migrations")
}

func TestMigrationName(t *testing.T) {
	tests := []struct {
		version uint
		want    string
	}{
		{1, "000001_items"},
		{2, "000002_enchant_audit_log"},
		{999, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("version_%d", tt.version), func(t *testing.T) {
			name, err := MigrationName(tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
		})
	}
}

func TestAllMigrationVersions_ReturnsCopy(t *testing.T) {
	first, err := allMigrationVersions()
	require.NoError(t, err)
	require.NotEmpty(t, first)
	first[0] = 99999

	second, err := allMigrationVersions()
	require.NoError(t, err)
	assert.Equal(t, uint(1), second[0])
}

func TestMigrationsFS_Naming(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	for _, e := range entries {
		assert.Regexp(t, pattern, e.Name())
	}
}
