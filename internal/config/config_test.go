// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/anvil/internal/audit"
	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/enchant"
	"github.com/forgeworks/anvil/internal/player"
	"github.com/forgeworks/anvil/pkg/errutil"
)

// isolate points XDG paths and secrets away from the developer's machine.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("ANVIL_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	return dir
}

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "anvil.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Second, cfg.Enchant.MinCommitInterval)
	assert.Equal(t, 2*time.Second, cfg.Enchant.LockTimeout)
	assert.Equal(t, "kick", cfg.Enchant.Punishment)
	assert.Equal(t, config.RangeConfig{Min: 7, Max: 127}, cfg.Enchant.Announce.Weapon)
	assert.Equal(t, config.RangeConfig{Min: 6, Max: 127}, cfg.Enchant.Announce.Armor)
	assert.Equal(t, config.SinkLog, cfg.Audit.Sink)
	assert.Equal(t, filepath.Join(dir, "state", "anvil", "audit-wal.jsonl"), cfg.Audit.WALPath)
	assert.Equal(t, filepath.Join(dir, "config", "anvil", "catalog.yaml"), cfg.Catalog.Path)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, `
log:
  level: debug
catalog:
  path: /srv/anvil/catalog.yaml
enchant:
  min_commit_interval: 750ms
  disable_over_enchanting: true
  punishment: jail
  announce:
    weapon:
      min: 10
      max: 20
audit:
  mode: failures
  sink: sqlite
  sqlite_path: /srv/anvil/audit.db
`)

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "unset keys keep defaults")
	assert.Equal(t, "/srv/anvil/catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, 750*time.Millisecond, cfg.Enchant.MinCommitInterval)
	assert.True(t, cfg.Enchant.DisableOverEnchanting)
	assert.Equal(t, "jail", cfg.Enchant.Punishment)
	assert.Equal(t, config.RangeConfig{Min: 10, Max: 20}, cfg.Enchant.Announce.Weapon)
	assert.Equal(t, config.RangeConfig{Min: 6, Max: 127}, cfg.Enchant.Announce.Armor)
	assert.Equal(t, "failures", cfg.Audit.Mode)
	assert.Equal(t, config.SinkSQLite, cfg.Audit.Sink)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, `
log:
  format: text
enchant:
  min_commit_interval: 2s
  punishment: ban
`)
	flags := newFlags(t, "--min-commit-interval=300ms", "--audit-mode=off")

	cfg, err := config.Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Millisecond, cfg.Enchant.MinCommitInterval)
	assert.Equal(t, "off", cfg.Audit.Mode)
	assert.Equal(t, "text", cfg.Log.Format, "unset flags do not clobber the file")
	assert.Equal(t, "ban", cfg.Enchant.Punishment)
}

func TestLoad_EnvironmentSecrets(t *testing.T) {
	t.Run("anvil variable wins", func(t *testing.T) {
		dir := isolate(t)
		path := writeFile(t, dir, "database:\n  url: postgres://file/anvil\n")
		t.Setenv("ANVIL_DATABASE_URL", "postgres://env/anvil")
		t.Setenv("DATABASE_URL", "postgres://generic/anvil")

		cfg, err := config.Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://env/anvil", cfg.Database.URL)
	})

	t.Run("generic variable only fills a gap", func(t *testing.T) {
		dir := isolate(t)
		t.Setenv("DATABASE_URL", "postgres://generic/anvil")
		cfg, err := config.Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://generic/anvil", cfg.Database.URL)

		path := writeFile(t, dir, "database:\n  url: postgres://file/anvil\n")
		cfg, err = config.Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://file/anvil", cfg.Database.URL)
	})
}

func TestLoad_Errors(t *testing.T) {
	dir := isolate(t)

	_, err := config.Load(filepath.Join(dir, "missing.yaml"), nil)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")

	path := writeFile(t, dir, "enchant:\n  punishment: flog\n")
	_, err = config.Load(path, nil)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "enchant.punishment")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"log level", func(c *config.Config) { c.Log.Level = "loud" }, "log.level"},
		{"catalog path", func(c *config.Config) { c.Catalog.Path = "" }, "catalog.path"},
		{"negative interval", func(c *config.Config) { c.Enchant.MinCommitInterval = -time.Second }, "enchant.min_commit_interval"},
		{"zero lock timeout", func(c *config.Config) { c.Enchant.LockTimeout = 0 }, "enchant.lock_timeout"},
		{"punishment", func(c *config.Config) { c.Enchant.Punishment = "exile" }, "enchant.punishment"},
		{"weapon range inverted", func(c *config.Config) { c.Enchant.Announce.Weapon = config.RangeConfig{Min: 9, Max: 8} }, "enchant.announce.weapon"},
		{"armor range negative", func(c *config.Config) { c.Enchant.Announce.Armor.Min = -1 }, "enchant.announce.armor"},
		{"audit mode", func(c *config.Config) { c.Audit.Mode = "some" }, "audit.mode"},
		{"audit sink", func(c *config.Config) { c.Audit.Sink = "kafka" }, "audit.sink"},
		{"sqlite without path", func(c *config.Config) { c.Audit.Sink, c.Audit.SQLitePath = config.SinkSQLite, "" }, "audit.sqlite_path"},
		{"postgres without url", func(c *config.Config) { c.Audit.Sink = config.SinkPostgres }, "database.url"},
		{"wal path", func(c *config.Config) { c.Audit.WALPath = "" }, "audit.wal_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}

	assert.NoError(t, config.Default().Validate())
}

func TestEnchantConfig_Engine(t *testing.T) {
	c := config.Default().Enchant
	c.DisableOverEnchanting = true
	c.Punishment = "jail"

	got := c.Engine()
	assert.Equal(t, enchant.Config{
		MinCommitInterval:     time.Second,
		DisableOverEnchanting: true,
		Punishment:            player.PunishJail,
		AnnounceWeapon:        enchant.Range{Min: 7, Max: 127},
		AnnounceArmor:         enchant.Range{Min: 6, Max: 127},
	}, got)
}

func TestAuditConfig_LoggerConfig(t *testing.T) {
	a := config.AuditConfig{Mode: "failures", WALPath: "/tmp/wal.jsonl", Retries: 5, QueueSize: 10}
	got := a.LoggerConfig()
	assert.Equal(t, audit.ModeFailures, got.Mode)
	assert.Equal(t, "/tmp/wal.jsonl", got.WALPath)
	assert.Equal(t, uint64(5), got.Retries)
	assert.Equal(t, 10, got.QueueSize)
}

func TestResolvePath(t *testing.T) {
	dir := isolate(t)
	assert.Equal(t, "/explicit.yaml", config.ResolvePath("/explicit.yaml"))
	assert.Empty(t, config.ResolvePath(""), "missing default file is skipped")

	def := filepath.Join(dir, "config", "anvil", "anvil.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(def), 0o700))
	require.NoError(t, os.WriteFile(def, []byte("log:\n  level: warn\n"), 0o600))
	assert.Equal(t, def, config.ResolvePath(""))
}
