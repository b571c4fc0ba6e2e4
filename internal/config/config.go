// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Package config loads anvil's configuration: built-in defaults, then an
// optional YAML file, then command-line flags, then secrets from the
// environment.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/forgeworks/anvil/internal/audit"
	"github.com/forgeworks/anvil/internal/enchant"
	"github.com/forgeworks/anvil/internal/logging"
	"github.com/forgeworks/anvil/internal/player"
	"github.com/forgeworks/anvil/internal/xdg"
)

// Audit sinks.
const (
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
	SinkLog      = "log"
)

// Config is the complete runtime configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Catalog  CatalogConfig  `koanf:"catalog"`
	Enchant  EnchantConfig  `koanf:"enchant"`
	Audit    AuditConfig    `koanf:"audit"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatabaseConfig locates PostgreSQL. An empty URL runs without a database.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// MetricsConfig configures the observability server. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// CatalogConfig locates the template catalog.
type CatalogConfig struct {
	Path          string        `koanf:"path"`
	ScriptTimeout time.Duration `koanf:"script_timeout"`
}

// RangeConfig is an inclusive enchant level range.
type RangeConfig struct {
	Min int `koanf:"min"`
	Max int `koanf:"max"`
}

// AnnounceConfig holds the announcement ranges per item kind.
type AnnounceConfig struct {
	Weapon RangeConfig `koanf:"weapon"`
	Armor  RangeConfig `koanf:"armor"`
}

// EnchantConfig tunes the enchant engine.
type EnchantConfig struct {
	MinCommitInterval     time.Duration  `koanf:"min_commit_interval"`
	DisableOverEnchanting bool           `koanf:"disable_over_enchanting"`
	LockTimeout           time.Duration  `koanf:"lock_timeout"`
	Punishment            string         `koanf:"punishment"`
	Announce              AnnounceConfig `koanf:"announce"`
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	Mode       string `koanf:"mode"`
	Sink       string `koanf:"sink"`
	SQLitePath string `koanf:"sqlite_path"`
	WALPath    string `koanf:"wal_path"`
	Retries    uint64 `koanf:"retries"`
	QueueSize  int    `koanf:"queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Format: "json", Level: "info"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Catalog: CatalogConfig{Path: xdg.CatalogFile(), ScriptTimeout: 50 * time.Millisecond},
		Enchant: EnchantConfig{
			MinCommitInterval: time.Second,
			LockTimeout:       2 * time.Second,
			Punishment:        string(player.PunishKick),
			Announce: AnnounceConfig{
				Weapon: RangeConfig{Min: 7, Max: 127},
				Armor:  RangeConfig{Min: 6, Max: 127},
			},
		},
		Audit: AuditConfig{
			Mode:       string(audit.ModeAll),
			Sink:       SinkLog,
			SQLitePath: xdg.AuditDB(),
			WALPath:    xdg.AuditWAL(),
			Retries:    3,
			QueueSize:  1000,
		},
	}
}

// secrets are only ever read from the environment.
type secrets struct {
	DatabaseURL         string `env:"ANVIL_DATABASE_URL"`
	FallbackDatabaseURL string `env:"DATABASE_URL"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-format":              "log.format",
	"log-level":               "log.level",
	"metrics-addr":            "metrics.addr",
	"catalog":                 "catalog.path",
	"min-commit-interval":     "enchant.min_commit_interval",
	"disable-over-enchanting": "enchant.disable_over_enchanting",
	"lock-timeout":            "enchant.lock_timeout",
	"punishment":              "enchant.punishment",
	"audit-mode":              "audit.mode",
	"audit-sink":              "audit.sink",
	"audit-sqlite-path":       "audit.sqlite_path",
	"audit-wal-path":          "audit.wal_path",
}

// RegisterFlags adds the configuration flags to fs. Only flags the user sets
// override the file.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("catalog", d.Catalog.Path, "template catalog file")
	fs.Duration("min-commit-interval", d.Enchant.MinCommitInterval, "shortest accepted time between request and commit")
	fs.Bool("disable-over-enchanting", d.Enchant.DisableOverEnchanting, "reject items at their template enchant limit")
	fs.Duration("lock-timeout", d.Enchant.LockTimeout, "maximum wait for an item lease")
	fs.String("punishment", d.Enchant.Punishment, "sanction for suspected cheats (none, kick, jail, ban)")
	fs.String("audit-mode", d.Audit.Mode, "audit mode (all, failures, off)")
	fs.String("audit-sink", d.Audit.Sink, "audit backend (postgres, sqlite, log)")
	fs.String("audit-sqlite-path", d.Audit.SQLitePath, "sqlite audit database")
	fs.String("audit-wal-path", d.Audit.WALPath, "audit write-ahead log")
}

// ResolvePath returns explicit when set, otherwise the default config file
// if it exists, otherwise "".
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(xdg.ConfigFile()); err == nil {
		return xdg.ConfigFile()
	}
	return ""
}

// Load builds a validated Config. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}

	var sec secrets
	if err := env.Parse(&sec); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}
	switch {
	case sec.DatabaseURL != "":
		cfg.Database.URL = sec.DatabaseURL
	case cfg.Database.URL == "":
		cfg.Database.URL = sec.FallbackDatabaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(key string, value any, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).With("value", value).Errorf(format, args...)
}

// Validate reports the first inconsistent value.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", c.Log.Format, "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level, "log.level: %v", err)
	}
	if c.Catalog.Path == "" {
		return invalid("catalog.path", c.Catalog.Path, "catalog.path is required")
	}
	if c.Catalog.ScriptTimeout < 0 {
		return invalid("catalog.script_timeout", c.Catalog.ScriptTimeout, "catalog.script_timeout must be >= 0")
	}

	e := c.Enchant
	if e.MinCommitInterval < 0 {
		return invalid("enchant.min_commit_interval", e.MinCommitInterval, "enchant.min_commit_interval must be >= 0")
	}
	if e.LockTimeout <= 0 {
		return invalid("enchant.lock_timeout", e.LockTimeout, "enchant.lock_timeout must be > 0")
	}
	if _, err := player.ParsePunishment(e.Punishment); err != nil {
		return invalid("enchant.punishment", e.Punishment, "enchant.punishment: %v", err)
	}
	for key, r := range map[string]RangeConfig{
		"enchant.announce.weapon": e.Announce.Weapon,
		"enchant.announce.armor":  e.Announce.Armor,
	} {
		if r.Min < 0 || r.Min > r.Max {
			return invalid(key, r, "%s: min must be between 0 and max", key)
		}
	}

	a := c.Audit
	if _, err := audit.ParseMode(a.Mode); err != nil {
		return invalid("audit.mode", a.Mode, "audit.mode: %v", err)
	}
	switch a.Sink {
	case SinkLog:
	case SinkSQLite:
		if a.SQLitePath == "" {
			return invalid("audit.sqlite_path", a.SQLitePath, "audit.sqlite_path is required for the sqlite sink")
		}
	case SinkPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "", "the postgres audit sink needs a database url")
		}
	default:
		return invalid("audit.sink", a.Sink, "audit.sink must be postgres, sqlite or log, got %q", a.Sink)
	}
	if a.WALPath == "" {
		return invalid("audit.wal_path", a.WALPath, "audit.wal_path is required")
	}
	return nil
}

// Engine converts the enchant section to an engine configuration. Call it
// on a validated Config.
func (e EnchantConfig) Engine() enchant.Config {
	return enchant.Config{
		MinCommitInterval:     e.MinCommitInterval,
		DisableOverEnchanting: e.DisableOverEnchanting,
		Punishment:            player.Punishment(e.Punishment),
		AnnounceWeapon:        enchant.Range{Min: e.Announce.Weapon.Min, Max: e.Announce.Weapon.Max},
		AnnounceArmor:         enchant.Range{Min: e.Announce.Armor.Min, Max: e.Announce.Armor.Max},
	}
}

// LoggerConfig converts the audit section to an audit logger configuration.
func (a AuditConfig) LoggerConfig() audit.LoggerConfig {
	return audit.LoggerConfig{
		Mode:      audit.Mode(a.Mode),
		WALPath:   a.WALPath,
		QueueSize: a.QueueSize,
		Retries:   a.Retries,
	}
}
