// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Package xdg provides XDG Base Directory paths for anvil.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "anvil"

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// ConfigDir returns the XDG config directory for anvil.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string { return dir("XDG_CONFIG_HOME", ".config") }

// DataDir returns the XDG data directory for anvil.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string { return dir("XDG_DATA_HOME", ".local", "share") }

// StateDir returns the XDG state directory for anvil.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() string { return dir("XDG_STATE_HOME", ".local", "state") }

// ConfigFile is the default configuration file.
func ConfigFile() string { return filepath.Join(ConfigDir(), "anvil.yaml") }

// CatalogFile is the default template catalog.
func CatalogFile() string { return filepath.Join(ConfigDir(), "catalog.yaml") }

// AuditWAL is the default audit write-ahead log. It is state: losing it
// loses unreplayed entries, but it can be rebuilt from nothing.
func AuditWAL() string { return filepath.Join(StateDir(), "audit-wal.jsonl") }

// AuditDB is the default SQLite audit database.
func AuditDB() string { return filepath.Join(DataDir(), "audit.db") }

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("XDG_DIR_FAILED").With("path", path).Wrapf(err, "create directory")
	}
	return nil
}

// EnsureParent creates the directory that will hold file.
func EnsureParent(file string) error {
	return EnsureDir(filepath.Dir(file))
}
