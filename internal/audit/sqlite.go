// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	// Register the pure-Go sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/forgeworks/anvil/internal/xdg"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS enchant_audit_log (
	id          TEXT PRIMARY KEY,
	recorded_at INTEGER NOT NULL,
	player_id   TEXT    NOT NULL,
	label       TEXT    NOT NULL,
	outcome     TEXT    NOT NULL,
	error_code  TEXT    NOT NULL DEFAULT '',
	item_id     TEXT,
	entry       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_enchant_audit_player ON enchant_audit_log (player_id, recorded_at);
`

// SQLiteWriter stores entries in a local SQLite file, for single-node
// deployments without PostgreSQL. The full entry is kept as JSON.
type SQLiteWriter struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the audit database at path.
func OpenSQLite(path string) (*SQLiteWriter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, oops.Code("AUDIT_SQLITE_PATH_MISSING").Errorf("sqlite path is required")
	}
	if err := xdg.EnsureParent(path); err != nil {
		return nil, err
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("AUDIT_SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	// One writer connection; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, oops.Code("AUDIT_SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, oops.Code("AUDIT_SQLITE_OPEN_FAILED").With("path", path).With("operation", "create schema").Wrap(err)
	}
	return &SQLiteWriter{db: db}, nil
}

// WriteSync inserts entry. Re-inserting an id is a no-op.
func (w *SQLiteWriter) WriteSync(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return oops.With("entry_id", entry.ID).Wrap(err)
	}
	var itemID *string
	if entry.Item != nil {
		itemID = &entry.Item.ID
	}
	_, err = w.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO enchant_audit_log
			(id, recorded_at, player_id, label, outcome, error_code, item_id, entry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UTC().UnixMilli(), entry.PlayerID, entry.Label,
		entry.Outcome, entry.ErrorCode, itemID, string(data))
	if err != nil {
		return oops.With("operation", "insert audit entry").With("entry_id", entry.ID).Wrap(err)
	}
	return nil
}

// WriteAsync writes entry on the caller's goroutine; the Logger already
// calls it off the request path.
func (w *SQLiteWriter) WriteAsync(entry Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.WriteSync(ctx, entry)
}

// ByPlayer returns the player's entries, oldest first.
func (w *SQLiteWriter) ByPlayer(ctx context.Context, playerID string) ([]Entry, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT entry FROM enchant_audit_log WHERE player_id = ? ORDER BY recorded_at, id`, playerID)
	if err != nil {
		return nil, oops.With("operation", "query audit entries").With("player_id", playerID).Wrap(err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, oops.With("operation", "scan audit entry").Wrap(err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, oops.With("operation", "decode audit entry").Wrap(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate audit entries").Wrap(err)
	}
	return out, nil
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	if err := w.db.Close(); err != nil {
		return oops.Code("AUDIT_SQLITE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}
