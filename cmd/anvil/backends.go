// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/forgeworks/anvil/internal/audit"
	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/store"
)

// openPool connects to PostgreSQL when a database URL is configured. It
// returns a nil pool otherwise.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, nil
	}
	return store.Open(ctx, cfg.Database.URL)
}

// openAuditWriter returns the audit backend selected by audit.sink.
func openAuditWriter(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (audit.Writer, error) {
	switch cfg.Audit.Sink {
	case config.SinkPostgres:
		if pool == nil {
			return nil, oops.Code("CONFIG_INVALID").With("key", "audit.sink").
				Errorf("the postgres audit sink needs a database connection")
		}
		return audit.NewPostgresWriter(pool, audit.WithWriterLogger(logger)), nil
	case config.SinkSQLite:
		w, err := audit.OpenSQLite(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return audit.NewLogWriter(logger), nil
	}
}
