// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package main

import (
	"encoding/json"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/forgeworks/anvil/internal/audit"
	"github.com/forgeworks/anvil/internal/config"
)

// NewAuditCmd creates the audit subcommand group.
func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Maintain the enchant audit log",
	}
	cmd.AddCommand(newAuditReplayCmd())
	cmd.AddCommand(newAuditQueryCmd())
	return cmd
}

func newAuditReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay-wal",
		Short: "Write entries parked in the audit WAL to the configured sink",
		Long: `Failure entries that could not be written synchronously are parked in a
JSONL write-ahead log. replay-wal writes them to audit.sink and removes
the ones that succeed; the rest stay for the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}
			writer, err := openAuditWriter(cfg, pool, slog.Default())
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := writer.Close(); closeErr != nil {
					slog.Warn("error closing audit writer", "error", closeErr)
				}
			}()

			n, err := audit.ReplayWAL(ctx, cfg.Audit.WALPath, writer, slog.Default())
			if err != nil {
				return err
			}
			cmd.Printf("Replayed %d audit entries from %s\n", n, cfg.Audit.WALPath)
			return nil
		},
	}
}

func newAuditQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query PLAYER_ID",
		Short: "Print a player's audit entries from the sqlite sink as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Audit.Sink != config.SinkSQLite {
				return oops.Code("UNSUPPORTED_SINK").With("sink", cfg.Audit.Sink).
					Errorf("audit query reads the sqlite sink; configured sink is %q", cfg.Audit.Sink)
			}

			w, err := audit.OpenSQLite(cfg.Audit.SQLitePath)
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			entries, err := w.ByPlayer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return oops.With("operation", "encode audit entry").Wrap(err)
				}
			}
			return nil
		},
	}
}
