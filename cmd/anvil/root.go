// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/logging"
)

const serviceName = "anvil"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the anvil CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anvil",
		Short: "Anvil - item enchant transaction engine",
		Long: `Anvil settles item enchant attempts against a shared inventory:
single-flight requests, template validation, probabilistic outcomes,
and audited settlement with refunds and broadcasts.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/anvil/anvil.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCatalogCmd())
	cmd.AddCommand(NewSimulateCmd())
	cmd.AddCommand(NewAuditCmd())

	return cmd
}

// loadConfig loads the configuration for cmd and installs the default
// logger it describes.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(configFile), cmd.Flags())
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(serviceName, version, cfg.Log.Format, level)
	return cfg, nil
}
