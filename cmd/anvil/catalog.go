// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/forgeworks/anvil/internal/catalog"
)

// NewCatalogCmd creates the catalog subcommand group.
func NewCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate the template catalog",
	}
	cmd.AddCommand(newCatalogValidateCmd())
	cmd.AddCommand(newCatalogSchemaCmd())
	return cmd
}

func newCatalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [PATH]",
		Short: "Validate a catalog file without starting the server",
		Long: `Validates a catalog against its JSON Schema and the cross-reference
rules (chance groups, failure flags, format version). Does NOT start
the server or require a database connection.

Defaults to the configured catalog.path. Useful in CI pipelines:
  anvil catalog validate configs/catalog.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path := cfg.Catalog.Path
			if len(args) == 1 {
				path = args[0]
			}

			c, err := catalog.Load(path, catalog.WithScriptTimeout(cfg.Catalog.ScriptTimeout))
			if err != nil {
				slog.Error("catalog validation failed", "path", path, "detail", catalog.FormatSchemaError(err))
				return err
			}
			defer c.Close()

			st := c.Stats()
			cmd.Printf("%s: ok (%d items, %d scrolls, %d supports, %d chance groups)\n",
				path, st.Items, st.Scrolls, st.Supports, st.ChanceGroups)
			return nil
		},
	}
}

func newCatalogSchemaCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the catalog JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := catalog.GenerateSchema()
			if err != nil {
				return err
			}
			if out == "" {
				_, err := cmd.OutOrStdout().Write(append(schema, '\n'))
				return err
			}
			return writeSchema(out, schema)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the schema to a file instead of stdout")
	return cmd
}

func writeSchema(path string, schema []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := os.WriteFile(path, append(schema, '\n'), 0o600); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
