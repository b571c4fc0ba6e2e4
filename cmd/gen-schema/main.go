// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Command gen-schema keeps the committed catalog JSON Schema in step with the
// catalog types.
//
//	gen-schema [-check] [path]
//
// Without -check it rewrites path (default schemas/catalog.schema.json).
// With -check it exits 1 when path is missing or stale, for CI.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/forgeworks/anvil/internal/catalog"
)

const defaultPath = "schemas/catalog.schema.json"

func main() {
	check := flag.Bool("check", false, "fail if the schema file is out of date instead of writing it")
	flag.Parse()
	path := defaultPath
	if flag.NArg() > 0 {
		path = flag.Arg(0)
	}

	if err := run(path, *check); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, check bool) error {
	schema, err := catalog.GenerateSchema()
	if err != nil {
		return oops.Wrapf(err, "generate schema")
	}
	want := append(schema, '\n')

	if check {
		have, err := os.ReadFile(path) //nolint:gosec // developer-supplied path
		if err != nil {
			return oops.With("path", path).Wrapf(err, "read schema")
		}
		if !bytes.Equal(have, want) {
			return oops.Code("SCHEMA_STALE").With("path", path).Errorf("%s is stale; run gen-schema", path)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return oops.With("path", path).Wrapf(err, "create schema directory")
	}
	if err := os.WriteFile(path, want, 0o600); err != nil {
		return oops.With("path", path).Wrapf(err, "write schema")
	}
	fmt.Printf("Generated %s\n", path)
	return nil
}
