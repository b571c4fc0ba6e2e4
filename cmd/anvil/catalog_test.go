// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogValidate_Valid(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "catalog", "validate", "testdata/catalog.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "testdata/catalog.yaml: ok (3 items, 2 scrolls, 1 supports, 1 chance groups)")
}

func TestCatalogValidate_UsesConfiguredPath(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "catalog", "validate", "--catalog", "testdata/catalog.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "ok (")
}

func TestCatalogValidate_Invalid(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "catalog", "validate", "testdata/broken.yaml")
	require.Error(t, err)
	assert.NotContains(t, out, ": ok (")
}

func TestCatalogValidate_DoesNotNeedDatabase(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, err := execute(t, "catalog", "validate", "testdata/catalog.yaml")
	require.NoError(t, err)
}

func TestCatalogSchema_Stdout(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "catalog", "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, "Anvil Enchant Catalog", schema["title"])
}

func TestCatalogSchema_File(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "schemas", "catalog.schema.json")

	_, err := execute(t, "catalog", "schema", "-o", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"format_version"`)
}
