// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package catalog

import (
	"bytes"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// SupportedFormat is the range of format_version values this build reads.
const SupportedFormat = ">= 1.0.0, < 2.0.0"

// Parse validates data against the catalog schema and builds a Catalog.
func Parse(data []byte, opts ...Option) (*Catalog, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, oops.Code("INVALID_CATALOG").Wrap(err)
	}
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, oops.Code("INVALID_CATALOG").Wrapf(err, "decode catalog")
	}
	return New(&doc, opts...)
}

// Load reads and parses the catalog file at path.
func Load(path string, opts ...Option) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code("CATALOG_READ_FAILED").With("path", path).Wrap(err)
	}
	c, err := Parse(data, opts...)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return c, nil
}

func checkFormatVersion(v string) error {
	errb := oops.Code("UNSUPPORTED_CATALOG_FORMAT").With("format_version", v).With("supported", SupportedFormat)
	ver, err := semver.NewVersion(v)
	if err != nil {
		return errb.Wrapf(err, "invalid format_version")
	}
	constraint, err := semver.NewConstraint(SupportedFormat)
	if err != nil {
		return errb.Wrap(err)
	}
	if !constraint.Check(ver) {
		return errb.Errorf("unsupported catalog format %s", v)
	}
	return nil
}
