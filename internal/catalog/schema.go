// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package catalog

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the catalog JSON Schema.
const SchemaID = "https://anvil.forgeworks.dev/schemas/catalog.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jschema.Schema
	errSchema      error
)

// GenerateSchema generates the JSON Schema for catalog documents.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(&Document{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Anvil Enchant Catalog"
	schema.Description = "Item, scroll, support and chance group definitions"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}
	return data, nil
}

// ValidateSchema validates YAML catalog data against the generated schema.
func ValidateSchema(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return oops.Code("INVALID_CATALOG").Errorf("catalog data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("INVALID_CATALOG").Wrapf(err, "invalid YAML")
	}
	// Round-trip through JSON so numbers and maps take the shapes the
	// validator expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("INVALID_CATALOG").Wrapf(err, "catalog is not representable as JSON")
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return oops.Code("INVALID_CATALOG").Wrap(err)
	}

	sch, err := schemaValidator()
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return oops.Code("SCHEMA_VALIDATION_FAILED").Wrapf(err, "schema validation failed")
	}
	return nil
}

func schemaValidator() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			errSchema = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			errSchema = oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("catalog.schema.json", doc); err != nil {
			errSchema = oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
			return
		}
		compiledSchema, errSchema = c.Compile("catalog.schema.json")
		if errSchema != nil {
			errSchema = oops.Code("SCHEMA_GENERATION_FAILED").Wrap(errSchema)
		}
	})
	return compiledSchema, errSchema
}

// FormatSchemaError trims wrapper prefixes from a validation error.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.Index(msg, "schema validation failed: "); i >= 0 {
		msg = msg[i+len("schema validation failed: "):]
	}
	return msg
}
