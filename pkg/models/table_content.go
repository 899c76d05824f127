package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// tableContentSchema constrains the JSON grid stored in a table block's
// Content field: a rectangular-ish grid of string cells plus an optional
// header row flag. The schema is intentionally loose about row widths; the
// editor keeps rows aligned, the model only rejects structural garbage.
const tableContentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["rows"],
	"properties": {
		"rows": {
			"type": "array",
			"items": {
				"type": "array",
				"items": {"type": "string"}
			}
		},
		"header": {"type": "boolean"}
	},
	"additionalProperties": false
}`

var (
	tableSchemaOnce sync.Once
	tableSchema     *jsonschema.Schema
	tableSchemaErr  error
)

func compiledTableSchema() (*jsonschema.Schema, error) {
	tableSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(tableContentSchema))
		if err != nil {
			tableSchemaErr = fmt.Errorf("parse table schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("table-content.schema.json", doc); err != nil {
			tableSchemaErr = fmt.Errorf("add table schema resource: %w", err)
			return
		}
		tableSchema, tableSchemaErr = compiler.Compile("table-content.schema.json")
	})
	return tableSchema, tableSchemaErr
}

// ValidateTableContent checks that s is a well-formed table-block grid.
// Callers pass Block.Content for blocks of type [BlockTypeTable] before
// accepting an edit; other block types have no structural constraints.
func ValidateTableContent(s string) error {
	schema, err := compiledTableSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return fmt.Errorf("table content is not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("table content rejected: %w", err)
	}
	return nil
}
