package transformtemplate

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"dynamic-site-maker/internal/common/validation"

	"github.com/xeipuuv/gojsonschema"
)

const forestSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "node": {
      "type": "object",
      "required": ["id", "elType"],
      "properties": {
        "id": {"type": "string"},
        "elType": {"type": "string"},
        "widgetType": {"type": "string"},
        "settings": {"type": ["object", "array", "null"]},
        "elements": {"type": ["array", "null"], "items": {"$ref": "#/definitions/node"}}
      }
    }
  },
  "type": "array",
  "items": {"$ref": "#/definitions/node"}
}`

var (
	forestSchemaOnce sync.Once
	forestSchema     *gojsonschema.Schema
	forestSchemaErr  error
)

func compiledForestSchema() (*gojsonschema.Schema, error) {
	forestSchemaOnce.Do(func() {
		forestSchema, forestSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(forestSchemaJSON))
	})
	return forestSchema, forestSchemaErr
}

// ValidateForestShape checks that raw is a list of element objects with
// string ids and kinds. Failures wrap ErrMalformedTemplate.
func ValidateForestShape(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return fmt.Errorf("%w: root is not a list", ErrMalformedTemplate)
	}

	schema, err := compiledForestSchema()
	if err != nil {
		return fmt.Errorf("compile forest schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrMalformedTemplate, strings.Join(msgs, "; "))
	}
	return nil
}

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"templateData", "submission"},
		Properties: map[string]validation.Property{
			"templateData": {
				Type:        "string",
				Description: "Serialized element tree to transform",
				MinLength:   intPtr(2),
			},
			"submission": {
				Type:        "object",
				Description: "Per-page values substituted into the tree",
				Required:    []string{"displayName", "affiliateUrl"},
				Properties: map[string]validation.Property{
					"displayName":   {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(200)},
					"affiliateUrl":  {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(2048)},
					"derivedPrice":  {Type: "string", MaxLength: intPtr(16)},
					"logoReference": {Type: "object"},
				},
			},
		},
		AdditionalProperties: true,
	}
}

func GetOutputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Properties: map[string]validation.Property{
			"transformedData":  {Type: "string", Description: "Serialized transformed element tree"},
			"nodeCount":        {Type: "number", Description: "Number of nodes in the tree"},
			"rewrites":         {Type: "object", Description: "Rewrite counts per slot"},
			"unresolvedTokens": {Type: "array", Description: "Placeholder tokens left in the tree"},
		},
	}
}

func intPtr(i int) *int {
	return &i
}
