package httpapi

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// provisionRequestSchema validates the body of POST /provision/{targetId}.
// The body is optional; when present it may carry client metadata for audit
// logging, nothing else.
const provisionRequestSchema = `{
	"type": "object",
	"properties": {
		"client": {
			"type": "object",
			"properties": {
				"name": {"type": "string", "maxLength": 64},
				"version": {"type": "string", "maxLength": 32}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}`

// codeRequestSchema validates the body of POST /provision/code/{sessionId}.
const codeRequestSchema = `{
	"type": "object",
	"properties": {
		"code": {
			"type": "string",
			"minLength": 1,
			"maxLength": 16
		}
	},
	"required": ["code"],
	"additionalProperties": false
}`

var compiledSchemas = mustCompileSchemas()

type schemas struct {
	provision *gojsonschema.Schema
	code      *gojsonschema.Schema
}

func mustCompileSchemas() schemas {
	provisionSchema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(provisionRequestSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid provision request schema: %v", err))
	}
	codeSchema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(codeRequestSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid code request schema: %v", err))
	}
	return schemas{provision: provisionSchema, code: codeSchema}
}

// validateBody checks raw JSON against a compiled schema and flattens the
// validation errors into one message.
func validateBody(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("invalid request body: %s", strings.Join(problems, "; "))
}
