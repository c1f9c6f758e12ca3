package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const createJobSchemaSrc = `{
  "type": "object",
  "required": ["id"],
  "properties": {"id": {"type": "string", "minLength": 1}}
}`

const statusSchemaSrc = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "minLength": 1},
    "error": {"type": ["string", "null"]},
    "usage": {
      "type": ["object", "null"],
      "properties": {
        "input_tokens": {"type": "number", "minimum": 0},
        "output_tokens": {"type": "number", "minimum": 0},
        "total_tokens": {"type": "number", "minimum": 0}
      }
    },
    "cost_usd": {"type": ["number", "null"], "minimum": 0},
    "duration_ms": {"type": ["number", "null"], "minimum": 0}
  }
}`

const manifestSchemaSrc = `{
  "type": "object",
  "required": ["documents"],
  "properties": {
    "documents": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": ["string", "null"]},
          "mime_type": {"type": ["string", "null"]},
          "filename": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

const documentSchemaSrc = `{
  "type": "object",
  "properties": {"download_url": {"type": ["string", "null"]}}
}`

var (
	createJobSchema = mustCompile("create_job.json", createJobSchemaSrc)
	statusSchema    = mustCompile("status.json", statusSchemaSrc)
	manifestSchema  = mustCompile("manifest.json", manifestSchemaSrc)
	documentSchema  = mustCompile("document.json", documentSchemaSrc)
)

func mustCompile(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// decodeValidated validates raw against schema, then decodes it into out.
func decodeValidated(schema *jsonschema.Schema, raw []byte, out any) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
