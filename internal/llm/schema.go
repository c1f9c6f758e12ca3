package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildChatCompletionSchema returns the JSON Schema a chat/completions response must satisfy
// before its first choice is read.
func BuildChatCompletionSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"choices"},
		"properties": map[string]any{
			"model": map[string]any{"type": "string"},
			"choices": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":     "object",
					"required": []string{"message"},
					"properties": map[string]any{
						"finish_reason": map[string]any{"type": []string{"string", "null"}},
						"message": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"content": map[string]any{"type": []string{"string", "null"}},
							},
						},
					},
				},
			},
			"usage": map[string]any{
				"type": []string{"object", "null"},
				"properties": map[string]any{
					"prompt_tokens":     map[string]any{"type": "integer", "minimum": 0},
					"completion_tokens": map[string]any{"type": "integer", "minimum": 0},
				},
			},
		},
	}
}

// ValidateJSONAgainstSchema validates data against schemaMap.
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
