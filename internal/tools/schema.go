package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// compiledSchema wraps a compiled JSON Schema plus the required-field
// list the validation rules below need directly (type-matching by
// declared parameter type, not just schema conformance).
type compiledSchema struct {
	schema     *jsonschema.Schema
	required   map[string]bool
	properties map[string]map[string]any
}

func compileSchema(params agentmodel.ToolParameters) (*compiledSchema, error) {
	doc := map[string]any{
		"type":       orDefault(params.Type, "object"),
		"properties": toAnyMap(params.Properties),
	}
	if len(params.Required) > 0 {
		doc["required"] = toAnySlice(params.Required)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	schema, err := compileFromRaw(raw)
	if err != nil {
		return nil, err
	}

	required := make(map[string]bool, len(params.Required))
	for _, name := range params.Required {
		required[name] = true
	}

	return &compiledSchema{schema: schema, required: required, properties: params.Properties}, nil
}

// compileFromRaw compiles a JSON Schema document given as raw bytes,
// using an in-memory resource so no filesystem access is required.
func compileFromRaw(raw []byte) (*jsonschema.Schema, error) {
	const uri = "mem://tool-parameters.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(uri, jsonDecode(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(uri)
}

func jsonDecode(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return v
}

// Validate checks args against the compiled schema and the declared
// per-property Go type, matching the validation rule:
// string→string, integer→integer, number→int|float, boolean→boolean,
// array→list, object→mapping.
func (s *compiledSchema) Validate(args map[string]any) error {
	for name := range s.required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required parameter: %s", name)
		}
	}

	for name, value := range args {
		prop, ok := s.properties[name]
		if !ok {
			continue
		}
		wantType, _ := prop["type"].(string)
		if wantType == "" {
			continue
		}
		if !typeMatches(wantType, value) {
			return fmt.Errorf("parameter %s: expected %s, got %T", name, wantType, value)
		}
	}

	if err := s.schema.ValidateInterface(toAnyMapValue(args)); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

func typeMatches(want string, value any) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch value.(type) {
		case int, int32, int64:
			return true
		case float64:
			f := value.(float64)
			return f == float64(int64(f))
		default:
			return false
		}
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		switch value.(type) {
		case []any:
			return true
		default:
			return false
		}
	case "object":
		switch value.(type) {
		case map[string]any:
			return true
		default:
			return false
		}
	default:
		return true
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func toAnyMap(m map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func toAnyMapValue(m map[string]any) any { return m }
