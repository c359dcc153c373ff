package unifiedllm

import (
	"encoding/json"
)

// SchemaExporter is implemented by structured models that can describe their
// own JSON schema.
type SchemaExporter interface {
	JSONSchema() map[string]any
}

// EmptyObjectSchema returns the schema used when a tool declares none.
func EmptyObjectSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// NormalizeToolSchema turns whatever a tool offers as its input schema into a
// JSON-schema object. Accepted shapes, checked in order:
//
//   - a SchemaExporter
//   - a wire-shaped function definition ({"type":"function","name",...,"parameters"}),
//     whose parameters are used
//   - a bare map
//   - raw JSON bytes
//   - any other value that marshals to a JSON object
//
// Anything else, including nil, yields EmptyObjectSchema.
func NormalizeToolSchema(schema any) map[string]any {
	var m map[string]any
	switch v := schema.(type) {
	case nil:
		return EmptyObjectSchema()
	case SchemaExporter:
		m = v.JSONSchema()
	case map[string]any:
		m = v
	case json.RawMessage:
		m = decodeSchemaBytes(v)
	case []byte:
		m = decodeSchemaBytes(v)
	case string:
		m = decodeSchemaBytes([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return EmptyObjectSchema()
		}
		m = decodeSchemaBytes(raw)
	}

	if m == nil {
		return EmptyObjectSchema()
	}
	if params, ok := wireParameters(m); ok {
		m = params
	}
	if len(m) == 0 {
		return EmptyObjectSchema()
	}
	if _, ok := m["type"]; !ok {
		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out["type"] = "object"
		m = out
	}
	return m
}

// wireParameters extracts the parameters of an already wire-shaped function
// definition, either flat or nested under "function".
func wireParameters(m map[string]any) (map[string]any, bool) {
	if m["type"] != "function" {
		return nil, false
	}
	if fn, ok := m["function"].(map[string]any); ok {
		m = fn
	}
	if _, ok := m["name"]; !ok {
		return nil, false
	}
	params, ok := m["parameters"].(map[string]any)
	if !ok || len(params) == 0 {
		return EmptyObjectSchema(), true
	}
	return params, true
}

func decodeSchemaBytes(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
