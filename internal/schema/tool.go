package schema

import (
	"context"
	"encoding/json"
)

// Tool is the interface all LLM-callable tools must satisfy.
//
// Execute returns the textual result fed back to the LLM. Tools never
// propagate failures: anything that goes wrong is encoded into the returned
// string, starting with "Error: ". The error return is reserved for
// programmer mistakes and is ignored by the agent loop.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema (raw JSON) for this tool's
	// parameters, in OpenAI function-calling format.
	Parameters() json.RawMessage
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// ToolDefinition converts a tool into the OpenAI function-calling schema map.
func ToolDefinition(t Tool) map[string]any {
	var params any
	if err := json.Unmarshal(t.Parameters(), &params); err != nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  params,
		},
	}
}
