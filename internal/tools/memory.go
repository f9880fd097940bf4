package tools

import (
	"context"
	"encoding/json"
)

// MemoryWriter is the slice of the memory store the remember tool needs.
type MemoryWriter interface {
	AppendToday(note string) error
	ReadLongTerm() string
	WriteLongTerm(content string) error
}

// RememberTool persists facts across conversations: short notes go to the
// daily notes file, "long_term" rewrites MEMORY.md wholesale.
type RememberTool struct {
	store MemoryWriter
}

// NewRememberTool creates a RememberTool backed by the given store.
func NewRememberTool(store MemoryWriter) *RememberTool {
	return &RememberTool{store: store}
}

func (t *RememberTool) Name() string { return "remember" }
func (t *RememberTool) Description() string {
	return "Save a note to memory. Use scope 'daily' for observations worth keeping today, " +
		"'long_term' to rewrite the permanent memory file with updated content."
}

func (t *RememberTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {
				"type": "string",
				"description": "The note to save, or the full long-term memory replacement"
			},
			"scope": {
				"type": "string",
				"enum": ["daily", "long_term"],
				"default": "daily"
			}
		},
		"required": ["content"]
	}`)
}

func (t *RememberTool) Execute(_ context.Context, params map[string]any) (string, error) {
	content, _ := params["content"].(string)
	if content == "" {
		return "Error: content is required", nil
	}
	scope, _ := params["scope"].(string)

	if scope == "long_term" {
		if content == t.store.ReadLongTerm() {
			return "Long-term memory unchanged", nil
		}
		if err := t.store.WriteLongTerm(content); err != nil {
			return "Error: " + err.Error(), nil
		}
		return "Long-term memory updated", nil
	}

	if err := t.store.AppendToday(content); err != nil {
		return "Error: " + err.Error(), nil
	}
	return "Saved to today's notes", nil
}
