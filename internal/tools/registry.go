// Package tools implements the built-in tool suite and the registry the
// agent loop executes tool calls against.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dusterbloom/nanobot/internal/schema"
)

// ToolName is the canonical name of a built-in tool.
type ToolName string

const (
	ToolExec      ToolName = "exec"
	ToolReadFile  ToolName = "read_file"
	ToolWriteFile ToolName = "write_file"
	ToolEditFile  ToolName = "edit_file"
	ToolListDir   ToolName = "list_dir"
	ToolWebSearch ToolName = "web_search"
	ToolWebFetch  ToolName = "web_fetch"
	ToolMessage   ToolName = "message"
	ToolSpawn     ToolName = "spawn"
	ToolCron      ToolName = "cron"
	ToolRemember  ToolName = "remember"
)

// Registry holds a named set of tools and exposes them for LLM calls.
// Registration order is preserved so tool definitions are stable across
// requests.
type Registry struct {
	tools map[string]schema.Tool
	order []string
}

// NewRegistry returns a Registry containing the given tools.
func NewRegistry(ts ...schema.Tool) *Registry {
	r := &Registry{tools: make(map[string]schema.Tool, len(ts))}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t schema.Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool with the given name, or nil if not found.
func (r *Registry) Get(name string) schema.Tool {
	return r.tools[name]
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns all tool definitions in OpenAI function-calling format.
func (r *Registry) Definitions() []map[string]any {
	list := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, schema.ToolDefinition(r.tools[name]))
	}
	return list
}

// Execute runs the named tool and returns its textual result. Failures are
// encoded into the result string ("Error: ..."), never raised: the string is
// always safe to feed back to the LLM.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) string {
	t := r.tools[name]
	if t == nil {
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}
	result, err := t.Execute(ctx, params)
	if err != nil {
		slog.Warn("tool returned unexpected error", "tool", name, "err", err)
		if result == "" {
			return fmt.Sprintf("Error: %v", err)
		}
	}
	return result
}
