package schema

import "context"

// Spawner launches background subagent runs on behalf of a tool call.
// Implemented by agent.SubagentManager; consumed by the spawn tool.
type Spawner interface {
	// Spawn starts a background task and returns a short acknowledgement
	// string for the LLM. originChannel/originChatID identify where the
	// final result should be announced.
	Spawn(ctx context.Context, task, label, originChannel, originChatID string) (string, error)
}
