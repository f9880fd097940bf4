package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dusterbloom/nanobot/internal/bus"
	"github.com/dusterbloom/nanobot/internal/schema"
	"github.com/dusterbloom/nanobot/internal/shared/llmutils"
	"github.com/dusterbloom/nanobot/internal/tools"
)

// SubagentManager runs background tasks on detached goroutines. Each
// subagent gets a restricted tool set (no message/spawn/cron tools) and a
// fresh conversation; completion is announced back to the origin chat via a
// synthetic system-channel inbound message.
type SubagentManager struct {
	bus       *bus.MessageBus
	provider  schema.LLMProvider
	registry  *tools.Registry
	workspace string
	settings  Settings

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewSubagentManager creates a SubagentManager. registry must contain only
// tools safe for unattended execution.
func NewSubagentManager(
	b *bus.MessageBus,
	provider schema.LLMProvider,
	registry *tools.Registry,
	workspace string,
	settings Settings,
) *SubagentManager {
	if settings.MaxToolIterations <= 0 {
		settings.MaxToolIterations = 10
	}
	if settings.Model == "" {
		settings.Model = provider.DefaultModel()
	}
	return &SubagentManager{
		bus:       b,
		provider:  provider,
		registry:  registry,
		workspace: workspace,
		settings:  settings,
		running:   make(map[string]context.CancelFunc),
	}
}

// Spawn starts a background task and returns immediately.
// Implements schema.Spawner.
func (sm *SubagentManager) Spawn(_ context.Context, task, label, originChannel, originChatID string) (string, error) {
	taskID := uuid.NewString()[:8]
	label = llmutils.Truncate(llmutils.StringOrDefault(label, task), 30)

	// Detached from the calling turn so the subagent outlives it.
	subctx, cancel := context.WithCancel(context.Background())

	sm.mu.Lock()
	sm.running[taskID] = cancel
	sm.mu.Unlock()

	go func() {
		defer func() {
			sm.mu.Lock()
			delete(sm.running, taskID)
			sm.mu.Unlock()
			cancel()
		}()
		sm.runTask(subctx, taskID, task, label, originChannel, originChatID)
	}()

	slog.Info("Spawned subagent", "id", taskID, "label", label)
	return fmt.Sprintf("Subagent [%s] started (id: %s). I'll notify you when it completes.", label, taskID), nil
}

// Count returns the number of currently running subagents.
func (sm *SubagentManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.running)
}

func (sm *SubagentManager) runTask(ctx context.Context, taskID, task, label, originChannel, originChatID string) {
	slog.Info("Subagent starting", "id", taskID, "label", label)

	result := sm.executeTask(ctx, task)
	status := "completed successfully"
	if strings.HasPrefix(result, "Error:") {
		status = "failed"
		slog.Error("Subagent failed", "id", taskID, "result", llmutils.Truncate(result, 120))
	} else {
		slog.Info("Subagent completed", "id", taskID)
	}

	sm.announce(label, task, result, status, originChannel, originChatID)
}

// executeTask runs the bounded tool loop with the restricted registry.
// Total like the main loop: every outcome is a string.
func (sm *SubagentManager) executeTask(ctx context.Context, task string) string {
	messages := schema.NewMessages(
		schema.NewSystemMessage(sm.systemPrompt()),
		schema.NewUserMessage(task),
	)
	defs := sm.registry.Definitions()
	opts := schema.NewChatOptions(sm.settings.Model, sm.settings.MaxTokens, sm.settings.Temperature)

	for i := 0; i < sm.settings.MaxToolIterations; i++ {
		resp, err := sm.provider.Chat(ctx, messages, defs, opts)
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}

		text := ""
		if resp.Content != nil {
			text = *resp.Content
		}
		if !resp.HasToolCalls() {
			final := strings.TrimSpace(llmutils.StripThink(text))
			return llmutils.StringOrDefault(final, "Task completed but no final response was generated.")
		}

		calls := make([]schema.ToolCall, 0, len(resp.ToolCalls))
		for _, req := range resp.ToolCalls {
			calls = append(calls, schema.ToolCall{ID: req.ID, Name: req.Name, Arguments: req.Arguments})
		}
		messages.AddAssistant(resp.Content, calls)
		for _, req := range resp.ToolCalls {
			result := sm.registry.Execute(ctx, req.Name, req.Arguments)
			messages.AddToolResult(req.ID, req.Name, result)
		}
	}
	return maxIterationsReply
}

// announce injects the completion report as a system-channel inbound message.
// The main loop summarizes it into the origin conversation.
func (sm *SubagentManager) announce(label, task, result, status, originChannel, originChatID string) {
	content := fmt.Sprintf(`[Subagent '%s' %s]

Task: %s

Result:
%s

Summarize this naturally for the user. Keep it brief (1-2 sentences). Do not mention technical details like "subagent" or task IDs.`,
		label, status, task, result)

	msg := bus.NewInboundMessage(bus.ChannelSystem, "subagent", originChannel+":"+originChatID, content)
	sm.bus.PublishInbound(msg)
}

func (sm *SubagentManager) systemPrompt() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	tz, _ := time.Now().Zone()
	if tz == "" {
		tz = "UTC"
	}

	ws := expandHome(sm.workspace)
	osName := runtime.GOOS
	if osName == "darwin" {
		osName = "macOS"
	}

	return strings.Join([]string{
		"# Subagent",
		"",
		"## Current Time",
		now + " (" + tz + ")",
		"",
		"You are a subagent spawned by the main agent to complete a specific task.",
		"",
		"## Rules",
		"1. Stay focused - complete only the assigned task, nothing else",
		"2. Your final response will be reported back to the main agent",
		"3. Do not initiate conversations or take on side tasks",
		"4. Be concise but informative in your findings",
		"",
		"## What You Can Do",
		"- Read and write files in the workspace",
		"- Execute shell commands",
		"- Search the web and fetch web pages",
		"",
		"## What You Cannot Do",
		"- Send messages directly to users (no message tool available)",
		"- Spawn other subagents",
		"- Access the main agent's conversation history",
		"",
		"## Workspace",
		"Your workspace is at: " + ws,
		"Skills are available at: " + ws + "/skills/ (read SKILL.md files as needed)",
		"OS: " + osName + " " + runtime.GOARCH,
		"",
		"When you have completed the task, provide a clear summary of your findings or actions.",
	}, "\n")
}
