package tools

import (
	"context"
	"errors"
	"testing"
)

type fakeSpawner struct {
	task    string
	label   string
	channel string
	chatID  string
	err     error
}

func (f *fakeSpawner) Spawn(ctx context.Context, task, label, originChannel, originChatID string) (string, error) {
	f.task = task
	f.label = label
	f.channel = originChannel
	f.chatID = originChatID
	if f.err != nil {
		return "", f.err
	}
	return "Subagent [" + label + "] started.", nil
}

func TestSpawnTool_ForwardsOrigin(t *testing.T) {
	sp := &fakeSpawner{}
	tool := NewSpawnTool(sp)

	got, _ := tool.Execute(turnCtx("telegram", "42"), map[string]any{
		"task": "summarize inbox", "label": "inbox",
	})
	if got != "Subagent [inbox] started." {
		t.Errorf("unexpected result: %q", got)
	}
	if sp.task != "summarize inbox" || sp.label != "inbox" {
		t.Errorf("task/label not forwarded: %q %q", sp.task, sp.label)
	}
	if sp.channel != "telegram" || sp.chatID != "42" {
		t.Errorf("origin not forwarded: %q %q", sp.channel, sp.chatID)
	}
}

func TestSpawnTool_DefaultsOriginToCLI(t *testing.T) {
	sp := &fakeSpawner{}
	tool := NewSpawnTool(sp)

	tool.Execute(context.Background(), map[string]any{"task": "work"})
	if sp.channel != "cli" || sp.chatID != "direct" {
		t.Errorf("missing session must default to cli/direct, got %q %q", sp.channel, sp.chatID)
	}
}

func TestSpawnTool_Validation(t *testing.T) {
	tool := NewSpawnTool(&fakeSpawner{})

	got, _ := tool.Execute(context.Background(), map[string]any{})
	if got != "Error: task is required" {
		t.Errorf("unexpected result: %q", got)
	}
}

func TestSpawnTool_SpawnError(t *testing.T) {
	tool := NewSpawnTool(&fakeSpawner{err: errors.New("too many subagents")})

	got, _ := tool.Execute(context.Background(), map[string]any{"task": "work"})
	if got != "Error spawning subagent: too many subagents" {
		t.Errorf("unexpected result: %q", got)
	}
}
