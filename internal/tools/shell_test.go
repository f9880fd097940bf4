package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExecTool_RunsCommand(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10, nil, false)
	got, _ := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if !strings.Contains(got, "hello") {
		t.Errorf("unexpected output: %q", got)
	}
}

func TestExecTool_NoOutput(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10, nil, false)
	got, _ := tool.Execute(context.Background(), map[string]any{"command": "true"})
	if got != "(no output)" {
		t.Errorf("expected placeholder for silent command, got %q", got)
	}
}

func TestExecTool_ExitCodeReported(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10, nil, false)
	got, _ := tool.Execute(context.Background(), map[string]any{"command": "exit 3"})
	if !strings.Contains(got, "Exit code: 3") {
		t.Errorf("expected exit code in output, got %q", got)
	}
}

func TestExecTool_StderrCaptured(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10, nil, false)
	got, _ := tool.Execute(context.Background(), map[string]any{"command": "echo oops 1>&2"})
	if !strings.Contains(got, "STDERR:") || !strings.Contains(got, "oops") {
		t.Errorf("stderr not captured: %q", got)
	}
}

func TestExecTool_Timeout(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 1, nil, false)
	got, _ := tool.Execute(context.Background(), map[string]any{"command": "sleep 5"})
	if !strings.Contains(got, "timed out after 1 seconds") {
		t.Errorf("expected timeout message, got %q", got)
	}
}

func TestExecTool_DenyPatterns(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10, nil, false)
	dangerous := []string{
		"rm -rf /",
		"sudo rm -r /etc",
		"dd if=/dev/zero of=/dev/sda",
		"shutdown -h now",
		":(){ :|:& };:",
		"mkfs.ext4 /dev/sda1",
	}
	for _, cmd := range dangerous {
		got, _ := tool.Execute(context.Background(), map[string]any{"command": cmd})
		if !strings.Contains(got, "blocked by safety guard") {
			t.Errorf("command %q not blocked: %q", cmd, got)
		}
	}
}

func TestExecTool_AllowList(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10, []string{`^echo\b`, `^ls\b`}, false)

	got, _ := tool.Execute(context.Background(), map[string]any{"command": "echo yes"})
	if !strings.Contains(got, "yes") {
		t.Errorf("allowed command blocked: %q", got)
	}
	got, _ = tool.Execute(context.Background(), map[string]any{"command": "cat /etc/hostname"})
	if !strings.Contains(got, "not in allow list") {
		t.Errorf("disallowed command not blocked: %q", got)
	}
}

func TestExecTool_WorkspaceRestriction(t *testing.T) {
	ws := t.TempDir()
	tool := NewExecTool(ws, 10, nil, true)

	got, _ := tool.Execute(context.Background(), map[string]any{"command": "cat ../../etc/passwd"})
	if !strings.Contains(got, "path traversal detected") {
		t.Errorf("traversal not blocked: %q", got)
	}

	got, _ = tool.Execute(context.Background(), map[string]any{"command": "cat /etc/passwd"})
	if !strings.Contains(got, "path outside working dir") {
		t.Errorf("absolute path not blocked: %q", got)
	}

	// Paths inside the workspace are fine.
	got, _ = tool.Execute(context.Background(), map[string]any{"command": "echo in-workspace"})
	if !strings.Contains(got, "in-workspace") {
		t.Errorf("in-workspace command blocked: %q", got)
	}
}

func TestExecTool_WorkspaceSiblingPrefixBlocked(t *testing.T) {
	base := t.TempDir()
	ws := filepath.Join(base, "work")
	sibling := filepath.Join(base, "work-secrets")
	for _, dir := range []string{ws, sibling} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	secret := filepath.Join(sibling, "secret.txt")
	if err := os.WriteFile(secret, []byte("topsecret"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewExecTool(ws, 10, nil, true)

	// A sibling dir sharing the workspace name as a string prefix is outside.
	got, _ := tool.Execute(context.Background(), map[string]any{"command": "cat " + secret})
	if !strings.Contains(got, "path outside working dir") {
		t.Errorf("sibling prefix path not blocked: %q", got)
	}

	// The workspace itself and files under it stay reachable.
	inside := filepath.Join(ws, "ok.txt")
	if err := os.WriteFile(inside, []byte("fine"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, _ = tool.Execute(context.Background(), map[string]any{"command": "cat " + inside})
	if !strings.Contains(got, "fine") {
		t.Errorf("in-workspace file blocked: %q", got)
	}
	got, _ = tool.Execute(context.Background(), map[string]any{"command": "ls " + ws})
	if strings.Contains(got, "blocked by safety guard") {
		t.Errorf("workspace root blocked: %q", got)
	}
}

func TestExecTool_MissingCommand(t *testing.T) {
	tool := NewExecTool(t.TempDir(), 10, nil, false)
	got, _ := tool.Execute(context.Background(), map[string]any{})
	if got != "Error: command is required" {
		t.Errorf("unexpected result: %q", got)
	}
}
