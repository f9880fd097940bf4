package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/dusterbloom/nanobot/internal/cron"
)

type fakeCronService struct {
	jobs    []cron.CronJob
	added   []string
	removed []string
	addErr  error

	lastKind    string
	lastEveryMs int64
	lastExpr    string
	lastAtMs    int64
	lastChannel string
	lastTo      string
	lastDelete  bool
}

func (f *fakeCronService) AddJob(name, message, kind string, everyMs int64, cronExpr, tz string, atMs int64, deliver bool, channel, to string, deleteAfterRun bool) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	f.added = append(f.added, name)
	f.lastKind = kind
	f.lastEveryMs = everyMs
	f.lastExpr = cronExpr
	f.lastAtMs = atMs
	f.lastChannel = channel
	f.lastTo = to
	f.lastDelete = deleteAfterRun
	return "abcd1234", nil
}

func (f *fakeCronService) ListJobs(includeDisabled bool) []cron.CronJob {
	return f.jobs
}

func (f *fakeCronService) RemoveJob(id string) bool {
	f.removed = append(f.removed, id)
	return id == "exists"
}

func turnCtx(channel, chatID string) context.Context {
	return WithTurn(context.Background(), TurnContext{Channel: channel, ChatID: chatID})
}

func TestCronTool_AddEvery(t *testing.T) {
	svc := &fakeCronService{}
	tool := NewCronTool(svc)

	got, _ := tool.Execute(turnCtx("telegram", "42"), map[string]any{
		"action": "add", "message": "stretch", "every_seconds": float64(300),
	})
	if !strings.Contains(got, "Created job 'stretch'") || !strings.Contains(got, "abcd1234") {
		t.Errorf("unexpected result: %q", got)
	}
	if svc.lastKind != "every" || svc.lastEveryMs != 300_000 {
		t.Errorf("schedule not mapped: kind=%q everyMs=%d", svc.lastKind, svc.lastEveryMs)
	}
	if svc.lastChannel != "telegram" || svc.lastTo != "42" {
		t.Errorf("delivery route not taken from session: %q %q", svc.lastChannel, svc.lastTo)
	}
}

func TestCronTool_AddCronExpr(t *testing.T) {
	svc := &fakeCronService{}
	tool := NewCronTool(svc)

	tool.Execute(turnCtx("cli", "direct"), map[string]any{
		"action": "add", "message": "daily report", "cron_expr": "0 9 * * *",
	})
	if svc.lastKind != "cron" || svc.lastExpr != "0 9 * * *" {
		t.Errorf("cron schedule not mapped: kind=%q expr=%q", svc.lastKind, svc.lastExpr)
	}
}

func TestCronTool_AddAt(t *testing.T) {
	svc := &fakeCronService{}
	tool := NewCronTool(svc)

	tool.Execute(turnCtx("cli", "direct"), map[string]any{
		"action": "add", "message": "one shot", "at": "2030-01-02T10:30:00Z",
	})
	if svc.lastKind != "at" || svc.lastAtMs == 0 {
		t.Errorf("at schedule not mapped: kind=%q atMs=%d", svc.lastKind, svc.lastAtMs)
	}
	if !svc.lastDelete {
		t.Error("one-time jobs must delete after run")
	}
}

func TestCronTool_AddValidation(t *testing.T) {
	tool := NewCronTool(&fakeCronService{})

	got, _ := tool.Execute(turnCtx("cli", "direct"), map[string]any{"action": "add"})
	if got != "Error: message is required for add" {
		t.Errorf("unexpected result: %q", got)
	}

	got, _ = tool.Execute(turnCtx("cli", "direct"), map[string]any{
		"action": "add", "message": "m",
	})
	if got != "Error: either every_seconds, cron_expr, or at is required" {
		t.Errorf("unexpected result: %q", got)
	}

	got, _ = tool.Execute(context.Background(), map[string]any{
		"action": "add", "message": "m", "every_seconds": float64(5),
	})
	if got != "Error: no session context (channel/chat_id)" {
		t.Errorf("unexpected result: %q", got)
	}
}

func TestCronTool_List(t *testing.T) {
	svc := &fakeCronService{jobs: []cron.CronJob{
		{ID: "j1", Name: "morning brief", Schedule: cron.CronSchedule{Kind: "cron"}},
	}}
	tool := NewCronTool(svc)

	got, _ := tool.Execute(context.Background(), map[string]any{"action": "list"})
	if !strings.Contains(got, "morning brief") || !strings.Contains(got, "j1") {
		t.Errorf("unexpected list: %q", got)
	}

	got, _ = NewCronTool(&fakeCronService{}).Execute(context.Background(), map[string]any{"action": "list"})
	if got != "No scheduled jobs." {
		t.Errorf("unexpected empty list: %q", got)
	}
}

func TestCronTool_Remove(t *testing.T) {
	svc := &fakeCronService{}
	tool := NewCronTool(svc)

	got, _ := tool.Execute(context.Background(), map[string]any{"action": "remove", "job_id": "exists"})
	if got != "Removed job exists" {
		t.Errorf("unexpected result: %q", got)
	}
	got, _ = tool.Execute(context.Background(), map[string]any{"action": "remove", "job_id": "ghost"})
	if got != "Job ghost not found" {
		t.Errorf("unexpected result: %q", got)
	}
	got, _ = tool.Execute(context.Background(), map[string]any{"action": "remove"})
	if got != "Error: job_id is required for remove" {
		t.Errorf("unexpected result: %q", got)
	}
}

func TestCronTool_UnknownAction(t *testing.T) {
	got, _ := NewCronTool(&fakeCronService{}).Execute(context.Background(), map[string]any{"action": "pause"})
	if got != "Unknown action: pause" {
		t.Errorf("unexpected result: %q", got)
	}
}
