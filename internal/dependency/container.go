// Package dependency wires the core nanobot services using go.uber.org/dig.
package dependency

import (
	"fmt"
	"path/filepath"

	"go.uber.org/dig"

	"github.com/dusterbloom/nanobot/internal/agent"
	"github.com/dusterbloom/nanobot/internal/bus"
	"github.com/dusterbloom/nanobot/internal/config"
	"github.com/dusterbloom/nanobot/internal/cron"
	"github.com/dusterbloom/nanobot/internal/providers"
	"github.com/dusterbloom/nanobot/internal/schema"
	"github.com/dusterbloom/nanobot/internal/session"
	"github.com/dusterbloom/nanobot/internal/tools"
)

// Container holds the resolved core service singletons.
// Callers use the typed getters; they never need to import dig directly.
type Container struct {
	provider schema.LLMProvider
	msgBus   *bus.MessageBus
	loop     *agent.AgentLoop
	cronSvc  *cron.Service
	subMgr   *agent.SubagentManager
	sessions *session.Manager
}

func (c *Container) Provider() schema.LLMProvider      { return c.provider }
func (c *Container) MessageBus() *bus.MessageBus       { return c.msgBus }
func (c *Container) AgentLoop() *agent.AgentLoop       { return c.loop }
func (c *Container) CronService() *cron.Service        { return c.cronSvc }
func (c *Container) Subagents() *agent.SubagentManager { return c.subMgr }
func (c *Container) Sessions() *session.Manager        { return c.sessions }

// AgentRegistry wraps the full tool registry used by the main agent loop.
type AgentRegistry struct{ *tools.Registry }

// SubagentRegistry wraps the restricted tool registry used by subagents.
// It must not contain spawn, message, or cron tools: no recursion, no
// unsolicited outbound messages, no schedule mutation from background tasks.
type SubagentRegistry struct{ *tools.Registry }

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	constructors := []any{
		func() *config.Config { return cfg },
		newProvider,
		newMessageBus,
		newSessionManager,
		newCronService,
		newContextBuilder,
		newSubagentRegistry,
		newSubagentManager,
		newAgentRegistry,
		newAgentLoop,
	}
	for _, c := range constructors {
		if err := d.Provide(c); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		provider schema.LLMProvider,
		msgBus *bus.MessageBus,
		loop *agent.AgentLoop,
		cronSvc *cron.Service,
		subMgr *agent.SubagentManager,
		sessions *session.Manager,
	) {
		result = &Container{
			provider: provider,
			msgBus:   msgBus,
			loop:     loop,
			cronSvc:  cronSvc,
			subMgr:   subMgr,
			sessions: sessions,
		}
	})
	return result, err
}

func newProvider(cfg *config.Config) (schema.LLMProvider, error) {
	active := cfg.Providers.Active()
	if active == nil {
		return nil, fmt.Errorf("no LLM provider configured — edit %s", config.ConfigPath())
	}
	model := cfg.Agents.Defaults.Model
	apiBase := providers.ResolveAPIBase(active.APIKey, active.APIBase, model)
	return providers.NewOpenAIProvider(active.APIKey, apiBase, model), nil
}

func newMessageBus() *bus.MessageBus {
	return bus.NewMessageBus(100)
}

func newSessionManager() *session.Manager {
	return session.NewManager()
}

func newCronService() *cron.Service {
	return cron.NewService(filepath.Join(config.DataDir(), "cron", "jobs.json"))
}

func newContextBuilder(cfg *config.Config) *agent.ContextBuilder {
	return agent.NewContextBuilder(cfg.WorkspacePath(), "")
}

func agentSettings(cfg *config.Config) agent.Settings {
	return agent.Settings{
		Model:             cfg.Agents.Defaults.Model,
		MaxTokens:         cfg.Agents.Defaults.MaxTokens,
		Temperature:       cfg.Agents.Defaults.Temperature,
		MaxToolIterations: cfg.Agents.Defaults.MaxToolIter,
		MemoryWindow:      cfg.Agents.Defaults.MemoryWindow,
	}
}

func newSubagentRegistry(cfg *config.Config) SubagentRegistry {
	workspace := cfg.WorkspacePath()
	allowedDir := ""
	if cfg.Tools.RestrictToWorkspace {
		allowedDir = workspace
	}

	registry := tools.NewRegistryBuilder().
		WithTool(tools.NewReadFileTool(workspace, allowedDir)).
		WithTool(tools.NewWriteFileTool(workspace, allowedDir)).
		WithTool(tools.NewEditFileTool(workspace, allowedDir)).
		WithTool(tools.NewListDirTool(workspace, allowedDir)).
		WithTool(tools.NewExecTool(workspace, cfg.Tools.Exec.TimeoutSeconds, cfg.Tools.Exec.AllowPatterns, cfg.Tools.RestrictToWorkspace)).
		WithTool(tools.NewWebSearchTool(cfg.Tools.Web.Search.APIKey, cfg.Tools.Web.Search.MaxResults)).
		WithTool(tools.NewWebFetchTool(0)).
		Build()

	return SubagentRegistry{registry}
}

func newSubagentManager(
	b *bus.MessageBus,
	p schema.LLMProvider,
	cfg *config.Config,
	reg SubagentRegistry,
) *agent.SubagentManager {
	return agent.NewSubagentManager(b, p, reg.Registry, cfg.WorkspacePath(), agentSettings(cfg))
}

func newAgentRegistry(
	cfg *config.Config,
	b *bus.MessageBus,
	subMgr *agent.SubagentManager,
	cronSvc *cron.Service,
	cb *agent.ContextBuilder,
) AgentRegistry {
	workspace := cfg.WorkspacePath()
	allowedDir := ""
	if cfg.Tools.RestrictToWorkspace {
		allowedDir = workspace
	}

	registry := tools.NewRegistryBuilder().
		WithTool(tools.NewReadFileTool(workspace, allowedDir)).
		WithTool(tools.NewWriteFileTool(workspace, allowedDir)).
		WithTool(tools.NewEditFileTool(workspace, allowedDir)).
		WithTool(tools.NewListDirTool(workspace, allowedDir)).
		WithTool(tools.NewExecTool(workspace, cfg.Tools.Exec.TimeoutSeconds, cfg.Tools.Exec.AllowPatterns, cfg.Tools.RestrictToWorkspace)).
		WithTool(tools.NewWebSearchTool(cfg.Tools.Web.Search.APIKey, cfg.Tools.Web.Search.MaxResults)).
		WithTool(tools.NewWebFetchTool(0)).
		WithTool(tools.NewMessageTool(b)).
		WithTool(tools.NewSpawnTool(subMgr)).
		WithTool(tools.NewCronTool(cronSvc)).
		WithTool(tools.NewRememberTool(cb.Memory())).
		Build()

	return AgentRegistry{registry}
}

func newAgentLoop(
	b *bus.MessageBus,
	p schema.LLMProvider,
	cfg *config.Config,
	sessions *session.Manager,
	reg AgentRegistry,
	cb *agent.ContextBuilder,
) *agent.AgentLoop {
	return agent.NewAgentLoop(b, p, reg.Registry, sessions, cb, agentSettings(cfg))
}
