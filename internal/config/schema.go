// Package config defines the configuration schema for nanobot.
//
// JSON keys use camelCase to stay byte-compatible with existing
// ~/.nanobot/config.json files.
package config

import (
	"os"
	"path/filepath"
)

// ProviderConfig holds credentials for one LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase,omitempty"`
}

// ProvidersConfig holds credentials for the supported LLM providers.
// All of them speak the OpenAI chat-completions dialect.
type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Groq       ProviderConfig `json:"groq"`
	OpenAI     ProviderConfig `json:"openai"`
	Custom     ProviderConfig `json:"custom"`
}

// Active returns the first provider with an API key configured, in a fixed
// priority order. Returns nil when no provider is configured.
func (p *ProvidersConfig) Active() *ProviderConfig {
	for _, pc := range []*ProviderConfig{&p.Custom, &p.OpenRouter, &p.DeepSeek, &p.Groq, &p.OpenAI} {
		if pc.APIKey != "" || pc.APIBase != "" {
			return pc
		}
	}
	return nil
}

// AgentDefaults holds default values for agent behaviour.
type AgentDefaults struct {
	Workspace    string  `json:"workspace"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"maxTokens"`
	Temperature  float64 `json:"temperature"`
	MaxToolIter  int     `json:"maxToolIterations"`
	MemoryWindow int     `json:"memoryWindow"`
}

func defaultAgentDefaults() AgentDefaults {
	return AgentDefaults{
		Workspace:    "~/.nanobot/workspace",
		Model:        "anthropic/claude-opus-4-5",
		MaxTokens:    8192,
		Temperature:  0.7,
		MaxToolIter:  10,
		MemoryWindow: 50,
	}
}

// AgentsConfig wraps agent defaults.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// ---- Channel configs -------------------------------------------------------

// WhatsAppConfig configures the WhatsApp bridge channel.
type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	BridgeURL string   `json:"bridgeUrl"`
	AllowFrom []string `json:"allowFrom"`
}

func defaultWhatsAppConfig() WhatsAppConfig {
	return WhatsAppConfig{BridgeURL: "ws://localhost:3001", AllowFrom: []string{}}
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token"`
	AllowFrom      []string `json:"allowFrom"`
	ReplyToMessage bool     `json:"replyToMessage"`
}

func defaultTelegramConfig() TelegramConfig {
	return TelegramConfig{AllowFrom: []string{}}
}

// SlackConfig configures the Slack channel (socket mode).
type SlackConfig struct {
	Enabled   bool     `json:"enabled"`
	BotToken  string   `json:"botToken"`
	AppToken  string   `json:"appToken"`
	AllowFrom []string `json:"allowFrom"`
}

func defaultSlackConfig() SlackConfig {
	return SlackConfig{AllowFrom: []string{}}
}

// FeishuConfig configures the Feishu/Lark channel (event webhook).
type FeishuConfig struct {
	Enabled           bool     `json:"enabled"`
	AppID             string   `json:"appId"`
	AppSecret         string   `json:"appSecret"`
	VerificationToken string   `json:"verificationToken"`
	WebhookPath       string   `json:"webhookPath"`
	AllowFrom         []string `json:"allowFrom"`
}

func defaultFeishuConfig() FeishuConfig {
	return FeishuConfig{WebhookPath: "/feishu/events", AllowFrom: []string{}}
}

// ChannelsConfig groups all channel configurations.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	Feishu   FeishuConfig   `json:"feishu"`
}

func defaultChannelsConfig() ChannelsConfig {
	return ChannelsConfig{
		WhatsApp: defaultWhatsAppConfig(),
		Telegram: defaultTelegramConfig(),
		Slack:    defaultSlackConfig(),
		Feishu:   defaultFeishuConfig(),
	}
}

// ---- Tool configs ----------------------------------------------------------

// WebSearchConfig configures the Brave web-search tool.
type WebSearchConfig struct {
	APIKey     string `json:"apiKey"`
	MaxResults int    `json:"maxResults"`
}

// WebToolsConfig groups web-related tool settings.
type WebToolsConfig struct {
	Search WebSearchConfig `json:"search"`
}

// ExecToolConfig configures the shell-exec tool.
type ExecToolConfig struct {
	TimeoutSeconds int      `json:"timeoutSeconds"`
	AllowPatterns  []string `json:"allowPatterns,omitempty"`
}

// ToolsConfig groups all tool-level settings.
type ToolsConfig struct {
	Web                 WebToolsConfig `json:"web"`
	Exec                ExecToolConfig `json:"exec"`
	RestrictToWorkspace bool           `json:"restrictToWorkspace"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		Web:  WebToolsConfig{Search: WebSearchConfig{MaxResults: 5}},
		Exec: ExecToolConfig{TimeoutSeconds: 60},
	}
}

// GatewayConfig holds settings for the HTTP listener used by webhook
// channels (Feishu).
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func defaultGatewayConfig() GatewayConfig {
	return GatewayConfig{Host: "0.0.0.0", Port: 18790}
}

// ---- Root config -----------------------------------------------------------

// Config is the root configuration object, loaded from ~/.nanobot/config.json.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Tools     ToolsConfig     `json:"tools"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Agents:    AgentsConfig{Defaults: defaultAgentDefaults()},
		Channels:  defaultChannelsConfig(),
		Providers: ProvidersConfig{},
		Gateway:   defaultGatewayConfig(),
		Tools:     defaultToolsConfig(),
	}
}

// WorkspacePath returns the expanded absolute path to the agent workspace.
func (c *Config) WorkspacePath() string {
	ws := c.Agents.Defaults.Workspace
	if ws == "" {
		ws = "~/.nanobot/workspace"
	}
	return expandHome(ws)
}

func expandHome(p string) string {
	if len(p) >= 2 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
