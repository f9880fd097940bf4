package agent

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dusterbloom/nanobot/internal/schema"
)

// ContextBuilder assembles system prompts and message lists for the LLM.
type ContextBuilder struct {
	workspace string
	memory    *MemoryStore
	skills    *SkillsLoader
}

// bootstrapFiles lists workspace files loaded into the system prompt.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

// imageExtensions are the media file extensions embedded as image blocks.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true,
}

// NewContextBuilder creates a ContextBuilder for the given workspace.
// builtinSkillsDir may be "" if there is no bundled skills directory.
// Memory directory creation errors are silently ignored.
func NewContextBuilder(workspace, builtinSkillsDir string) *ContextBuilder {
	mem, _ := NewMemoryStore(workspace)
	if mem == nil {
		mem = &MemoryStore{}
	}
	return &ContextBuilder{
		workspace: workspace,
		memory:    mem,
		skills:    NewSkillsLoader(workspace, builtinSkillsDir),
	}
}

// Memory returns the underlying memory store.
func (cb *ContextBuilder) Memory() *MemoryStore { return cb.memory }

// Skills returns the underlying skills loader.
func (cb *ContextBuilder) Skills() *SkillsLoader { return cb.skills }

// BuildSystemPrompt assembles the full system prompt: identity + bootstrap
// files + memory + always-skills + skills summary + requested skills.
// Empty sections are omitted; sections are joined by "\n\n---\n\n".
func (cb *ContextBuilder) BuildSystemPrompt(requestedSkills []string) string {
	var parts []string

	parts = append(parts, cb.buildIdentity())

	if bootstrap := cb.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	if mem := cb.memory.GetMemoryContext(); mem != "" {
		parts = append(parts, "# Memory\n\n"+mem)
	}

	// Always-loaded skills (full content).
	alwaysNames := cb.skills.GetAlwaysSkills()
	if len(alwaysNames) > 0 {
		if content := cb.skills.LoadSkillsForContext(alwaysNames); content != "" {
			parts = append(parts, "# Active Skills\n\n"+content)
		}
	}

	// Skills directory summary (progressive loading).
	if summary := cb.skills.BuildSkillsSummary(); summary != "" {
		parts = append(parts, `# Skills

The following skills extend your capabilities. To use a skill, read its SKILL.md file using the read_file tool.
Skills with available="false" need dependencies installed first - you can try installing them with apt/brew.

`+summary)
	}

	// Skills explicitly requested for this turn, minus the always set.
	var requested []string
	for _, name := range requestedSkills {
		already := false
		for _, a := range alwaysNames {
			if a == name {
				already = true
				break
			}
		}
		if !already {
			requested = append(requested, name)
		}
	}
	if len(requested) > 0 {
		if content := cb.skills.LoadSkillsForContext(requested); content != "" {
			parts = append(parts, "# Requested Skills\n\n"+content)
		}
	}

	return strings.Join(parts, "\n\n---\n\n")
}

// buildIdentity returns the core identity section of the system prompt.
func (cb *ContextBuilder) buildIdentity() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	tz, _ := time.Now().Zone()
	if tz == "" {
		tz = "UTC"
	}
	wsExpanded := expandHome(cb.workspace)
	osName := runtime.GOOS
	if osName == "darwin" {
		osName = "macOS"
	}
	runtimeStr := fmt.Sprintf("%s %s, Go %s", osName, runtime.GOARCH, runtime.Version())

	return fmt.Sprintf(`# nanobot 🐈

You are nanobot, a helpful AI assistant.

## Current Time
%s (%s)

## Runtime
%s

## Workspace
Your workspace is at: %s
- Long-term memory: %s/memory/MEMORY.md
- Daily notes: %s/memory/YYYY-MM-DD.md
- Custom skills: %s/skills/{skill-name}/SKILL.md

IMPORTANT: When responding to direct questions or conversations, reply directly with your text response.
Only use the 'message' tool when you need to send a message to a specific chat channel (like WhatsApp).
For normal conversation, just respond with text - do not call the message tool.

Always be helpful, accurate, and concise. Before calling tools, briefly tell the user what you're about to do (one short sentence in the user's language).
If you need to use tools, call them directly — never send a preliminary message like "Let me check" without actually calling a tool.
When remembering something important, use the remember tool or write to %s/memory/MEMORY.md`,
		now, tz,
		runtimeStr,
		wsExpanded,
		wsExpanded, wsExpanded, wsExpanded,
		wsExpanded,
	)
}

// loadBootstrapFiles reads all bootstrap markdown files from the workspace.
func (cb *ContextBuilder) loadBootstrapFiles() string {
	var parts []string
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(cb.workspace, name))
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", name, string(data)))
	}
	return strings.Join(parts, "\n\n")
}

// BuildMessages builds the complete message list for an LLM call:
// [system] + history + [user].
func (cb *ContextBuilder) BuildMessages(
	history schema.Messages,
	currentMessage string,
	skillNames []string,
	media []string,
	channel, chatID string,
) schema.Messages {
	systemPrompt := cb.BuildSystemPrompt(skillNames)
	if channel != "" && chatID != "" {
		systemPrompt += fmt.Sprintf("\n\n## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
	}

	messages := schema.NewMessages()
	messages.AddSystem(systemPrompt)
	messages.Append(history)
	messages.AddUser(cb.buildUserContent(currentMessage, media))

	return messages
}

// buildUserContent builds user content, embedding base64 images when media
// is provided. Unreadable or non-image paths are silently skipped.
func (cb *ContextBuilder) buildUserContent(text string, media []string) any {
	if len(media) == 0 {
		return text
	}

	var blocks []schema.ContentBlock
	for _, path := range media {
		ext := strings.ToLower(filepath.Ext(path))
		if !imageExtensions[ext] {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		mimeType := mime.TypeByExtension(ext)
		if mimeType == "" {
			mimeType = "image/" + strings.TrimPrefix(ext, ".")
		}
		b64 := base64.StdEncoding.EncodeToString(data)
		blocks = append(blocks, schema.ContentBlock{
			Type:     "image_url",
			ImageURL: map[string]any{"url": fmt.Sprintf("data:%s;base64,%s", mimeType, b64)},
		})
	}

	if len(blocks) == 0 {
		return text
	}
	return append(blocks, schema.ContentBlock{Type: "text", Text: text})
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
