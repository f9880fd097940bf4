// Package session keeps per-conversation history in memory.
//
// A session is keyed by "channel:chat_id". History is a bounded prompt
// window; long-term recall lives in the workspace memory files, so sessions
// are deliberately not persisted.
package session

import (
	"sync"
	"time"

	"github.com/dusterbloom/nanobot/internal/schema"
)

// Session holds one conversation's messages and metadata.
type Session struct {
	Key       string
	Messages  schema.Messages
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any

	mu sync.Mutex
}

func newSession(key string) *Session {
	return &Session{
		Key:       key,
		Messages:  schema.NewMessages(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Metadata:  map[string]any{},
	}
}

// AddUser appends a user message to the session.
func (s *Session) AddUser(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages.AddUser(content)
	s.UpdatedAt = time.Now()
}

// AddAssistant appends an assistant message to the session.
func (s *Session) AddAssistant(content string, toolsUsed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := content
	s.Messages.Add(schema.Message{
		Role:      "assistant",
		Content:   &c,
		ToolsUsed: toolsUsed,
	})
	s.UpdatedAt = time.Now()
}

// AddAssistantCalls appends an assistant message that carries tool calls.
// content may be nil when the model emitted only tool calls.
func (s *Session) AddAssistantCalls(content *string, calls []schema.ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages.AddAssistant(content, calls)
	s.UpdatedAt = time.Now()
}

// AddToolResult appends a tool-result message matching a prior tool call.
func (s *Session) AddToolResult(toolCallID, toolName, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages.AddToolResult(toolCallID, toolName, result)
	s.UpdatedAt = time.Now()
}

// GetHistory returns the last maxMessages messages for the LLM.
func (s *Session) GetHistory(maxMessages int) schema.Messages {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.Messages.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
		// Never start the window on an orphaned tool result.
		for len(msgs) > 0 && msgs[0].Role == "tool" {
			msgs = msgs[1:]
		}
	}

	out := schema.NewMessages()
	out.Messages = append(out.Messages, msgs...)
	return out
}

// Len returns the number of messages in the session.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Messages.Messages)
}

// Clear resets the message history.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = schema.NewMessages()
	s.UpdatedAt = time.Now()
}
