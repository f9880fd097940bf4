package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dusterbloom/nanobot/internal/bus"
	"github.com/dusterbloom/nanobot/internal/schema"
	"github.com/dusterbloom/nanobot/internal/session"
	"github.com/dusterbloom/nanobot/internal/shared/llmutils"
	"github.com/dusterbloom/nanobot/internal/tools"
)

// maxIterationsReply is returned when a turn burns through every allowed
// provider call without the model producing a final text response.
const maxIterationsReply = "Reached maximum tool iterations without a final response."

// emptyReply stands in when the model returns neither text nor tool calls.
const emptyReply = "I've completed processing but have no response to give."

const helpText = `nanobot commands:
/new — Start a new conversation
/help — Show available commands`

// sessionQueueSize bounds the per-session inbox. A full queue drops
// messages rather than blocking the dispatcher.
const sessionQueueSize = 16

// Settings carries the per-turn knobs of the agent loop.
type Settings struct {
	Model             string
	MaxTokens         int
	Temperature       float64
	MaxToolIterations int
	MemoryWindow      int
}

// AgentLoop consumes inbound messages, runs the tool-calling turn against
// the provider, and publishes replies on the outbound side of the bus.
//
// Messages within one session are processed strictly in order; different
// sessions run concurrently, each on its own worker goroutine.
type AgentLoop struct {
	bus      *bus.MessageBus
	provider schema.LLMProvider
	registry *tools.Registry
	sessions *session.Manager
	builder  *ContextBuilder
	settings Settings
}

// NewAgentLoop wires an AgentLoop. Zero or negative settings fall back to
// defaults (10 tool iterations, 50-message history window).
func NewAgentLoop(
	b *bus.MessageBus,
	provider schema.LLMProvider,
	registry *tools.Registry,
	sessions *session.Manager,
	builder *ContextBuilder,
	settings Settings,
) *AgentLoop {
	if settings.MaxToolIterations <= 0 {
		settings.MaxToolIterations = 10
	}
	if settings.MemoryWindow <= 0 {
		settings.MemoryWindow = 50
	}
	if settings.Model == "" {
		settings.Model = provider.DefaultModel()
	}
	return &AgentLoop{
		bus:      b,
		provider: provider,
		registry: registry,
		sessions: sessions,
		builder:  builder,
		settings: settings,
	}
}

// Registry exposes the tool registry, mainly for status commands.
func (l *AgentLoop) Registry() *tools.Registry { return l.registry }

// ContextBuilder exposes the prompt builder for reuse by commands.
func (l *AgentLoop) ContextBuilder() *ContextBuilder { return l.builder }

// Run consumes the inbound channel until ctx is cancelled. Each session gets
// a dedicated worker so a long turn in one chat never stalls another.
func (l *AgentLoop) Run(ctx context.Context) error {
	workers := make(map[string]chan bus.InboundMessage)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-l.bus.InboundChan():
			key := msg.SessionKey()
			ch, ok := workers[key]
			if !ok {
				ch = make(chan bus.InboundMessage, sessionQueueSize)
				workers[key] = ch
				wg.Add(1)
				go func() {
					defer wg.Done()
					l.sessionWorker(ctx, ch)
				}()
			}
			select {
			case ch <- msg:
			default:
				slog.Warn("Session queue full, dropping message",
					"session", key, "preview", msg.Preview())
			}
		}
	}
}

func (l *AgentLoop) sessionWorker(ctx context.Context, ch <-chan bus.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			l.handleInbound(ctx, msg)
		}
	}
}

// handleInbound runs one turn for an inbound message and routes the reply.
func (l *AgentLoop) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	channel, chatID := msg.Channel, msg.ChatID
	sessionKey := msg.SessionKey()

	// System messages (subagent completions) carry their reply route in
	// ChatID as "channel:chat_id" and join that session's conversation.
	if msg.Channel == bus.ChannelSystem {
		if i := strings.Index(msg.ChatID, ":"); i > 0 {
			channel = msg.ChatID[:i]
			chatID = msg.ChatID[i+1:]
			sessionKey = channel + ":" + chatID
		}
	}

	slog.Info("Processing message", "channel", msg.Channel, "chat", chatID, "preview", msg.Preview())

	messageID, _ := msg.Metadata["message_id"].(string)
	reply := l.processTurn(ctx, msg.Content, sessionKey, channel, chatID, messageID, msg.Media)

	// An empty reply means the message tool already delivered to this chat.
	// The CLI still needs the (empty) outbound as its read-loop signal.
	if reply == "" && channel != bus.ChannelCLI {
		return
	}

	out := bus.NewOutboundMessage(channel, chatID, reply)
	if messageID != "" {
		out.Metadata = map[string]any{"message_id": messageID}
	}
	l.bus.PublishOutbound(out)
}

// ProcessDirect runs a full agent turn synchronously and returns the reply.
// Used by the CLI path and the cron firing path.
func (l *AgentLoop) ProcessDirect(ctx context.Context, content, sessionKey, channel, chatID string) string {
	return l.processTurn(ctx, content, sessionKey, channel, chatID, "", nil)
}

// ProcessJob runs a cron job's message as an agent turn in the job's own
// session and, when the job asked for delivery, forwards the reply to the
// target chat on the outbound bus. Returns the reply for job state tracking.
func (l *AgentLoop) ProcessJob(ctx context.Context, message, jobID string, deliver bool, channel, to string) string {
	reply := l.ProcessDirect(ctx, message, "cron:"+jobID, bus.ChannelCron, jobID)
	if deliver && channel != "" && to != "" && reply != "" {
		l.bus.PublishOutbound(bus.NewOutboundMessage(channel, to, reply))
	}
	return reply
}

// processTurn is the bounded tool-calling loop. Every path returns a string:
// provider failures arrive as finish_reason "error" responses, tool failures
// arrive as "Error: ..." strings fed back to the model.
func (l *AgentLoop) processTurn(
	ctx context.Context,
	content, sessionKey, channel, chatID, messageID string,
	media []string,
) string {
	if reply, handled := l.handleCommand(content, sessionKey); handled {
		return reply
	}

	sess := l.sessions.GetOrCreate(sessionKey)
	history := sess.GetHistory(l.settings.MemoryWindow)
	sess.AddUser(content)

	tc := tools.TurnContext{
		Channel:     channel,
		ChatID:      chatID,
		MessageID:   messageID,
		MessageSent: make(chan struct{}, 1),
	}
	ctx = tools.WithTurn(ctx, tc)

	messages := l.builder.BuildMessages(history, content, nil, media, channel, chatID)
	defs := l.registry.Definitions()
	opts := schema.NewChatOptions(l.settings.Model, l.settings.MaxTokens, l.settings.Temperature)

	var toolsUsed []string
	for i := 0; i < l.settings.MaxToolIterations; i++ {
		resp, err := l.provider.Chat(ctx, messages, defs, opts)
		if err != nil {
			// The provider is total; an error here is a programming fault.
			slog.Error("Provider returned unexpected error", "err", err)
			resp = schema.LLMResponse{
				Content:      strPtr(fmt.Sprintf("Error: %v", err)),
				FinishReason: "error",
			}
		}

		text := ""
		if resp.Content != nil {
			text = *resp.Content
		}

		if !resp.HasToolCalls() {
			final := strings.TrimSpace(llmutils.StripThink(text))
			if final == "" {
				final = emptyReply
			}
			sess.AddAssistant(final, toolsUsed)
			if l.messageAlreadySent(tc) {
				slog.Debug("Reply suppressed, message tool already delivered", "session", sessionKey)
				return ""
			}
			return final
		}

		calls := make([]schema.ToolCall, 0, len(resp.ToolCalls))
		for _, req := range resp.ToolCalls {
			calls = append(calls, schema.ToolCall{ID: req.ID, Name: req.Name, Arguments: req.Arguments})
		}
		messages.AddAssistant(resp.Content, calls)
		sess.AddAssistantCalls(resp.Content, calls)

		slog.Debug("Executing tools", "calls", llmutils.ToolHint(resp.ToolCalls))
		for _, req := range resp.ToolCalls {
			result := l.registry.Execute(ctx, req.Name, req.Arguments)
			messages.AddToolResult(req.ID, req.Name, result)
			sess.AddToolResult(req.ID, req.Name, result)
			toolsUsed = append(toolsUsed, req.Name)
		}
	}

	sess.AddAssistant(maxIterationsReply, toolsUsed)
	if l.messageAlreadySent(tc) {
		return ""
	}
	return maxIterationsReply
}

// handleCommand intercepts slash commands before they reach the model.
func (l *AgentLoop) handleCommand(content, sessionKey string) (string, bool) {
	switch strings.TrimSpace(content) {
	case "/new":
		l.sessions.Clear(sessionKey)
		return "New session started.", true
	case "/help":
		return helpText, true
	}
	return "", false
}

// messageAlreadySent reports whether the message tool delivered to the
// originating chat during this turn.
func (l *AgentLoop) messageAlreadySent(tc tools.TurnContext) bool {
	select {
	case <-tc.MessageSent:
		return true
	default:
		return false
	}
}

func strPtr(s string) *string { return &s }
