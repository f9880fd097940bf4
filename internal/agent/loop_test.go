package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dusterbloom/nanobot/internal/bus"
	"github.com/dusterbloom/nanobot/internal/schema"
	"github.com/dusterbloom/nanobot/internal/session"
	"github.com/dusterbloom/nanobot/internal/tools"
)

// scriptedProvider replays a fixed sequence of responses. The last response
// repeats once the script is exhausted.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []schema.LLMResponse
	errs      []error
	calls     int
	requests  []schema.Messages
}

func (p *scriptedProvider) Chat(_ context.Context, messages schema.Messages, _ []map[string]any, _ schema.ChatOptions) (schema.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	p.requests = append(p.requests, messages.Clone())
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.responses[i], err
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func textResponse(text string) schema.LLMResponse {
	return schema.LLMResponse{Content: &text, FinishReason: "stop"}
}

func toolCallResponse(id, name string, args map[string]any) schema.LLMResponse {
	return schema.LLMResponse{
		ToolCalls:    []schema.ToolCallRequest{{ID: id, Name: name, Arguments: args}},
		FinishReason: "tool_calls",
	}
}

// echoTool returns its "text" argument.
type echoTool struct{}

func (echoTool) Name() string                  { return "echo" }
func (echoTool) Description() string           { return "Echo the input" }
func (echoTool) Parameters() json.RawMessage   { return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`) }
func (echoTool) Execute(_ context.Context, params map[string]any) (string, error) {
	text, _ := params["text"].(string)
	return "echo: " + text, nil
}

// notifyTool signals MessageSent like the message tool does after delivering
// to the originating chat.
type notifyTool struct{}

func (notifyTool) Name() string                { return "notify" }
func (notifyTool) Description() string         { return "Deliver a message" }
func (notifyTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object","properties":{}}`) }
func (notifyTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	tc := tools.TurnCtx(ctx)
	if tc.MessageSent != nil {
		select {
		case tc.MessageSent <- struct{}{}:
		default:
		}
	}
	return "Message sent", nil
}

func newTestLoop(t *testing.T, provider schema.LLMProvider, extra ...schema.Tool) (*AgentLoop, *bus.MessageBus, *session.Manager) {
	t.Helper()
	b := bus.NewMessageBus(16)
	sessions := session.NewManager()
	registry := tools.NewRegistry(append([]schema.Tool{echoTool{}}, extra...)...)
	builder := NewContextBuilder(t.TempDir(), "")
	loop := NewAgentLoop(b, provider, registry, sessions, builder, Settings{
		Model:             "test-model",
		MaxTokens:         1024,
		MaxToolIterations: 5,
		MemoryWindow:      50,
	})
	return loop, b, sessions
}

func TestProcessDirect_PlainText(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("Hello!")}}
	loop, _, sessions := newTestLoop(t, provider)

	reply := loop.ProcessDirect(context.Background(), "hi", "cli:direct", "cli", "direct")
	if reply != "Hello!" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	sess := sessions.GetOrCreate("cli:direct")
	msgs := sess.GetHistory(0).Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestProcessDirect_ToolCallTranscript(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		toolCallResponse("call_1", "echo", map[string]any{"text": "hi"}),
		textResponse("done"),
	}}
	loop, _, sessions := newTestLoop(t, provider)

	reply := loop.ProcessDirect(context.Background(), "use echo", "cli:direct", "cli", "direct")
	if reply != "done" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	// The session records the full transcript:
	// user, assistant(tool_calls), tool, assistant.
	msgs := sessions.GetOrCreate("cli:direct").GetHistory(0).Messages
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	want := []string{"user", "assistant", "tool", "assistant"}
	if len(roles) != len(want) {
		t.Fatalf("expected roles %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("expected roles %v, got %v", want, roles)
		}
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant message missing tool call: %+v", msgs[1].ToolCalls)
	}
	if msgs[2].ToolCallID != "call_1" || msgs[2].ToolName != "echo" {
		t.Errorf("tool result not linked to call: %+v", msgs[2])
	}
	if got, _ := msgs[2].Content.(string); got != "echo: hi" {
		t.Errorf("unexpected tool result: %q", got)
	}

	// The second provider request must include the tool result.
	second := provider.requests[1]
	foundTool := false
	for _, m := range second.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			foundTool = true
		}
	}
	if !foundTool {
		t.Error("tool result not fed back to provider")
	}
}

func TestProcessDirect_MaxIterations(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		toolCallResponse("call_x", "echo", map[string]any{"text": "again"}),
	}}
	loop, _, sessions := newTestLoop(t, provider)
	loop.settings.MaxToolIterations = 2

	reply := loop.ProcessDirect(context.Background(), "loop forever", "cli:direct", "cli", "direct")
	if reply != maxIterationsReply {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if provider.callCount() != 2 {
		t.Errorf("expected 2 provider calls, got %d", provider.callCount())
	}

	toolMsgs := 0
	for _, m := range sessions.GetOrCreate("cli:direct").GetHistory(0).Messages {
		if m.Role == "tool" {
			toolMsgs++
		}
	}
	if toolMsgs != 2 {
		t.Errorf("expected 2 tool results recorded, got %d", toolMsgs)
	}
}

func TestProcessDirect_EmptyResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("")}}
	loop, _, _ := newTestLoop(t, provider)

	reply := loop.ProcessDirect(context.Background(), "hi", "cli:direct", "cli", "direct")
	if reply != emptyReply {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestProcessDirect_StripsThinkBlocks(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		textResponse("<think>internal reasoning</think> Hi there"),
	}}
	loop, _, _ := newTestLoop(t, provider)

	reply := loop.ProcessDirect(context.Background(), "hi", "cli:direct", "cli", "direct")
	if reply != "Hi there" {
		t.Fatalf("expected think block stripped, got %q", reply)
	}
}

func TestProcessDirect_ProviderErrorSynthesized(t *testing.T) {
	provider := &scriptedProvider{
		responses: []schema.LLMResponse{{}},
		errs:      []error{context.DeadlineExceeded},
	}
	loop, _, _ := newTestLoop(t, provider)

	reply := loop.ProcessDirect(context.Background(), "hi", "cli:direct", "cli", "direct")
	if !strings.HasPrefix(reply, "Error:") {
		t.Fatalf("expected error reply, got %q", reply)
	}
}

func TestCommands(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("ok")}}
	loop, _, sessions := newTestLoop(t, provider)

	// Seed some history first.
	loop.ProcessDirect(context.Background(), "hello", "cli:direct", "cli", "direct")
	if sessions.GetOrCreate("cli:direct").Len() == 0 {
		t.Fatal("expected history after first turn")
	}

	reply := loop.ProcessDirect(context.Background(), "/new", "cli:direct", "cli", "direct")
	if reply != "New session started." {
		t.Errorf("unexpected /new reply: %q", reply)
	}
	if sessions.GetOrCreate("cli:direct").Len() != 0 {
		t.Error("expected session cleared by /new")
	}

	reply = loop.ProcessDirect(context.Background(), "/help", "cli:direct", "cli", "direct")
	if !strings.Contains(reply, "/new") || !strings.Contains(reply, "/help") {
		t.Errorf("unexpected /help reply: %q", reply)
	}

	// Commands never hit the provider.
	if provider.callCount() != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.callCount())
	}
}

func TestProcessDirect_SuppressedAfterMessageTool(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{
		toolCallResponse("call_1", "notify", nil),
		textResponse("Also here is a final reply."),
	}}
	loop, _, sessions := newTestLoop(t, provider, notifyTool{})

	reply := loop.ProcessDirect(context.Background(), "tell them", "cli:direct", "cli", "direct")
	if reply != "" {
		t.Fatalf("expected suppressed reply, got %q", reply)
	}

	// The final text is still recorded in the session.
	msgs := sessions.GetOrCreate("cli:direct").GetHistory(0).Messages
	last := msgs[len(msgs)-1]
	if last.Role != "assistant" {
		t.Fatalf("unexpected last role: %s", last.Role)
	}
}

func TestRun_PublishesOutbound(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("pong")}}
	loop, b, _ := newTestLoop(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	msg := bus.NewInboundMessage(bus.ChannelTelegram, "u1", "42", "ping")
	msg.Metadata = map[string]any{"message_id": "777"}
	b.PublishInbound(msg)

	select {
	case out := <-b.OutboundChan():
		if out.Channel != bus.ChannelTelegram || out.ChatID != "42" {
			t.Errorf("unexpected route: %s:%s", out.Channel, out.ChatID)
		}
		if out.Content != "pong" {
			t.Errorf("unexpected content: %q", out.Content)
		}
		if id, _ := out.Metadata["message_id"].(string); id != "777" {
			t.Errorf("message_id not propagated: %v", out.Metadata)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no outbound message")
	}
}

func TestRun_SystemMessageJoinsOriginSession(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("summary")}}
	loop, b, sessions := newTestLoop(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	// Subagent completions arrive on the system channel with the origin
	// route packed into ChatID.
	b.PublishInbound(bus.NewInboundMessage(bus.ChannelSystem, "subagent", "telegram:42", "[Subagent done]"))

	select {
	case out := <-b.OutboundChan():
		if out.Channel != bus.ChannelTelegram || out.ChatID != "42" {
			t.Errorf("expected reply routed to telegram:42, got %s:%s", out.Channel, out.ChatID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no outbound message")
	}

	if sessions.GetOrCreate("telegram:42").Len() == 0 {
		t.Error("expected system message recorded in the origin session")
	}
}

func TestProcessJob_DeliversToTarget(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("report ready")}}
	loop, b, sessions := newTestLoop(t, provider)

	reply := loop.ProcessJob(context.Background(), "daily report", "job123", true, "telegram", "42")
	if reply != "report ready" {
		t.Errorf("unexpected reply: %q", reply)
	}

	select {
	case out := <-b.OutboundChan():
		if out.Channel != "telegram" || out.ChatID != "42" {
			t.Errorf("unexpected delivery route: %s:%s", out.Channel, out.ChatID)
		}
		if out.Content != "report ready" {
			t.Errorf("unexpected content: %q", out.Content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery for job with deliver=true")
	}

	if sessions.GetOrCreate("cron:job123").Len() == 0 {
		t.Error("expected the turn recorded in the job's session")
	}
}

func TestProcessJob_WithoutDeliverIsSilent(t *testing.T) {
	provider := &scriptedProvider{responses: []schema.LLMResponse{textResponse("noted")}}
	loop, b, _ := newTestLoop(t, provider)

	reply := loop.ProcessJob(context.Background(), "background task", "job123", false, "", "")
	if reply != "noted" {
		t.Errorf("unexpected reply: %q", reply)
	}
	if b.OutboundSize() != 0 {
		t.Error("unexpected outbound message for deliver=false")
	}
}

func TestRun_SessionsRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	provider := &blockingProvider{release: release, enteredC: make(chan struct{}, 1)}
	loop, b, _ := newTestLoop(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	// First session blocks inside the provider; the second must still get
	// its reply.
	b.PublishInbound(bus.NewInboundMessage(bus.ChannelTelegram, "u1", "slow", "block"))
	select {
	case <-provider.enteredC:
	case <-time.After(3 * time.Second):
		t.Fatal("first session never reached the provider")
	}

	b.PublishInbound(bus.NewInboundMessage(bus.ChannelTelegram, "u2", "fast", "quick"))

	select {
	case out := <-b.OutboundChan():
		if out.ChatID != "fast" {
			t.Errorf("expected the unblocked session to reply first, got chat %q", out.ChatID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second session stalled behind the first")
	}
	close(release)
}

// blockingProvider blocks the first Chat call until released; later calls
// return immediately.
type blockingProvider struct {
	mu       sync.Mutex
	release  chan struct{}
	enteredC chan struct{}
	first    bool
}

func (p *blockingProvider) Chat(_ context.Context, _ schema.Messages, _ []map[string]any, _ schema.ChatOptions) (schema.LLMResponse, error) {
	p.mu.Lock()
	isFirst := !p.first
	p.first = true
	p.mu.Unlock()

	if isFirst {
		select {
		case p.enteredC <- struct{}{}:
		default:
		}
		<-p.release
	}
	return textResponse("ok"), nil
}

func (p *blockingProvider) DefaultModel() string { return "test-model" }
