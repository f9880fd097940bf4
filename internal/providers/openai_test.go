package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dusterbloom/nanobot/internal/schema"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider("test-key", srv.URL, "test-model")
}

func chat(t *testing.T, p *OpenAIProvider) schema.LLMResponse {
	t.Helper()
	msgs := schema.NewMessages()
	msgs.AddUser("hi")
	resp, err := p.Chat(context.Background(), msgs, nil, schema.NewChatOptions("test-model", 100, 0.5))
	if err != nil {
		t.Fatalf("Chat must not return an error, got: %v", err)
	}
	return resp
}

func TestChat_TextResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header: %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		if req["model"] != "test-model" {
			t.Errorf("unexpected model: %v", req["model"])
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"Hello!"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`)
	})

	resp := chat(t, p)
	if resp.FinishReason != "stop" {
		t.Errorf("unexpected finish reason: %q", resp.FinishReason)
	}
	if resp.Content == nil || *resp.Content != "Hello!" {
		t.Errorf("unexpected content: %v", resp.Content)
	}
	if resp.Usage["total_tokens"] != 13 {
		t.Errorf("usage not parsed: %v", resp.Usage)
	}
}

func TestChat_ToolCalls(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":null,"tool_calls":[
			{"id":"call_1","function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}
		]},"finish_reason":"tool_calls"}]}`)
	})

	resp := chat(t, p)
	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls")
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "read_file" {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if tc.Arguments["path"] != "a.txt" {
		t.Errorf("arguments not decoded: %v", tc.Arguments)
	}
	if resp.Content != nil {
		t.Errorf("expected nil content, got %v", *resp.Content)
	}
}

func TestChat_UnparseableToolArguments(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"tool_calls":[
			{"id":"c1","function":{"name":"exec","arguments":"not json at all"}}
		]},"finish_reason":"tool_calls"}]}`)
	})

	resp := chat(t, p)
	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls")
	}
	if raw, _ := resp.ToolCalls[0].Arguments["raw"].(string); raw != "not json at all" {
		t.Errorf("raw payload not preserved: %v", resp.ToolCalls[0].Arguments)
	}
}

func TestChat_HTTPErrorIsTotal(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	})

	resp := chat(t, p)
	if resp.FinishReason != "error" {
		t.Errorf("expected finish_reason error, got %q", resp.FinishReason)
	}
	if resp.Content == nil || !strings.Contains(*resp.Content, "HTTP 429") {
		t.Errorf("diagnostic missing: %v", resp.Content)
	}
}

func TestChat_BadJSONIsTotal(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<html>gateway error</html>")
	})
	resp := chat(t, p)
	if resp.FinishReason != "error" {
		t.Errorf("expected finish_reason error, got %q", resp.FinishReason)
	}
}

func TestChat_EmptyChoicesIsTotal(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	})
	resp := chat(t, p)
	if resp.FinishReason != "error" {
		t.Errorf("expected finish_reason error, got %q", resp.FinishReason)
	}
	if resp.Content == nil || !strings.Contains(*resp.Content, "empty choices") {
		t.Errorf("diagnostic missing: %v", resp.Content)
	}
}

func TestChat_ConnectionRefusedIsTotal(t *testing.T) {
	p := NewOpenAIProvider("k", "http://127.0.0.1:1", "test-model")
	msgs := schema.NewMessages()
	msgs.AddUser("hi")
	resp, err := p.Chat(context.Background(), msgs, nil, schema.ChatOptions{})
	if err != nil {
		t.Fatalf("Chat must not return an error, got: %v", err)
	}
	if resp.FinishReason != "error" {
		t.Errorf("expected finish_reason error, got %q", resp.FinishReason)
	}
}

func TestChat_WireFormat(t *testing.T) {
	var captured map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	})

	msgs := schema.NewMessages()
	msgs.AddSystem("You are a bot.")
	msgs.AddUser("do it")
	content := "calling"
	msgs.AddAssistant(&content, []schema.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"text": "hi"}}})
	msgs.AddToolResult("c1", "echo", "echo: hi")

	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "echo"}}}
	if _, err := p.Chat(context.Background(), msgs, tools, schema.NewChatOptions("m", 10, 0)); err != nil {
		t.Fatal(err)
	}

	wire := captured["messages"].([]any)
	if len(wire) != 4 {
		t.Fatalf("expected 4 wire messages, got %d", len(wire))
	}
	asst := wire[2].(map[string]any)
	calls := asst["tool_calls"].([]any)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "echo" {
		t.Errorf("tool call not serialized: %v", fn)
	}
	if args, _ := fn["arguments"].(string); !strings.Contains(args, `"text":"hi"`) {
		t.Errorf("arguments not JSON-encoded: %v", fn["arguments"])
	}
	toolMsg := wire[3].(map[string]any)
	if toolMsg["tool_call_id"] != "c1" || toolMsg["name"] != "echo" {
		t.Errorf("tool result wire shape wrong: %v", toolMsg)
	}
	if captured["tool_choice"] != "auto" {
		t.Errorf("tool_choice missing: %v", captured["tool_choice"])
	}
}

func TestResolveAPIBase(t *testing.T) {
	cases := []struct {
		name            string
		key, base, model string
		want            string
	}{
		{"explicit base wins", "sk-or-abc", "https://example.com/v1/", "deepseek-chat", "https://example.com/v1"},
		{"openrouter key prefix", "sk-or-abc", "", "any-model", openRouterBase},
		{"deepseek model", "sk-abc", "", "deepseek-chat", deepSeekBase},
		{"groq model", "sk-abc", "", "groq/llama-3.1-70b", groqBase},
		{"fallback openrouter", "sk-abc", "", "gpt-4o", openRouterBase},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveAPIBase(tc.key, tc.base, tc.model); got != tc.want {
				t.Errorf("ResolveAPIBase(%q, %q, %q) = %q, want %q", tc.key, tc.base, tc.model, got, tc.want)
			}
		})
	}
}
