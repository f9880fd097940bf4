// Package providers implements the LLM client used by the agent loop.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dusterbloom/nanobot/internal/schema"
)

const (
	openRouterBase = "https://openrouter.ai/api/v1"
	deepSeekBase   = "https://api.deepseek.com"
	groqBase       = "https://api.groq.com/openai/v1"
)

// OpenAIProvider makes direct HTTP calls to any OpenAI-compatible
// chat-completions endpoint (OpenRouter, DeepSeek, Groq, vLLM, ...).
//
// Chat is total with respect to transport and protocol faults: HTTP errors,
// non-2xx statuses, unparseable bodies, and empty choice lists all come back
// as LLMResponse{FinishReason: "error"} with a diagnostic in Content and a
// nil error, so the agent loop never has to distinguish failure modes.
type OpenAIProvider struct {
	apiKey       string
	apiBase      string
	defaultModel string
	httpClient   *http.Client
}

// NewOpenAIProvider constructs a provider from raw config values.
// The API base is resolved from apiBase / apiKey / defaultModel heuristics;
// see ResolveAPIBase.
func NewOpenAIProvider(apiKey, apiBase, defaultModel string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:       apiKey,
		apiBase:      ResolveAPIBase(apiKey, apiBase, defaultModel),
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

// ResolveAPIBase picks the effective endpoint for the given credentials.
//
// An explicit base wins (trailing slashes stripped). Otherwise the key
// prefix "sk-or-" selects OpenRouter, then the model name is matched:
// "deepseek" → DeepSeek, "groq" → Groq, anything else → OpenRouter.
func ResolveAPIBase(apiKey, apiBase, model string) string {
	if apiBase != "" {
		return strings.TrimRight(apiBase, "/")
	}
	if strings.HasPrefix(apiKey, "sk-or-") {
		return openRouterBase
	}
	modelLower := strings.ToLower(model)
	switch {
	case strings.Contains(modelLower, "deepseek"):
		return deepSeekBase
	case strings.Contains(modelLower, "groq"):
		return groqBase
	}
	return openRouterBase
}

func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// APIBase returns the resolved endpoint, mainly for status reporting.
func (p *OpenAIProvider) APIBase() string { return p.apiBase }

// Chat implements schema.LLMProvider.
func (p *OpenAIProvider) Chat(
	ctx context.Context,
	messages schema.Messages,
	tools []map[string]any,
	opts schema.ChatOptions,
) (schema.LLMResponse, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model":       model,
		"messages":    wireMessages(messages),
		"max_tokens":  maxTokens,
		"temperature": opts.Temperature,
	}
	if len(tools) > 0 {
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	data, err := json.Marshal(body)
	if err != nil {
		return errResponse(fmt.Sprintf("LLM request failed: marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return errResponse(fmt.Sprintf("LLM request failed: build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errResponse(fmt.Sprintf("LLM request failed: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errResponse(fmt.Sprintf("LLM request failed: read response: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errResponse(fmt.Sprintf("LLM request failed: HTTP %d: %s",
			resp.StatusCode, trimBody(raw)))
	}

	return parseResponse(raw)
}

// messageToWireMap converts a typed Message to the OpenAI wire-format map.
func messageToWireMap(m schema.Message) map[string]any {
	wire := map[string]any{
		"role":    m.Role,
		"content": wireContent(m.Content),
	}
	if m.Role == "assistant" && len(m.ToolCalls) > 0 {
		raw := make([]map[string]any, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			raw[i] = tc.ToWireMap()
		}
		wire["tool_calls"] = raw
	}
	if m.Role == "tool" {
		wire["tool_call_id"] = m.ToolCallID
		wire["name"] = m.ToolName
	}
	return wire
}

// wireContent flattens typed content into what the wire expects.
func wireContent(content any) any {
	switch c := content.(type) {
	case *string:
		if c == nil {
			return nil
		}
		return *c
	case []schema.ContentBlock:
		parts := make([]map[string]any, 0, len(c))
		for _, block := range c {
			switch block.Type {
			case "image_url":
				parts = append(parts, map[string]any{"type": "image_url", "image_url": block.ImageURL})
			default:
				parts = append(parts, map[string]any{"type": "text", "text": block.Text})
			}
		}
		return parts
	default:
		return content
	}
}

func wireMessages(messages schema.Messages) []map[string]any {
	out := make([]map[string]any, 0, len(messages.Messages))
	for _, m := range messages.Messages {
		out = append(out, messageToWireMap(m))
	}
	return out
}

// respBody is the subset of the chat completion response we care about.
type respBody struct {
	Choices []struct {
		Message struct {
			Content   any `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func parseResponse(raw []byte) (schema.LLMResponse, error) {
	var body respBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return errResponse(fmt.Sprintf("LLM request failed: parse response: %v", err))
	}
	if len(body.Choices) == 0 {
		return errResponse("LLM request failed: empty choices in response")
	}

	msg := body.Choices[0].Message

	var content *string
	if c, ok := msg.Content.(string); ok && c != "" {
		content = &c
	}

	var toolCalls []schema.ToolCallRequest
	for _, tc := range msg.ToolCalls {
		toolCalls = append(toolCalls, schema.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseToolArguments(tc.Function.Name, tc.Function.Arguments),
		})
	}

	var usage map[string]int
	if body.Usage != nil {
		usage = map[string]int{
			"prompt_tokens":     body.Usage.PromptTokens,
			"completion_tokens": body.Usage.CompletionTokens,
			"total_tokens":      body.Usage.TotalTokens,
		}
	}

	finish := body.Choices[0].FinishReason
	if finish == "" {
		finish = "stop"
	}

	return schema.LLMResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage:        usage,
	}, nil
}

// parseToolArguments decodes the JSON-encoded argument string. Payloads that
// fail to parse are preserved verbatim under the "raw" key so the tool can
// report a useful error instead of losing the input.
func parseToolArguments(tool, raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("unparseable tool arguments", "tool", tool, "err", err)
		return map[string]any{"raw": raw}
	}
	return out
}

func errResponse(msg string) (schema.LLMResponse, error) {
	s := msg
	return schema.LLMResponse{Content: &s, FinishReason: "error"}, nil
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
