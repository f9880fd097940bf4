package channels

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dusterbloom/nanobot/internal/bus"
	"github.com/dusterbloom/nanobot/internal/config"
)

func newFeishuForTest(b *bus.MessageBus, cfg *config.FeishuConfig) *FeishuChannel {
	return NewFeishuChannel(cfg, "127.0.0.1:0", b)
}

func postWebhook(t *testing.T, f *FeishuChannel, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/feishu/events", bytes.NewReader([]byte(payload)))
	rec := httptest.NewRecorder()
	f.handleWebhook(rec, req)
	return rec
}

func TestFeishu_URLVerification(t *testing.T) {
	f := newFeishuForTest(bus.NewMessageBus(1), &config.FeishuConfig{})

	rec := postWebhook(t, f, `{"type":"url_verification","challenge":"abc123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp["challenge"] != "abc123" {
		t.Errorf("challenge not echoed: %v", resp)
	}
}

func TestFeishu_VerificationTokenRejected(t *testing.T) {
	f := newFeishuForTest(bus.NewMessageBus(1), &config.FeishuConfig{VerificationToken: "secret"})

	rec := postWebhook(t, f, `{"header":{"event_type":"im.message.receive_v1","token":"wrong"}}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for bad token, got %d", rec.Code)
	}

	rec = postWebhook(t, f, `{"header":{"event_type":"im.message.receive_v1","token":"secret"}}`)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for valid token, got %d", rec.Code)
	}
}

func TestFeishu_MessageEventPublished(t *testing.T) {
	b := bus.NewMessageBus(4)
	f := newFeishuForTest(b, &config.FeishuConfig{})

	payload := `{
		"header": {"event_type": "im.message.receive_v1"},
		"event": {
			"sender": {"sender_type": "user", "sender_id": {"open_id": "ou_abc"}},
			"message": {
				"message_id": "om_1", "chat_id": "oc_99", "chat_type": "p2p",
				"message_type": "text",
				"content": "{\"text\":\"  hello feishu  \"}"
			}
		}
	}`
	rec := postWebhook(t, f, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	select {
	case msg := <-b.InboundChan():
		if msg.Channel != bus.ChannelFeishu || msg.SenderID != "ou_abc" || msg.ChatID != "oc_99" {
			t.Errorf("unexpected message: %+v", msg)
		}
		if msg.Content != "hello feishu" {
			t.Errorf("text not extracted/trimmed: %q", msg.Content)
		}
		if id, _ := msg.Metadata["message_id"].(string); id != "om_1" {
			t.Errorf("metadata missing: %v", msg.Metadata)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no inbound message")
	}
}

func TestFeishu_BotSenderIgnored(t *testing.T) {
	b := bus.NewMessageBus(4)
	f := newFeishuForTest(b, &config.FeishuConfig{})

	payload := `{
		"header": {"event_type": "im.message.receive_v1"},
		"event": {
			"sender": {"sender_type": "app", "sender_id": {"open_id": "ou_bot"}},
			"message": {"chat_id": "oc_1", "message_type": "text", "content": "{\"text\":\"loop\"}"}
		}
	}`
	postWebhook(t, f, payload)

	time.Sleep(100 * time.Millisecond)
	if b.InboundSize() != 0 {
		t.Error("bot message must not be published")
	}
}

func TestExtractFeishuText(t *testing.T) {
	if got := extractFeishuText("text", `{"text":"hi"}`); got != "hi" {
		t.Errorf("text extraction failed: %q", got)
	}

	post := `{"title":"t","content":[[{"tag":"text","text":"part one"},{"tag":"a","href":"x"},{"tag":"text","text":"part two"}]]}`
	got := extractFeishuText("post", post)
	if got == "" || !contains(got, "part one") || !contains(got, "part two") {
		t.Errorf("post extraction failed: %q", got)
	}

	// Non-JSON content is passed through untouched.
	if got := extractFeishuText("text", "plain"); got != "plain" {
		t.Errorf("unexpected fallback: %q", got)
	}
}

func contains(s, sub string) bool {
	return bytes.Contains([]byte(s), []byte(sub))
}
