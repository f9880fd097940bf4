package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dusterbloom/nanobot/internal/bus"
	"github.com/dusterbloom/nanobot/internal/config"
)

// FeishuChannel receives Feishu/Lark events over an HTTP webhook and sends
// replies through the Open Platform message API.
type FeishuChannel struct {
	Base
	cfg        *config.FeishuConfig
	addr       string
	httpClient *http.Client
	running    bool

	tokenMu  sync.Mutex
	token    string
	tokenExp time.Time
}

// NewFeishuChannel creates a FeishuChannel listening on addr.
func NewFeishuChannel(cfg *config.FeishuConfig, addr string, b *bus.MessageBus) *FeishuChannel {
	return &FeishuChannel{
		Base:       NewBase(bus.ChannelFeishu, b, cfg.AllowFrom),
		cfg:        cfg,
		addr:       addr,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *FeishuChannel) Name() string { return bus.ChannelFeishu }

func (f *FeishuChannel) IsRunning() bool { return f.running }

// Start serves the webhook endpoint until ctx is cancelled.
func (f *FeishuChannel) Start(ctx context.Context) error {
	if f.cfg.AppID == "" || f.cfg.AppSecret == "" {
		slog.Warn("feishu: appId or appSecret not configured")
		<-ctx.Done()
		return ctx.Err()
	}

	path := f.cfg.WebhookPath
	if path == "" {
		path = "/feishu/events"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, f.handleWebhook)
	srv := &http.Server{Addr: f.addr, Handler: mux}

	f.running = true
	defer func() { f.running = false }()
	slog.Info("feishu: webhook listening", "addr", f.addr, "path", path)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleWebhook answers url_verification challenges and dispatches
// im.message.receive_v1 events.
func (f *FeishuChannel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Token     string `json:"token"`
		Header    struct {
			EventType string `json:"event_type"`
			Token     string `json:"token"`
		} `json:"header"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if probe.Type == "url_verification" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": probe.Challenge})
		return
	}

	if f.cfg.VerificationToken != "" {
		token := probe.Token
		if token == "" {
			token = probe.Header.Token
		}
		if token != f.cfg.VerificationToken {
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if probe.Header.EventType == "im.message.receive_v1" {
		go f.handleMessageEvent(body)
	}
}

func (f *FeishuChannel) handleMessageEvent(body []byte) {
	var event struct {
		Event struct {
			Message struct {
				MessageID   string `json:"message_id"`
				ChatID      string `json:"chat_id"`
				ChatType    string `json:"chat_type"`
				Content     string `json:"content"`
				MessageType string `json:"message_type"`
			} `json:"message"`
			Sender struct {
				SenderID struct {
					OpenID string `json:"open_id"`
				} `json:"sender_id"`
				SenderType string `json:"sender_type"`
			} `json:"sender"`
		} `json:"event"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return
	}
	if event.Event.Sender.SenderType != "user" {
		return
	}

	msgType := event.Event.Message.MessageType
	text := extractFeishuText(msgType, event.Event.Message.Content)
	if text == "" {
		return
	}

	f.HandleMessage(event.Event.Sender.SenderID.OpenID, event.Event.Message.ChatID, text, nil, map[string]any{
		"message_id": event.Event.Message.MessageID,
		"chat_type":  event.Event.Message.ChatType,
		"msg_type":   msgType,
	})
}

func extractFeishuText(msgType, rawContent string) string {
	var content map[string]any
	if err := json.Unmarshal([]byte(rawContent), &content); err != nil {
		return rawContent
	}
	switch msgType {
	case "text":
		if t, ok := content["text"].(string); ok {
			return strings.TrimSpace(t)
		}
	case "post":
		// Rich text — collect all text segments.
		var parts []string
		extractPostText(content, &parts)
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	return rawContent
}

func extractPostText(v any, parts *[]string) {
	switch val := v.(type) {
	case map[string]any:
		if tag, _ := val["tag"].(string); tag == "text" {
			if t, ok := val["text"].(string); ok {
				*parts = append(*parts, t)
			}
		}
		for _, child := range val {
			extractPostText(child, parts)
		}
	case []any:
		for _, item := range val {
			extractPostText(item, parts)
		}
	}
}

// getAccessToken returns a cached tenant access token, refreshing when it is
// about to expire.
func (f *FeishuChannel) getAccessToken(ctx context.Context) (string, error) {
	f.tokenMu.Lock()
	defer f.tokenMu.Unlock()
	if f.token != "" && time.Now().Before(f.tokenExp) {
		return f.token, nil
	}
	body := map[string]string{"app_id": f.cfg.AppID, "app_secret": f.cfg.AppSecret}
	data, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://open.feishu.cn/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var result struct {
		Code              int    `json:"code"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	b, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(b, &result)
	if result.TenantAccessToken == "" {
		return "", fmt.Errorf("feishu: get token failed")
	}
	f.token = result.TenantAccessToken
	f.tokenExp = time.Now().Add(time.Duration(result.Expire-60) * time.Second)
	return f.token, nil
}

func (f *FeishuChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	token, err := f.getAccessToken(ctx)
	if err != nil {
		return err
	}

	// receive_id_type follows the chat_id prefix.
	idType := "chat_id"
	if strings.HasPrefix(msg.ChatID, "ou_") {
		idType = "open_id"
	}

	contentJSON, _ := json.Marshal(map[string]string{"text": msg.Content})
	body := map[string]any{
		"receive_id": msg.ChatID,
		"msg_type":   "text",
		"content":    string(contentJSON),
	}
	data, _ := json.Marshal(body)

	url := "https://open.feishu.cn/open-apis/im/v1/messages?receive_id_type=" + idType
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("feishu: send failed with status %d", resp.StatusCode)
	}
	return nil
}
