package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dusterbloom/nanobot/internal/bus"
	"github.com/dusterbloom/nanobot/internal/config"
)

// wsReconnectDelay is the pause between bridge reconnection attempts.
const wsReconnectDelay = 5 * time.Second

// WhatsAppChannel connects to the Node.js Baileys bridge via WebSocket.
//
// The socket is split into a read path and a write path: a dedicated writer
// goroutine owns the sink and drains a single-producer-single-consumer text
// channel. Send installs frames on that channel; when the socket is down the
// handle is nil and Send fails fast.
type WhatsAppChannel struct {
	Base
	cfg *config.WhatsAppConfig

	mu      sync.Mutex
	sendCh  chan string // nil when disconnected
	running bool
}

// NewWhatsAppChannel creates a WhatsAppChannel.
func NewWhatsAppChannel(cfg *config.WhatsAppConfig, b *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		Base: NewBase(bus.ChannelWhatsApp, b, cfg.AllowFrom),
		cfg:  cfg,
	}
}

func (w *WhatsAppChannel) Name() string { return bus.ChannelWhatsApp }

// IsRunning reports whether the channel has been started.
func (w *WhatsAppChannel) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start connects to the bridge and reconnects every 5 seconds on failure.
// Blocks until ctx is cancelled.
func (w *WhatsAppChannel) Start(ctx context.Context) error {
	bridgeURL := w.cfg.BridgeURL
	if bridgeURL == "" {
		bridgeURL = "ws://localhost:3001"
	}
	w.setRunning(true)
	defer w.setRunning(false)
	slog.Info("whatsapp: connecting to bridge", "url", bridgeURL)

	for {
		if err := w.connectOnce(ctx, bridgeURL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("whatsapp: connection lost, reconnecting in 5s", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsReconnectDelay):
		}
	}
}

func (w *WhatsAppChannel) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

// connectOnce runs one connection lifetime: dial, spawn the writer, read
// frames until the socket dies.
func (w *WhatsAppChannel) connectOnce(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	slog.Info("whatsapp: connected to bridge")

	sendCh := make(chan string, 16)
	writerDone := make(chan struct{})

	// The writer goroutine is the only side that touches the sink.
	go func() {
		defer close(writerDone)
		for frame := range sendCh {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				slog.Warn("whatsapp: write failed", "err", err)
				return
			}
		}
	}()

	w.mu.Lock()
	w.sendCh = sendCh
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.sendCh = nil
		w.mu.Unlock()
		close(sendCh)
		<-writerDone
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.handleBridgeFrame(raw)
	}
}

// handleBridgeFrame decodes one text frame from the bridge.
func (w *WhatsAppChannel) handleBridgeFrame(raw []byte) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	frameType, _ := data["type"].(string)
	switch frameType {
	case "message":
		sender, _ := data["sender"].(string)
		content, _ := data["content"].(string)

		// chat_id is the JID with the "@..." suffix stripped.
		chatID := sender
		if i := strings.IndexByte(sender, '@'); i >= 0 {
			chatID = sender[:i]
		}

		if len(w.allowFrom) > 0 && !w.IsAllowed(sender) && !w.IsAllowed(chatID) {
			slog.Warn("Access denied", "channel", "whatsapp", "sender", sender)
			return
		}

		if content == "[Voice Message]" {
			content = "[Voice Message: Transcription not available for WhatsApp yet]"
		}

		msg := bus.NewInboundMessage(bus.ChannelWhatsApp, sender, chatID, content)
		msg.Metadata = map[string]any{
			"message_id": data["id"],
			"timestamp":  data["timestamp"],
			"is_group":   data["isGroup"],
		}
		w.bus.PublishInbound(msg)
	case "status":
		status, _ := data["status"].(string)
		slog.Info("whatsapp: status", "status", status)
	case "qr":
		slog.Info("whatsapp: scan QR code in the bridge terminal")
	case "error":
		slog.Error("whatsapp: bridge error", "error", data["error"])
	default:
		slog.Debug("whatsapp: unhandled frame", "type", frameType)
	}
}

// Send pushes a send frame to the writer goroutine.
// Fails fast when the bridge socket is down.
func (w *WhatsAppChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	payload, _ := json.Marshal(map[string]string{
		"type": "send",
		"to":   msg.ChatID,
		"text": msg.Content,
	})

	// The lock is held through the send so the handle cannot be closed
	// underneath us; the writer drains the buffer independently.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendCh == nil {
		return fmt.Errorf("whatsapp: bridge not connected")
	}
	select {
	case w.sendCh <- string(payload):
		return nil
	default:
		return fmt.Errorf("whatsapp: send queue full")
	}
}
