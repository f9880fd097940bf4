// Package bus defines the message types that flow between channels and the
// agent core, and the in-process bus that carries them.
package bus

import "time"

// Well-known channel names. External adapters use their platform name;
// the remaining values tag synthetic origins.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
	ChannelSlack    = "slack"
	ChannelFeishu   = "feishu"
	ChannelCLI      = "cli"
	ChannelCron     = "cron"
	ChannelSystem   = "system"
)

// InboundMessage is a single user utterance received from a chat channel
// (or synthesized by cron / a subagent). Immutable after construction.
type InboundMessage struct {
	Channel   string         // "whatsapp", "telegram", "cli", "cron", "system", …
	SenderID  string         // user identifier within the channel
	ChatID    string         // chat / group / DM identifier
	Content   string         // message text (may be empty)
	Timestamp time.Time      // when the message was received
	Media     []string       // local file paths of downloaded attachments
	Metadata  map[string]any // channel-specific extras (message_id, timestamp, is_group, …)
}

// NewInboundMessage creates an InboundMessage with Timestamp set to now.
func NewInboundMessage(channel, senderID, chatID, content string) InboundMessage {
	return InboundMessage{
		Channel:   channel,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// SessionKey returns the key used to look up the conversation session.
// Format: "channel:chat_id".
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// Preview returns a short snippet of the message content for logging.
func (m InboundMessage) Preview() string {
	if len(m.Content) > 80 {
		return m.Content[:80] + "..."
	}
	return m.Content
}

// OutboundMessage is a reply to be delivered through a channel.
// Created by the agent loop; consumed by the channel manager.
type OutboundMessage struct {
	Channel  string         // destination channel name
	ChatID   string         // destination chat identifier
	Content  string         // text to send
	Media    []string       // local file paths to attach (optional)
	Metadata map[string]any // channel-specific hints (message_id to reply to, …)
}

// NewOutboundMessage creates a plain text OutboundMessage.
func NewOutboundMessage(channel, chatID, content string) OutboundMessage {
	return OutboundMessage{Channel: channel, ChatID: chatID, Content: content}
}
