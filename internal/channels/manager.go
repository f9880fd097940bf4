package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dusterbloom/nanobot/internal/bus"
	"github.com/dusterbloom/nanobot/internal/config"
	"github.com/dusterbloom/nanobot/internal/schema"
)

// Manager owns all enabled channels and routes outbound messages.
type Manager struct {
	channels map[string]schema.Channel
	bus      *bus.MessageBus
}

// NewManager creates a Manager with all channels enabled in cfg.
// withCLI additionally registers the interactive terminal channel.
func NewManager(cfg *config.Config, b *bus.MessageBus, withCLI bool) *Manager {
	m := &Manager{
		channels: make(map[string]schema.Channel),
		bus:      b,
	}

	if withCLI {
		m.register(NewCLIChannel(b))
	}
	if cfg.Channels.WhatsApp.Enabled {
		m.register(NewWhatsAppChannel(&cfg.Channels.WhatsApp, b))
	}
	if cfg.Channels.Telegram.Enabled {
		m.register(NewTelegramChannel(&cfg.Channels.Telegram, b))
	}
	if cfg.Channels.Slack.Enabled {
		m.register(NewSlackChannel(&cfg.Channels.Slack, b))
	}
	if cfg.Channels.Feishu.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
		m.register(NewFeishuChannel(&cfg.Channels.Feishu, addr, b))
	}

	return m
}

func (m *Manager) register(ch schema.Channel) {
	m.channels[ch.Name()] = ch
	slog.Info("Channel enabled", "name", ch.Name())
}

// EnabledChannels returns the names of all registered channels, sorted.
func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for n := range m.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the channel with the given name, or nil.
func (m *Manager) Get(name string) schema.Channel {
	return m.channels[name]
}

// StartAll starts every channel and the outbound dispatcher.
// Blocks until ctx is cancelled.
func (m *Manager) StartAll(ctx context.Context) error {
	go m.dispatchOutbound(ctx)

	for name, ch := range m.channels {
		go func(n string, c schema.Channel) {
			slog.Info("Starting channel", "name", n)
			if err := c.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Channel exited with error", "name", n, "err", err)
			}
		}(name, ch)
	}

	<-ctx.Done()
	return ctx.Err()
}

// dispatchOutbound routes each outbound message to the channel named in it.
// Unknown destinations are logged and dropped.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-m.bus.OutboundChan():
			ch, ok := m.channels[msg.Channel]
			if !ok {
				slog.Warn("No channel for outbound message", "channel", msg.Channel)
				continue
			}
			if err := ch.Send(ctx, msg); err != nil {
				slog.Error("Send error", "channel", msg.Channel, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
