package bus

// MessageBus decouples chat channels from the agent core.
//
// Channels, cron, and subagents push InboundMessages; the agent loop is the
// sole consumer. The loop pushes OutboundMessages; the channel manager is the
// sole consumer. Both directions are buffered so producers rarely block on a
// slow consumer.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewMessageBus creates a MessageBus with the given buffer size per direction.
func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, bufSize),
		outbound: make(chan OutboundMessage, bufSize),
	}
}

// PublishInbound delivers a message from a channel to the agent.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// PublishOutbound delivers a reply from the agent to the channel manager.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// InboundChan returns the receive side for the agent loop.
func (b *MessageBus) InboundChan() <-chan InboundMessage { return b.inbound }

// OutboundChan returns the receive side for the channel manager.
func (b *MessageBus) OutboundChan() <-chan OutboundMessage { return b.outbound }

// InboundSize reports the number of queued inbound messages.
func (b *MessageBus) InboundSize() int { return len(b.inbound) }

// OutboundSize reports the number of queued outbound messages.
func (b *MessageBus) OutboundSize() int { return len(b.outbound) }
