package bus

import (
	"context"
	"log/slog"
)

const defaultQueueSize = 256

// MessageBus is a bounded in-process queue decoupling the webhook handler
// from the reply pipeline. Publishing never blocks: when a queue is full the
// message is dropped and logged, so a slow downstream can never stall the
// always-200 webhook contract.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewMessageBus creates a bus with the given queue capacity (0 = default).
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
	}
}

// PublishInbound enqueues an inbound message. Returns false if the queue is full.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case b.inbound <- msg:
		return true
	default:
		slog.Warn("bus: inbound queue full, dropping message",
			"conversation", msg.ConversationID, "message_id", msg.MessageID)
		return false
	}
}

// ConsumeInbound blocks until an inbound message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound enqueues a reply segment for delivery. Returns false if full.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	select {
	case b.outbound <- msg:
		return true
	default:
		slog.Warn("bus: outbound queue full, dropping segment",
			"conversation", msg.ConversationID)
		return false
	}
}

// InboundLen reports the current inbound queue depth.
func (b *MessageBus) InboundLen() int {
	return len(b.inbound)
}

// SubscribeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}
