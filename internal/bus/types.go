// Package bus provides the in-process message plumbing between the webhook
// gateway and the reply pipeline: message types, a bounded message bus,
// inbound deduplication, and the per-conversation merge debouncer.
package bus

// InboundMessage represents a chat-platform callback event after decoding.
type InboundMessage struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	ContactID      string `json:"contact_id"`
	ContactName    string `json:"contact_name,omitempty"`
	Content        string `json:"content"`
	MessageType    int    `json:"message_type"` // platform numeric type code (text = 7)
	Source         int    `json:"source"`       // platform source classification code
	IsSelf         bool   `json:"is_self"`
	Timestamp      int64  `json:"timestamp"` // unix ms
}

// OutboundMessage represents one reply segment to be delivered to the platform.
type OutboundMessage struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	// DelayMs is the pacing delay the sender should wait before delivery.
	DelayMs int64 `json:"delay_ms,omitempty"`
}

// InboundHandler processes a single (possibly merged) inbound message.
type InboundHandler func(InboundMessage)
