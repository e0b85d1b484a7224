// Package history keeps the bounded, TTL-expiring conversation transcripts
// that feed the AI backend with context.
package history

import (
	"fmt"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is the canonical transcript entry.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Part is one fragment of a structured message body.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Incoming is the accepted input shape for AddMessage: either a simple
// {role, content} pair or a structured {role, parts[]} body. Exactly one of
// Content and Parts should be set; Parts wins when both are.
type Incoming struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// ValidationError reports a malformed message rejected at the store boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s %s", e.Field, e.Reason)
}

// Normalize converts an Incoming message into the canonical shape. It is
// total: every input yields either a Message or a *ValidationError.
func Normalize(in Incoming) (Message, error) {
	switch in.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return Message{}, &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", in.Role)}
	}

	content := in.Content
	if len(in.Parts) > 0 {
		texts := make([]string, 0, len(in.Parts))
		for _, p := range in.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		content = strings.Join(texts, "\n")
	}

	if strings.TrimSpace(content) == "" {
		return Message{}, &ValidationError{Field: "content", Reason: "is empty"}
	}

	return Message{Role: in.Role, Content: content}, nil
}
