// Package store is the append/read contract for the durable message log.
// SQLite backs standalone deployments; Postgres is used when a DSN is set.
package store

import (
	"context"
	"time"
)

// Entry is one logged message, inbound or outbound.
type Entry struct {
	ConversationID string
	MessageID      string
	Role           string // "user" or "assistant"
	Content        string
	CreatedAt      time.Time
}

// MessageLog appends and reads conversation messages. Implementations must
// be safe for concurrent use.
type MessageLog interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, conversationID string, limit int) ([]Entry, error)
	Close() error
}

// NopLog discards appends and reads nothing. Used when logging is disabled.
type NopLog struct{}

func (NopLog) Append(context.Context, Entry) error { return nil }

func (NopLog) Recent(context.Context, string, int) ([]Entry, error) { return nil, nil }

func (NopLog) Close() error { return nil }
