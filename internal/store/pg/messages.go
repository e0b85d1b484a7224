// Package pg is the Postgres message log backend, used when
// AUTOREPLY_POSTGRES_DSN is set.
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, created_at);
`

// MessageLog is the Postgres implementation of store.MessageLog.
type MessageLog struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, dsn string) (*MessageLog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store/pg: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store/pg: create schema: %w", err)
	}
	return &MessageLog{pool: pool}, nil
}

func (l *MessageLog) Append(ctx context.Context, e store.Entry) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO messages (conversation_id, message_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ConversationID, e.MessageID, e.Role, e.Content, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store/pg: append: %w", err)
	}
	return nil
}

func (l *MessageLog) Recent(ctx context.Context, conversationID string, limit int) ([]store.Entry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT conversation_id, message_id, role, content, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY id DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store/pg: query: %w", err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.ConversationID, &e.MessageID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store/pg: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store/pg: rows: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (l *MessageLog) Close() error {
	l.pool.Close()
	return nil
}
