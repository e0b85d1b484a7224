package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, created_at);
`

// SQLiteLog is the default single-node message log.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the message log at path.
// Use ":memory:" for an ephemeral log.
func OpenSQLite(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

func (l *SQLiteLog) Append(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, message_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ConversationID, e.MessageID, e.Role, e.Content, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

func (l *SQLiteLog) Recent(ctx context.Context, conversationID string, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT conversation_id, message_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY id DESC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ConversationID, &e.MessageID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}

	// Reverse to chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (l *SQLiteLog) Close() error { return l.db.Close() }
