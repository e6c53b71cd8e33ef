package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateMessage inserts a pending message with no response yet.
func (r *Postgres) CreateMessage(ctx context.Context, chatroomID int64, userMessage string) (*Message, error) {
	const q = `
INSERT INTO messages (chatroom_id, user_message)
VALUES ($1, $2)
RETURNING id, chatroom_id, user_message, gemini_response, created_at;`
	var m Message
	err := r.pool.QueryRow(ctx, q, chatroomID, userMessage).Scan(&m.ID, &m.ChatroomID, &m.UserMessage, &m.GeminiResponse, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &m, nil
}

// GetMessage loads a message by id.
func (r *Postgres) GetMessage(ctx context.Context, id int64) (*Message, error) {
	const q = `
SELECT id, chatroom_id, user_message, gemini_response, created_at
FROM messages
WHERE id = $1
LIMIT 1;`
	var m Message
	err := r.pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.ChatroomID, &m.UserMessage, &m.GeminiResponse, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// ListMessages returns all messages in a chatroom in send order.
func (r *Postgres) ListMessages(ctx context.Context, chatroomID int64) ([]Message, error) {
	const q = `
SELECT id, chatroom_id, user_message, gemini_response, created_at
FROM messages
WHERE chatroom_id = $1
ORDER BY created_at ASC, id ASC;`
	rows, err := r.pool.Query(ctx, q, chatroomID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatroomID, &m.UserMessage, &m.GeminiResponse, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// SetMessageResponse overwrites the response field. The write is a plain
// overwrite so redelivered jobs can repeat it safely; the last write wins.
// Returns ErrNotFound when the message was deleted in the meantime.
func (r *Postgres) SetMessageResponse(ctx context.Context, id int64, response string) error {
	const q = `UPDATE messages SET gemini_response = $2 WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, response)
	if err != nil {
		return fmt.Errorf("set message response: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
