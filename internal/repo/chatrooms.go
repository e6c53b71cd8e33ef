package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateChatroom creates a chatroom owned by the given user.
func (r *Postgres) CreateChatroom(ctx context.Context, userID int64, name string) (*Chatroom, error) {
	const q = `
INSERT INTO chatrooms (user_id, name)
VALUES ($1, $2)
RETURNING id, user_id, name, created_at, updated_at;`
	var c Chatroom
	err := r.pool.QueryRow(ctx, q, userID, name).Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create chatroom: %w", err)
	}
	return &c, nil
}

// ListChatrooms returns all chatrooms owned by the user, newest first.
func (r *Postgres) ListChatrooms(ctx context.Context, userID int64) ([]Chatroom, error) {
	const q = `
SELECT id, user_id, name, created_at, updated_at
FROM chatrooms
WHERE user_id = $1
ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list chatrooms: %w", err)
	}
	defer rows.Close()

	var chatrooms []Chatroom
	for rows.Next() {
		var c Chatroom
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chatroom: %w", err)
		}
		chatrooms = append(chatrooms, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chatrooms: %w", err)
	}
	return chatrooms, nil
}

// GetChatroomForUser loads a chatroom only if the user owns it. A chatroom
// owned by someone else is indistinguishable from a missing one.
func (r *Postgres) GetChatroomForUser(ctx context.Context, id, userID int64) (*Chatroom, error) {
	const q = `
SELECT id, user_id, name, created_at, updated_at
FROM chatrooms
WHERE id = $1 AND user_id = $2
LIMIT 1;`
	var c Chatroom
	err := r.pool.QueryRow(ctx, q, id, userID).Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chatroom: %w", err)
	}
	return &c, nil
}
