package postgres

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/signaling-service/internal/domain"
)

type ChatRepository struct {
	q querier
}

func NewChatRepository(q querier) *ChatRepository {
	return &ChatRepository{q: q}
}

// Append stores m with its server-assigned id; replays are ignored.
func (r *ChatRepository) Append(ctx context.Context, m domain.ChatMessage) error {
	_, err := r.q.Exec(ctx, queryInsertMessage,
		m.ID, m.RoomID, m.SenderID, m.SenderName, m.Body, m.IsSystem, m.CreatedAt)
	return err
}

// History returns archived messages of a room, newest first, with cursor pagination on (created_at, id).
func (r *ChatRepository) History(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error) {
	limit = pageSize(limit)
	cur, err := DecodeCursor(after)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}

	createdAt, id := cur.args()
	rows, err := r.q.Query(ctx, queryHistory, roomID, createdAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Body, &m.IsSystem, &m.CreatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if len(out) == 0 {
		return out, "", nil
	}
	last := out[len(out)-1]
	return out, nextCursor(len(out), limit, last.CreatedAt, last.ID), nil
}
