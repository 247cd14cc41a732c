package postgres

import (
	"context"
	"errors"

	"github.com/cwrk-planet/signaling-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

type RoomRepository struct {
	q querier
}

func NewRoomRepository(q querier) *RoomRepository {
	return &RoomRepository{q: q}
}

// Save inserts the room or updates its mutable columns.
func (r *RoomRepository) Save(ctx context.Context, room *domain.Room) error {
	_, err := r.q.Exec(ctx, queryUpsertRoom,
		room.ID, room.Name, room.HostID, string(room.Status), room.IsLocked, room.IsRecording,
		room.PasswordHash, room.MaxParticipants, room.Settings, room.CreatedAt)
	return err
}

func (r *RoomRepository) Get(ctx context.Context, id string) (*domain.Room, error) {
	rm, err := scanRoom(r.q.QueryRow(ctx, queryGetRoom, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return rm, nil
}

// List pages through stored rooms, newest first.
func (r *RoomRepository) List(ctx context.Context, limit int, cursorStr string) ([]domain.Room, string, error) {
	limit = pageSize(limit)
	cur, err := DecodeCursor(cursorStr)
	if err != nil {
		return nil, "", err
	}

	createdAt, id := cur.args()
	rows, err := r.q.Query(ctx, queryListRooms, createdAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, "", err
		}
		rooms = append(rooms, *rm)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if len(rooms) == 0 {
		return rooms, "", nil
	}
	last := rooms[len(rooms)-1]
	return rooms, nextCursor(len(rooms), limit, last.CreatedAt, last.ID), nil
}

func (r *RoomRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, queryDeleteRoom, id)
	return err
}

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var (
		rm     domain.Room
		status string
	)
	err := row.Scan(&rm.ID, &rm.Name, &rm.HostID, &status, &rm.IsLocked, &rm.IsRecording,
		&rm.PasswordHash, &rm.MaxParticipants, &rm.Settings, &rm.CreatedAt)
	if err != nil {
		return nil, err
	}
	rm.Status = domain.RoomStatus(status)
	rm.HasPassword = rm.PasswordHash != ""
	return &rm, nil
}
