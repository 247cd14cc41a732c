// Package postgres keeps top-level room metadata and chat history in PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/signaling-service/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence collaborator of the room state.
type Store struct {
	pool  *pgxpool.Pool
	Rooms *RoomRepository
	Chat  *ChatRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:  pool,
		Rooms: NewRoomRepository(pool),
		Chat:  NewChatRepository(pool),
	}
}

// Migrate creates the tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, querySchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return Ping(ctx, s.pool)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) SaveRoom(ctx context.Context, room *domain.Room) error {
	return s.Rooms.Save(ctx, room)
}

func (s *Store) LoadRoom(ctx context.Context, id string) (*domain.Room, error) {
	return s.Rooms.Get(ctx, id)
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	return s.Rooms.Delete(ctx, id)
}

func (s *Store) AppendChat(ctx context.Context, m domain.ChatMessage) error {
	return s.Chat.Append(ctx, m)
}

// History pages through archived chat of a room.
func (s *Store) History(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error) {
	return s.Chat.History(ctx, roomID, after, limit)
}

// ListRooms pages through stored top-level rooms, newest first.
func (s *Store) ListRooms(ctx context.Context, limit int, cursor string) ([]domain.Room, string, error) {
	return s.Rooms.List(ctx, limit, cursor)
}
