package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/security"
)

// recorder is a Notifier that keeps every decoded frame per identity.
type recorder struct {
	mu     sync.Mutex
	frames map[string][]map[string]any
}

func newRecorder() *recorder {
	return &recorder{frames: make(map[string][]map[string]any)}
}

func (r *recorder) Send(id string, payload []byte) error {
	r.Broadcast([]string{id}, payload, "")
	return nil
}

func (r *recorder) Broadcast(ids []string, payload []byte, exclude string) int {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		if id == exclude {
			continue
		}
		r.frames[id] = append(r.frames[id], m)
		n++
	}
	return n
}

func (r *recorder) types(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames[id]))
	for _, f := range r.frames[id] {
		out = append(out, f["type"].(string))
	}
	return out
}

// find returns the frames of typ received by id.
func (r *recorder) find(id, typ string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, f := range r.frames[id] {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = make(map[string][]map[string]any)
	r.mu.Unlock()
}

// memStore is an in-memory Store.
type memStore struct {
	mu    sync.Mutex
	rooms map[string]domain.Room
	chat  []domain.ChatMessage
}

func newMemStore() *memStore {
	return &memStore{rooms: make(map[string]domain.Room)}
}

func (s *memStore) SaveRoom(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	s.rooms[room.ID] = *room
	s.mu.Unlock()
	return nil
}

func (s *memStore) LoadRoom(_ context.Context, id string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &rm, nil
}

func (s *memStore) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
	return nil
}

func (s *memStore) AppendChat(_ context.Context, m domain.ChatMessage) error {
	s.mu.Lock()
	s.chat = append(s.chat, m)
	s.mu.Unlock()
	return nil
}

func newTestRooms(t *testing.T, opts Options) (*Rooms, *recorder) {
	t.Helper()
	if opts.Bcrypt == nil {
		opts.Bcrypt = &security.BcryptConfig{Cost: 4}
	}
	rec := newRecorder()
	return NewRooms(rec, nil, opts), rec
}

func mustCreate(t *testing.T, r *Rooms, p CreateRoomParams) *domain.Room {
	t.Helper()
	room, err := r.CreateRoom(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func mustJoin(t *testing.T, r *Rooms, roomID, userID string) {
	t.Helper()
	if _, err := r.Join(context.Background(), roomID, user(userID), ""); err != nil {
		t.Fatalf("Join(%s, %s): %v", roomID, userID, err)
	}
}

func user(id string) domain.ParticipantInfo {
	return domain.ParticipantInfo{ID: id, Name: id, Role: domain.RoleParticipant}
}
