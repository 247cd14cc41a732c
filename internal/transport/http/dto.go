package http

import "github.com/cwrk-planet/signaling-service/internal/domain"

type CreateRoomRequest struct {
	Name            string               `json:"name"`
	MaxParticipants int                  `json:"max_participants"`
	Password        string               `json:"password"`
	Settings        *domain.RoomSettings `json:"settings"`
}

// UpdateRoomRequest: absent fields are left unchanged.
type UpdateRoomRequest struct {
	Name            *string              `json:"name"`
	IsLocked        *bool                `json:"is_locked"`
	Password        *string              `json:"password"`
	MaxParticipants *int                 `json:"max_participants"`
	Settings        *domain.RoomSettings `json:"settings"`
}

type SetStatusRequest struct {
	Status domain.RoomStatus `json:"status"`
}

type CreateBreakoutRequest struct {
	Name            string   `json:"name"`
	MaxParticipants int      `json:"max_participants"`
	AllowedUsers    []string `json:"allowed_users"`
	DurationMinutes int      `json:"duration_minutes"`
}

type RoomsListResponse struct {
	Items []domain.RoomSummary `json:"items"`
}

type RoomsResponse struct {
	Items []domain.Room `json:"items"`
}

type ArchivedRoomsResponse struct {
	Items      []domain.Room `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type ParticipantsResponse struct {
	RoomID string               `json:"room_id"`
	Items  []domain.Participant `json:"items"`
}

type ChatHistoryResponse struct {
	Items      []domain.ChatMessage `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
