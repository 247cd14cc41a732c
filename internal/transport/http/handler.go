package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/postgres"
	"github.com/cwrk-planet/signaling-service/internal/security"
	"github.com/cwrk-planet/signaling-service/internal/service"
	httpmw "github.com/cwrk-planet/signaling-service/internal/transport/http/middleware"
)

// Archive serves what the store keeps beyond the live state: chat history and
// rooms created by any instance.
type Archive interface {
	History(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error)
	ListRooms(ctx context.Context, limit int, cursor string) ([]domain.Room, string, error)
}

type Handler struct {
	rooms     *service.Rooms
	breakouts *service.Breakouts
	archive   Archive
}

// NewHandler builds the REST handler. archive may be nil when no store is
// configured.
func NewHandler(rooms *service.Rooms, breakouts *service.Breakouts, archive Archive) *Handler {
	return &Handler{rooms: rooms, breakouts: breakouts, archive: archive}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotAuthorized),
		errors.Is(err, domain.ErrNotAllowed),
		errors.Is(err, domain.ErrRoomLocked):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidPassword):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrTooManyBreakouts),
		errors.Is(err, domain.ErrFeatureDisabled):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidRoomName),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrNestedBreakout),
		errors.Is(err, domain.ErrBreakoutJoin),
		errors.Is(err, domain.ErrNotBreakout),
		errors.Is(err, security.ErrPasswordTooShort),
		errors.Is(err, postgres.ErrInvalidCursor):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("handler."+op, slog.Any("err", err))
		writeJSON(w, status, ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// hostOf loads room id and checks that the caller may administer it.
func (h *Handler) hostOf(r *http.Request, id string) (*domain.Room, domain.Identity, error) {
	who, _ := httpmw.IdentityFromCtx(r.Context())
	room, err := h.rooms.Get(id)
	if err != nil {
		return nil, who, err
	}
	if !room.IsHost(who) {
		return nil, who, domain.ErrNotAuthorized
	}
	return room, who, nil
}

// POST /api/rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if !decode(w, r, &req) {
		return
	}
	who, _ := httpmw.IdentityFromCtx(r.Context())

	room, err := h.rooms.CreateRoom(r.Context(), service.CreateRoomParams{
		Name:            req.Name,
		HostID:          who.ID,
		MaxParticipants: req.MaxParticipants,
		Password:        req.Password,
		Settings:        req.Settings,
	})
	if err != nil {
		writeError(w, "CreateRoom", err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// GET /api/rooms?active=true
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	var items []domain.RoomSummary
	if r.URL.Query().Get("active") == "true" {
		items = h.rooms.ActiveRooms()
	} else {
		items = h.rooms.List()
	}
	writeJSON(w, http.StatusOK, RoomsListResponse{Items: items})
}

// GET /api/rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "GetRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// PUT /api/rooms/{id}
func (h *Handler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateRoomRequest
	if !decode(w, r, &req) {
		return
	}
	if _, _, err := h.hostOf(r, id); err != nil {
		writeError(w, "UpdateRoom", err)
		return
	}

	room, err := h.rooms.UpdateSettings(r.Context(), id, service.RoomPatch{
		Name:            req.Name,
		IsLocked:        req.IsLocked,
		Password:        req.Password,
		MaxParticipants: req.MaxParticipants,
		Settings:        req.Settings,
	})
	if err != nil {
		writeError(w, "UpdateRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// DELETE /api/rooms/{id}
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, _, err := h.hostOf(r, id); err != nil {
		writeError(w, "DeleteRoom", err)
		return
	}
	if err := h.rooms.DeleteRoom(r.Context(), id); err != nil {
		writeError(w, "DeleteRoom", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/rooms/{id}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SetStatusRequest
	if !decode(w, r, &req) {
		return
	}
	if _, _, err := h.hostOf(r, id); err != nil {
		writeError(w, "SetStatus", err)
		return
	}
	room, err := h.rooms.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, "SetStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// GET /api/rooms/{id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	items, err := h.rooms.Participants(id)
	if err != nil {
		writeError(w, "GetParticipants", err)
		return
	}
	writeJSON(w, http.StatusOK, ParticipantsResponse{RoomID: id, Items: items})
}

// GET /api/rooms/{id}/chat?limit=
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	items, err := h.rooms.Chat(chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, "GetChat", err)
		return
	}
	writeJSON(w, http.StatusOK, ChatHistoryResponse{Items: items})
}

// GET /api/rooms/{id}/chat/history?after=&limit=
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "archive disabled"})
		return
	}
	items, next, err := h.archive.History(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("after"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, "GetChatHistory", err)
		return
	}
	writeJSON(w, http.StatusOK, ChatHistoryResponse{Items: items, NextCursor: next})
}

// GET /api/archive/rooms?limit=&cursor=
func (h *Handler) ListArchivedRooms(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "archive disabled"})
		return
	}
	items, next, err := h.archive.ListRooms(r.Context(), queryInt(r, "limit", 20), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, "ListArchivedRooms", err)
		return
	}
	writeJSON(w, http.StatusOK, ArchivedRoomsResponse{Items: items, NextCursor: next})
}

// POST /api/rooms/{id}/breakout-rooms
func (h *Handler) CreateBreakout(w http.ResponseWriter, r *http.Request) {
	var req CreateBreakoutRequest
	if !decode(w, r, &req) {
		return
	}
	who, _ := httpmw.IdentityFromCtx(r.Context())

	room, err := h.breakouts.Create(r.Context(), who, chi.URLParam(r, "id"), service.BreakoutParams{
		Name:            req.Name,
		MaxParticipants: req.MaxParticipants,
		AllowedUsers:    req.AllowedUsers,
		Duration:        time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		writeError(w, "CreateBreakout", err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// GET /api/rooms/{id}/breakout-rooms
func (h *Handler) ListBreakouts(w http.ResponseWriter, r *http.Request) {
	items, err := h.rooms.Breakouts(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "ListBreakouts", err)
		return
	}
	writeJSON(w, http.StatusOK, RoomsResponse{Items: items})
}

// DELETE /api/breakout-rooms/{id}
func (h *Handler) CloseBreakout(w http.ResponseWriter, r *http.Request) {
	who, _ := httpmw.IdentityFromCtx(r.Context())
	if err := h.breakouts.CloseAs(r.Context(), who, chi.URLParam(r, "id")); err != nil {
		writeError(w, "CloseBreakout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
