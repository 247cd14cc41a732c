package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/envelope"
	"github.com/cwrk-planet/signaling-service/internal/security"
)

// RoomPatch carries the settable fields of a room; nil fields are left alone.
// An empty Password clears the password.
type RoomPatch struct {
	Name            *string
	IsLocked        *bool
	Password        *string
	MaxParticipants *int
	Settings        *domain.RoomSettings
}

func (r *Rooms) UpdateSettings(ctx context.Context, roomID string, p RoomPatch) (*domain.Room, error) {
	var hash string
	if p.Password != nil && *p.Password != "" {
		h, err := security.HashPassword(*p.Password, r.opts.Bcrypt)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = h
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, domain.ErrInvalidRoomName
	}

	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil, domain.ErrRoomNotFound
	}
	if p.Name != nil {
		rm.meta.Name = strings.TrimSpace(*p.Name)
	}
	if p.IsLocked != nil {
		rm.meta.IsLocked = *p.IsLocked
	}
	if p.Password != nil {
		rm.meta.PasswordHash = hash
		rm.meta.HasPassword = hash != ""
	}
	if p.MaxParticipants != nil && *p.MaxParticipants > 0 {
		n := min(*p.MaxParticipants, r.opts.MaxParticipants)
		rm.meta.MaxParticipants = max(n, len(rm.members))
	}
	if p.Settings != nil {
		rm.meta.Settings = *p.Settings
	}
	out := r.snapshot(rm)
	d := delivery{to: everyone(rm), ev: envelope.RoomUpdated(out)}
	r.mu.Unlock()

	r.persist(ctx, &out)
	r.deliver(d)
	return &out, nil
}

// SetStatus pauses or resumes a room. Ended is reachable only through DeleteRoom.
func (r *Rooms) SetStatus(ctx context.Context, roomID string, status domain.RoomStatus) (*domain.Room, error) {
	if status != domain.RoomActive && status != domain.RoomPaused {
		return nil, domain.ErrInvalidStatus
	}

	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil, domain.ErrRoomNotFound
	}
	rm.meta.Status = status
	out := r.snapshot(rm)
	d := delivery{to: everyone(rm), ev: envelope.RoomUpdated(out)}
	r.mu.Unlock()

	r.persist(ctx, &out)
	r.deliver(d)
	return &out, nil
}

// SetRecording toggles the recording flag. Only a host may do so.
func (r *Rooms) SetRecording(ctx context.Context, roomID string, actor domain.Identity, on bool) error {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	if !rm.meta.IsHost(actor) {
		r.mu.Unlock()
		return domain.ErrNotAuthorized
	}
	if !rm.meta.Settings.AllowRecording {
		r.mu.Unlock()
		return domain.ErrFeatureDisabled
	}

	rm.meta.IsRecording = on
	text := "Recording stopped"
	if on {
		text = "Recording started"
	}
	msg := r.appendChatLocked(rm, domain.ChatMessage{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   actor.ID,
		SenderName: "System",
		Body:       text,
		CreatedAt:  time.Now().UTC(),
		IsSystem:   true,
	})
	ds := []delivery{
		{to: everyone(rm), ev: envelope.RecordingStateUpdate(roomID, actor.ID, on)},
		{to: conversation(rm), ev: envelope.Chat(msg)},
	}
	topLevel := !rm.meta.IsBreakout()
	r.mu.Unlock()

	r.deliver(ds...)
	if topLevel {
		r.archive(ctx, msg)
	}
	return nil
}

// PostChat appends a chat message from a member and broadcasts it to the
// room, sender included.
func (r *Rooms) PostChat(ctx context.Context, roomID, senderID, body string) (domain.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ChatMessage{}, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > r.opts.MaxMessageLen {
		return domain.ChatMessage{}, domain.ErrMessageTooLong
	}

	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return domain.ChatMessage{}, domain.ErrRoomNotFound
	}
	if _, in := rm.members[senderID]; !in {
		r.mu.Unlock()
		return domain.ChatMessage{}, domain.ErrNotMember
	}
	if !rm.meta.Settings.AllowChat {
		r.mu.Unlock()
		return domain.ChatMessage{}, domain.ErrFeatureDisabled
	}

	msg := r.appendChatLocked(rm, domain.ChatMessage{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: r.profileLocked(senderID).Name,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	})
	d := delivery{to: conversation(rm), ev: envelope.Chat(msg)}
	topLevel := !rm.meta.IsBreakout()
	r.mu.Unlock()

	r.deliver(d)
	if topLevel {
		r.archive(ctx, msg)
	}
	return msg, nil
}

func (r *Rooms) appendChatLocked(rm *room, m domain.ChatMessage) domain.ChatMessage {
	rm.chat = append(rm.chat, m)
	if n := r.opts.ChatRetention; n > 0 && len(rm.chat) > n {
		rm.chat = append(rm.chat[:0:0], rm.chat[len(rm.chat)-n:]...)
	}
	return m
}

// SetMediaState records the audio/video flags of a member and tells the rest
// of the room.
func (r *Rooms) SetMediaState(ctx context.Context, roomID, userID string, st domain.MediaState) error {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	if _, in := rm.members[userID]; !in {
		r.mu.Unlock()
		return domain.ErrNotMember
	}
	r.media[userID] = st
	d := delivery{to: conversation(rm), exclude: userID, ev: envelope.MediaStateChanged(roomID, userID, st)}
	r.mu.Unlock()

	r.deliver(d)
	return nil
}

func (r *Rooms) SetScreenShare(ctx context.Context, roomID, userID string, sharing bool) error {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	if _, in := rm.members[userID]; !in {
		r.mu.Unlock()
		return domain.ErrNotMember
	}
	if sharing && !rm.meta.Settings.AllowScreenSharing {
		r.mu.Unlock()
		return domain.ErrFeatureDisabled
	}
	st := r.mediaLocked(userID)
	st.ScreenSharing = sharing
	r.media[userID] = st
	d := delivery{to: conversation(rm), exclude: userID, ev: envelope.ScreenShareChanged(roomID, userID, sharing)}
	r.mu.Unlock()

	r.deliver(d)
	return nil
}

func (r *Rooms) persist(ctx context.Context, room *domain.Room) {
	if r.store == nil || room.IsBreakout() {
		return
	}
	if err := r.store.SaveRoom(ctx, room); err != nil {
		slog.Warn("rooms: store save", "room", room.ID, "err", err)
	}
}

func (r *Rooms) archive(ctx context.Context, m domain.ChatMessage) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendChat(ctx, m); err != nil {
		slog.Warn("rooms: store chat", "room", m.RoomID, "err", err)
	}
}
