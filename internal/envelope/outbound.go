package envelope

import (
	"encoding/json"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
)

// Outbound event types.
const (
	TypeRoomJoined           = "room_joined"
	TypeUserJoined           = "user_joined"
	TypeUserLeft             = "user_left"
	TypeMediaStateChanged    = "media_state_changed"
	TypeRecordingStateUpdate = "recording_state_update"
	TypeScreenShareChanged   = "screen_share_changed"
	TypeRoomEnded            = "room_ended"
	TypeRoomUpdated          = "room_updated"
	TypeBreakoutCreated      = "breakout_room_created"
	TypeBreakoutJoined       = "breakout_room_joined"
	TypeBreakoutLeft         = "breakout_room_left"
	TypeBreakoutClosed       = "breakout_room_closed"
	TypeUserJoinedBreakout   = "user_joined_breakout"
	TypeUserLeftBreakout     = "user_left_breakout"
	TypeBreakoutAssignments  = "breakout_assignments"
	TypePong                 = "pong"
	TypeError                = "error"
)

// Event is an outbound envelope. Encode stamps it before marshalling.
type Event interface {
	stamp(t time.Time)
}

// Base is embedded by every outbound event.
type Base struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func (b *Base) stamp(t time.Time) { b.Timestamp = t.UTC().Format(time.RFC3339Nano) }

func newBase(typ string) Base { return Base{Type: typ} }

// Encode marshals ev with a fresh ISO-8601 timestamp.
func Encode(ev Event) ([]byte, error) {
	ev.stamp(time.Now())
	return json.Marshal(ev)
}

type RoomJoinedEvent struct {
	Base
	RoomID       string               `json:"room_id"`
	Room         *domain.Room         `json:"room_info,omitempty"`
	Participants []domain.Participant `json:"users"`
}

type UserJoinedEvent struct {
	Base
	RoomID   string                 `json:"room_id"`
	UserID   string                 `json:"user_id"`
	UserInfo domain.ParticipantInfo `json:"user_info"`
}

type UserLeftEvent struct {
	Base
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// RelayEvent forwards an offer, answer or ICE candidate. Exactly one payload is set.
type RelayEvent struct {
	Base
	SenderID     string          `json:"sender_id"`
	TargetUserID string          `json:"target_user_id"`
	RoomID       string          `json:"room_id,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

type MediaStateChangedEvent struct {
	Base
	RoomID     string            `json:"room_id"`
	UserID     string            `json:"user_id"`
	MediaState domain.MediaState `json:"media_state"`
}

type ChatMessageEvent struct {
	Base
	Message domain.ChatMessage `json:"message"`
}

type RecordingStateEvent struct {
	Base
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	IsRecording bool   `json:"is_recording"`
}

type ScreenShareChangedEvent struct {
	Base
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	IsSharing bool   `json:"is_sharing"`
}

type RoomEndedEvent struct {
	Base
	RoomID string `json:"room_id"`
}

type RoomUpdatedEvent struct {
	Base
	Room domain.Room `json:"room_info"`
}

type BreakoutCreatedEvent struct {
	Base
	BreakoutRoom domain.Room `json:"breakout_room"`
}

type BreakoutJoinedEvent struct {
	Base
	BreakoutRoomID string               `json:"breakout_room_id"`
	MainRoomID     string               `json:"main_room_id"`
	Participants   []domain.Participant `json:"users"`
}

type BreakoutLeftEvent struct {
	Base
	BreakoutRoomID string `json:"breakout_room_id"`
	MainRoomID     string `json:"main_room_id"`
}

type BreakoutClosedEvent struct {
	Base
	BreakoutID string `json:"breakout_id"`
	MainRoomID string `json:"main_room_id"`
}

type BreakoutMembershipEvent struct {
	Base
	RoomID       string `json:"room_id"`
	UserID       string `json:"user_id"`
	BreakoutID   string `json:"breakout_id"`
	BreakoutName string `json:"breakout_name,omitempty"`
}

type BreakoutAssignmentsEvent struct {
	Base
	RoomID      string                      `json:"room_id"`
	Assignments []domain.BreakoutAssignment `json:"assignments"`
}

type PongEvent struct {
	Base
}

type ErrorEvent struct {
	Base
	Message string `json:"message"`
}

func RoomJoined(room *domain.Room, participants []domain.Participant) *RoomJoinedEvent {
	return &RoomJoinedEvent{Base: newBase(TypeRoomJoined), RoomID: room.ID, Room: room, Participants: participants}
}

func UserJoined(roomID string, info domain.ParticipantInfo) *UserJoinedEvent {
	return &UserJoinedEvent{Base: newBase(TypeUserJoined), RoomID: roomID, UserID: info.ID, UserInfo: info}
}

func UserLeft(roomID, userID string) *UserLeftEvent {
	return &UserLeftEvent{Base: newBase(TypeUserLeft), RoomID: roomID, UserID: userID}
}

func Relay(kind, senderID, target, roomID string, payload json.RawMessage) *RelayEvent {
	ev := &RelayEvent{Base: newBase(kind), SenderID: senderID, TargetUserID: target, RoomID: roomID}
	switch kind {
	case TypeOffer:
		ev.Offer = payload
	case TypeAnswer:
		ev.Answer = payload
	default:
		ev.Candidate = payload
	}
	return ev
}

func MediaStateChanged(roomID, userID string, st domain.MediaState) *MediaStateChangedEvent {
	return &MediaStateChangedEvent{Base: newBase(TypeMediaStateChanged), RoomID: roomID, UserID: userID, MediaState: st}
}

func Chat(m domain.ChatMessage) *ChatMessageEvent {
	return &ChatMessageEvent{Base: newBase(TypeChatMessage), Message: m}
}

func RecordingStateUpdate(roomID, userID string, on bool) *RecordingStateEvent {
	return &RecordingStateEvent{Base: newBase(TypeRecordingStateUpdate), RoomID: roomID, UserID: userID, IsRecording: on}
}

func ScreenShareChanged(roomID, userID string, sharing bool) *ScreenShareChangedEvent {
	return &ScreenShareChangedEvent{Base: newBase(TypeScreenShareChanged), RoomID: roomID, UserID: userID, IsSharing: sharing}
}

func RoomEnded(roomID string) *RoomEndedEvent {
	return &RoomEndedEvent{Base: newBase(TypeRoomEnded), RoomID: roomID}
}

func RoomUpdated(room domain.Room) *RoomUpdatedEvent {
	return &RoomUpdatedEvent{Base: newBase(TypeRoomUpdated), Room: room}
}

func BreakoutCreated(room domain.Room) *BreakoutCreatedEvent {
	return &BreakoutCreatedEvent{Base: newBase(TypeBreakoutCreated), BreakoutRoom: room}
}

func BreakoutJoined(breakoutID, mainRoomID string, participants []domain.Participant) *BreakoutJoinedEvent {
	return &BreakoutJoinedEvent{Base: newBase(TypeBreakoutJoined), BreakoutRoomID: breakoutID, MainRoomID: mainRoomID, Participants: participants}
}

func BreakoutLeft(breakoutID, mainRoomID string) *BreakoutLeftEvent {
	return &BreakoutLeftEvent{Base: newBase(TypeBreakoutLeft), BreakoutRoomID: breakoutID, MainRoomID: mainRoomID}
}

func BreakoutClosed(breakoutID, mainRoomID string) *BreakoutClosedEvent {
	return &BreakoutClosedEvent{Base: newBase(TypeBreakoutClosed), BreakoutID: breakoutID, MainRoomID: mainRoomID}
}

func UserJoinedBreakout(roomID, userID, breakoutID, name string) *BreakoutMembershipEvent {
	return &BreakoutMembershipEvent{Base: newBase(TypeUserJoinedBreakout), RoomID: roomID, UserID: userID, BreakoutID: breakoutID, BreakoutName: name}
}

func UserLeftBreakout(roomID, userID, breakoutID string) *BreakoutMembershipEvent {
	return &BreakoutMembershipEvent{Base: newBase(TypeUserLeftBreakout), RoomID: roomID, UserID: userID, BreakoutID: breakoutID}
}

func BreakoutAssignments(roomID string, as []domain.BreakoutAssignment) *BreakoutAssignmentsEvent {
	return &BreakoutAssignmentsEvent{Base: newBase(TypeBreakoutAssignments), RoomID: roomID, Assignments: as}
}

func Pong() *PongEvent {
	return &PongEvent{Base: newBase(TypePong)}
}

func Error(msg string) *ErrorEvent {
	return &ErrorEvent{Base: newBase(TypeError), Message: msg}
}
