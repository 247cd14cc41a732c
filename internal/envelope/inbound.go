// Package envelope defines the signaling wire format: a tagged union of inbound
// messages decoded at the transport boundary and the outbound events sent back.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cwrk-planet/signaling-service/internal/domain"

	"github.com/pion/webrtc/v4"
)

// Inbound message types.
const (
	TypeJoinRoom            = "join_room"
	TypeLeaveRoom           = "leave_room"
	TypeOffer               = "offer"
	TypeAnswer              = "answer"
	TypeICECandidate        = "ice_candidate"
	TypeMediaState          = "media_state"
	TypeChatMessage         = "chat_message"
	TypeRecordingState      = "recording_state"
	TypeCreateBreakoutRoom  = "create_breakout_room"
	TypeJoinBreakoutRoom    = "join_breakout_room"
	TypeLeaveBreakoutRoom   = "leave_breakout_room"
	TypeCloseBreakoutRoom   = "close_breakout_room"
	TypeAutoAssignBreakouts = "auto_assign_breakouts"
	TypeScreenShare         = "screen_share"
	TypePing                = "ping"
)

var (
	ErrMalformed   = errors.New("invalid JSON format")
	ErrMissingType = errors.New("missing message type")
)

// Header carries the fields shared by every inbound envelope.
type Header struct {
	Type         string `json:"type"`
	RoomID       string `json:"room_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`
}

// Inbound is one decoded variant of the union.
type Inbound interface {
	Kind() string
}

type JoinRoom struct {
	RoomID   string                  `json:"room_id"`
	Password string                  `json:"password,omitempty"`
	UserInfo *domain.ParticipantInfo `json:"user_info,omitempty"`
}

type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

// Offer, Answer and ICECandidate keep the raw payload so that relays forward
// exactly what the sender wrote.
type Offer struct {
	RoomID string          `json:"room_id"`
	Target string          `json:"target_user_id"`
	SDP    json.RawMessage `json:"offer"`
}

type Answer struct {
	RoomID string          `json:"room_id"`
	Target string          `json:"target_user_id"`
	SDP    json.RawMessage `json:"answer"`
}

type ICECandidate struct {
	RoomID    string          `json:"room_id"`
	Target    string          `json:"target_user_id"`
	Candidate json.RawMessage `json:"candidate"`
}

type MediaState struct {
	RoomID string            `json:"room_id"`
	State  domain.MediaState `json:"media_state"`
}

type ChatMessage struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
	Message string `json:"message"`
}

// Body returns the chat text; both "content" and "message" are accepted.
func (m ChatMessage) Body() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Message
}

type RecordingState struct {
	RoomID      string `json:"room_id"`
	IsRecording bool   `json:"is_recording"`
}

type CreateBreakoutRoom struct {
	RoomID          string   `json:"room_id"`
	Name            string   `json:"name"`
	MaxParticipants int      `json:"max_participants"`
	AllowedUsers    []string `json:"allowed_users"`
	DurationMinutes int      `json:"duration_minutes"`
}

type JoinBreakoutRoom struct {
	BreakoutRoomID string `json:"breakout_room_id"`
}

type LeaveBreakoutRoom struct {
	BreakoutRoomID string `json:"breakout_room_id"`
}

type CloseBreakoutRoom struct {
	BreakoutRoomID string `json:"breakout_room_id"`
}

type AutoAssignBreakouts struct {
	RoomID string `json:"room_id"`
}

type ScreenShare struct {
	RoomID    string `json:"room_id"`
	IsSharing bool   `json:"is_sharing"`
}

type Ping struct{}

// Unknown quarantines envelopes whose type has no handling rule.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (JoinRoom) Kind() string            { return TypeJoinRoom }
func (LeaveRoom) Kind() string           { return TypeLeaveRoom }
func (Offer) Kind() string               { return TypeOffer }
func (Answer) Kind() string              { return TypeAnswer }
func (ICECandidate) Kind() string        { return TypeICECandidate }
func (MediaState) Kind() string          { return TypeMediaState }
func (ChatMessage) Kind() string         { return TypeChatMessage }
func (RecordingState) Kind() string      { return TypeRecordingState }
func (CreateBreakoutRoom) Kind() string  { return TypeCreateBreakoutRoom }
func (JoinBreakoutRoom) Kind() string    { return TypeJoinBreakoutRoom }
func (LeaveBreakoutRoom) Kind() string   { return TypeLeaveBreakoutRoom }
func (CloseBreakoutRoom) Kind() string   { return TypeCloseBreakoutRoom }
func (AutoAssignBreakouts) Kind() string { return TypeAutoAssignBreakouts }
func (ScreenShare) Kind() string         { return TypeScreenShare }
func (Ping) Kind() string                { return TypePing }
func (u Unknown) Kind() string           { return u.Type }

// Decode parses a text frame into its header and typed variant.
func Decode(data []byte) (Header, Inbound, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, nil, ErrMalformed
	}
	h.Type = strings.TrimSpace(h.Type)
	if h.Type == "" {
		return h, nil, ErrMissingType
	}

	var (
		msg Inbound
		err error
	)
	switch h.Type {
	case TypeJoinRoom:
		msg, err = decodeAs[JoinRoom](data)
	case TypeLeaveRoom:
		msg, err = decodeAs[LeaveRoom](data)
	case TypeOffer:
		msg, err = decodeAs[Offer](data)
	case TypeAnswer:
		msg, err = decodeAs[Answer](data)
	case TypeICECandidate:
		msg, err = decodeAs[ICECandidate](data)
	case TypeMediaState:
		msg, err = decodeAs[MediaState](data)
	case TypeChatMessage:
		msg, err = decodeAs[ChatMessage](data)
	case TypeRecordingState:
		msg, err = decodeAs[RecordingState](data)
	case TypeCreateBreakoutRoom:
		msg, err = decodeAs[CreateBreakoutRoom](data)
	case TypeJoinBreakoutRoom:
		msg, err = decodeAs[JoinBreakoutRoom](data)
	case TypeLeaveBreakoutRoom:
		msg, err = decodeAs[LeaveBreakoutRoom](data)
	case TypeCloseBreakoutRoom:
		msg, err = decodeAs[CloseBreakoutRoom](data)
	case TypeAutoAssignBreakouts:
		msg, err = decodeAs[AutoAssignBreakouts](data)
	case TypeScreenShare:
		msg, err = decodeAs[ScreenShare](data)
	case TypePing:
		msg = Ping{}
	default:
		msg = Unknown{Type: h.Type, Raw: append(json.RawMessage(nil), data...)}
	}
	if err != nil {
		return h, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, h.Type, err)
	}
	return h, msg, nil
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ValidateSDP checks that raw is a session description of the expected type
// and, when strict, that its SDP body parses.
func ValidateSDP(raw json.RawMessage, want webrtc.SDPType, strict bool) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("missing %s", want)
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return fmt.Errorf("invalid %s: %w", want, err)
	}
	if sd.Type != want {
		return fmt.Errorf("invalid %s: sdp type %q", want, sd.Type)
	}
	if strict {
		if _, err := sd.Unmarshal(); err != nil {
			return fmt.Errorf("invalid %s sdp: %w", want, err)
		}
	}
	return nil
}

// ValidateCandidate checks that raw decodes as an ICE candidate init.
// An empty candidate string is the end-of-candidates marker and is valid.
func ValidateCandidate(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("missing candidate")
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("invalid candidate: %w", err)
	}
	return nil
}
