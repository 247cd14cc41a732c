package domain

import "time"

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// ParseRole maps an arbitrary claim value onto a known role; unknown values are participants.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleModerator:
		return Role(s)
	default:
		return RoleParticipant
	}
}

// Privileged reports whether the role may act as a host in any room.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleModerator
}

// Identity is what the auth collaborator hands over for an admitted connection.
type Identity struct {
	ID   string
	Name string
	Role Role
}

type ParticipantInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Role   Role   `json:"role"`
}

type MediaState struct {
	AudioEnabled  bool `json:"audio_enabled"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

func DefaultMediaState() MediaState {
	return MediaState{AudioEnabled: true, VideoEnabled: true}
}

// Participant is a room member as reported by participant listings.
type Participant struct {
	ParticipantInfo
	MediaState MediaState `json:"media_state"`
	JoinedAt   time.Time  `json:"joined_at"`
	// BreakoutRoomID is set when the member is currently assigned to a breakout room.
	BreakoutRoomID string `json:"breakout_room_id,omitempty"`
}
