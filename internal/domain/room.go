package domain

import "time"

type RoomStatus string

const (
	RoomActive RoomStatus = "active"
	RoomPaused RoomStatus = "paused"
	RoomEnded  RoomStatus = "ended"
)

type RoomSettings struct {
	AllowRecording     bool `json:"allow_recording" yaml:"allowRecording"`
	AllowBreakoutRooms bool `json:"allow_breakout_rooms" yaml:"allowBreakoutRooms"`
	AllowChat          bool `json:"allow_chat" yaml:"allowChat"`
	AllowScreenSharing bool `json:"allow_screen_sharing" yaml:"allowScreenSharing"`
	MuteOnJoin         bool `json:"mute_participants_on_join" yaml:"muteOnJoin"`
	WaitingRoomEnabled bool `json:"waiting_room_enabled" yaml:"waitingRoomEnabled"`
}

func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		AllowRecording:     true,
		AllowBreakoutRooms: true,
		AllowChat:          true,
		AllowScreenSharing: true,
	}
}

// Room is a point-in-time copy of a room's state. Breakout rooms carry ParentID.
type Room struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	HostID          string        `json:"host_id"`
	Status          RoomStatus    `json:"status"`
	IsLocked        bool          `json:"is_locked"`
	IsRecording     bool          `json:"is_recording"`
	HasPassword     bool          `json:"has_password"`
	PasswordHash    string        `json:"-"`
	MaxParticipants int           `json:"max_participants"`
	Participants    []string      `json:"participants"`
	BreakoutIDs     []string      `json:"breakout_rooms"`
	ParentID        string        `json:"parent_room_id,omitempty"`
	AllowedUsers    []string      `json:"allowed_users,omitempty"`
	Duration        time.Duration `json:"-"`
	Settings        RoomSettings  `json:"settings"`
	CreatedAt       time.Time     `json:"created_at"`
}

func (r *Room) IsBreakout() bool { return r.ParentID != "" }

// IsHost reports whether id may perform host actions in the room.
func (r *Room) IsHost(id Identity) bool {
	return r.HostID == id.ID || id.Role.Privileged()
}

type BreakoutAssignment struct {
	UserID         string    `json:"user_id"`
	BreakoutRoomID string    `json:"breakout_room_id"`
	AssignedAt     time.Time `json:"assigned_at"`
	AutoAssigned   bool      `json:"auto_assigned"`
}

type RoomStats struct {
	ActiveRooms       int `json:"active_rooms"`
	TotalRooms        int `json:"total_rooms"`
	BreakoutRooms     int `json:"breakout_rooms"`
	TotalParticipants int `json:"total_participants"`
}

// RoomSummary is a top-level room with its live participant count.
type RoomSummary struct {
	Room
	ActiveParticipants int `json:"active_participants"`
}
