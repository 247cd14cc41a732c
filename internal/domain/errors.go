package domain

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrRoomLocked       = errors.New("room is locked")
	ErrInvalidPassword  = errors.New("invalid room password")
	ErrNotMember        = errors.New("user not in the room")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrNotAllowed       = errors.New("user is not allowed in this breakout room")
	ErrNotBreakout      = errors.New("room is not a breakout room")
	ErrTooManyBreakouts = errors.New("breakout room limit reached")
	ErrFeatureDisabled  = errors.New("feature disabled for this room")
	ErrInvalidStatus    = errors.New("invalid room status transition")
	ErrNestedBreakout   = errors.New("breakout rooms cannot be nested")
	ErrBreakoutJoin     = errors.New("breakout rooms are joined with join_breakout_room")
	ErrInvalidRoomName  = errors.New("room name is required")

	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
)
