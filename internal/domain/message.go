package domain

import "time"

type ChatMessage struct {
	ID         string    `json:"id" db:"id"`
	RoomID     string    `json:"room_id" db:"room_id"`
	SenderID   string    `json:"sender_id" db:"sender_id"`
	SenderName string    `json:"sender_name" db:"sender_name"`
	Body       string    `json:"message" db:"body"`
	CreatedAt  time.Time `json:"timestamp" db:"created_at"`
	IsSystem   bool      `json:"is_system_message" db:"is_system"`
}
