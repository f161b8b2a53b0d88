package model

import "time"

// PresenceRecord: одна запись на пользователя, перезаписывается на месте.
type PresenceRecord struct {
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name"`
	IsOnline        bool      `json:"is_online"`
	IsTyping        bool      `json:"is_typing"`
	TypingChannelID string    `json:"typing_channel_id,omitempty"`
	LastSeen        time.Time `json:"last_seen"`
}
