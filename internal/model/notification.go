package model

import "time"

type NotificationKind string

const (
	NotifyReaction      NotificationKind = "reaction"
	NotifyThreadReply   NotificationKind = "thread_reply"
	NotifyDirectMessage NotificationKind = "direct_message"
	NotifyMessagePinned NotificationKind = "message_pinned"
	NotifyRankUp        NotificationKind = "rank_up"
	NotifyBadgeEarned   NotificationKind = "badge_earned"
	NotifySystem        NotificationKind = "system"
)

type NotificationPayload struct {
	Kind      NotificationKind `json:"kind"`
	ActorID   string           `json:"actor_id,omitempty"`
	ActorName string           `json:"actor_name,omitempty"`
	SourceID  string           `json:"source_id,omitempty"`
	ChannelID string           `json:"channel_id,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	Text      string           `json:"text"`
}

type Notification struct {
	ID        string              `json:"id"`
	OwnerID   string              `json:"owner_id"`
	Payload   NotificationPayload `json:"payload"`
	Read      bool                `json:"read"`
	CreatedAt time.Time           `json:"created_at"`
}

// Inbox: live-представление уведомлений пользователя, новые первыми, плюс число непрочитанных.
type Inbox struct {
	Items       []Notification `json:"items"`
	UnreadCount int64          `json:"unread_count"`
}
