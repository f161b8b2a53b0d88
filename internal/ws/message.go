package ws

import "encoding/json"

type EventType string

// Client → server.
const (
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventTyping      EventType = "typing"
	EventHeartbeat   EventType = "heartbeat"
	EventMarkRead    EventType = "mark_read"
)

// Server → client.
const (
	EventSnapshot          EventType = "snapshot"
	EventSubscribed        EventType = "subscribed"
	EventUnsubscribed      EventType = "unsubscribed"
	EventSubscriptionError EventType = "subscription_error"
	EventPong              EventType = "pong"
	EventError             EventType = "error"
)

// Topic names a live view a client can subscribe to.
type Topic string

const (
	TopicChannel       Topic = "channel"
	TopicThread        Topic = "thread"
	TopicConversation  Topic = "conversation"
	TopicInbox         Topic = "dm_inbox"
	TopicNotifications Topic = "notifications"
	TopicPresence      Topic = "presence"
	TopicProfile       Topic = "profile"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`
	// SubID is chosen by the client and echoed on every snapshot of the subscription.
	SubID string `json:"sub_id,omitempty"`
	Topic Topic  `json:"topic,omitempty"`

	ChannelID      string `json:"channel_id,omitempty"`
	ParentID       string `json:"parent_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`

	IsTyping bool `json:"is_typing,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	SubID   string    `json:"sub_id,omitempty"`
	Topic   Topic     `json:"topic,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// decodeIncoming is lenient about unknown fields so newer clients keep working.
func decodeIncoming(raw []byte) (IncomingMessage, error) {
	var msg IncomingMessage
	err := json.Unmarshal(raw, &msg)
	return msg, err
}
