package model

import "time"

// Participant: снимок личности участника на момент открытия диалога.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LastMessage struct {
	Body      string    `json:"body"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation: личный диалог двух пользователей, единственный для неупорядоченной пары.
// ParticipantIDs всегда хранится в каноническом (отсортированном) порядке.
type Conversation struct {
	ID             string            `json:"id"`
	ParticipantIDs [2]string         `json:"participant_ids"`
	Names          map[string]string `json:"names"`
	LastMessage    *LastMessage      `json:"last_message,omitempty"`
	Unread         map[string]int64  `json:"unread_count"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantIDs[0] == userID || c.ParticipantIDs[1] == userID
}

// Other возвращает участника, который не userID.
func (c *Conversation) Other(userID string) string {
	if c.ParticipantIDs[0] == userID {
		return c.ParticipantIDs[1]
	}
	return c.ParticipantIDs[0]
}

type DirectMessage struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	AuthorID       string       `json:"author_id"`
	AuthorName     string       `json:"author_name"`
	Body           string       `json:"body"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// PairKey возвращает канонический порядок двух ID пользователей.
func PairKey(a, b string) (low, high string) {
	if a > b {
		return b, a
	}
	return a, b
}
