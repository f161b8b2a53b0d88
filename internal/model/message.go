package model

import (
	"sort"
	"strings"
	"time"
)

// DeletedPlaceholder заменяет текст мягко удалённого сообщения для всех, кроме админов.
const DeletedPlaceholder = "This message was deleted"

type Channel struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`
}

// Attachment: дескриптор файла из blob-хранилища; сами байты ядро не хранит.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// DealCard: структурированная карточка сделки, которой участник делится в канале.
type DealCard struct {
	Title      string `json:"title"`
	Address    string `json:"address,omitempty"`
	DealType   string `json:"deal_type,omitempty"`
	Price      int64  `json:"price,omitempty"`
	ARV        int64  `json:"arv,omitempty"`
	RepairCost int64  `json:"repair_cost,omitempty"`
	Link       string `json:"link,omitempty"`
}

// Reactions: эмодзи -> отсортированное множество ID пользователей, поставивших реакцию.
type Reactions map[string][]string

// Has сообщает, ставил ли userID реакцию emoji.
func (r Reactions) Has(emoji, userID string) bool {
	for _, u := range r[emoji] {
		if u == userID {
			return true
		}
	}
	return false
}

// Normalize сортирует списки пользователей и отбрасывает пустые эмодзи.
func (r Reactions) Normalize() Reactions {
	out := make(Reactions, len(r))
	for emoji, users := range r {
		if len(users) == 0 {
			continue
		}
		cp := append([]string(nil), users...)
		sort.Strings(cp)
		out[emoji] = cp
	}
	return out
}

type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	AuthorID    string       `json:"author_id"`
	AuthorName  string       `json:"author_name"`
	Body        string       `json:"body"`
	ImageURL    string       `json:"image_url,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	DealCard    *DealCard    `json:"deal_card,omitempty"`
	ReplyToID   string       `json:"reply_to_id,omitempty"`
	ReplyCount  int64        `json:"reply_count"`
	Reactions   Reactions    `json:"reactions"`

	IsPinned bool       `json:"is_pinned"`
	PinnedAt *time.Time `json:"pinned_at,omitempty"`
	PinnedBy string     `json:"pinned_by,omitempty"`

	IsEdited bool       `json:"is_edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ViewFor возвращает сообщение так, как его должен видеть viewer: админ видит
// запись целиком, остальные после мягкого удаления видят заглушку.
func (m Message) ViewFor(isAdmin bool) Message {
	if !m.IsDeleted || isAdmin {
		return m
	}
	m.Body = DeletedPlaceholder
	m.ImageURL = ""
	m.Attachments = nil
	m.DealCard = nil
	m.Reactions = Reactions{}
	return m
}

type Reply struct {
	ID              string       `json:"id"`
	ParentMessageID string       `json:"parent_message_id"`
	ChannelID       string       `json:"channel_id"`
	AuthorID        string       `json:"author_id"`
	AuthorName      string       `json:"author_name"`
	Body            string       `json:"body"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Reactions       Reactions    `json:"reactions"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (r Reply) ViewFor(isAdmin bool) Reply {
	if !r.IsDeleted || isAdmin {
		return r
	}
	r.Body = DeletedPlaceholder
	r.Attachments = nil
	r.Reactions = Reactions{}
	return r
}

// HasContent сообщает, есть ли в отправке что сохранять.
// Текст из одних пробелов без вложений вызывающий код молча отбрасывает.
func HasContent(body, imageURL string, attachments []Attachment, card *DealCard) bool {
	return strings.TrimSpace(body) != "" || strings.TrimSpace(imageURL) != "" || len(attachments) > 0 || card != nil
}

// TargetKind различает цели реакций.
type TargetKind string

const (
	TargetMessage TargetKind = "message"
	TargetReply   TargetKind = "reply"
)

type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func (t Target) Valid() bool {
	return (t.Kind == TargetMessage || t.Kind == TargetReply) && t.ID != ""
}
