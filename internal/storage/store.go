// Package storage описывает контракты хранилищ ядра сообщений и репутации.
// Реализации: storage/redis (все хранилища), repository (PostgreSQL: профили и личные диалоги),
// storage/memory (шина событий в процессе для одного узла и тестов).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dealhub/internal/model"
)

var ErrNotFound = errors.New("not found")

// MessageStore: упорядоченный журнал сообщений канала.
type MessageStore interface {
	// Append назначает CreatedAt (строго возрастает в пределах канала) и сохраняет m.
	// Повторный requestID возвращает сохранённое сообщение в m и created=false.
	Append(ctx context.Context, m *model.Message, requestID string) (created bool, err error)
	Get(ctx context.Context, id string) (*model.Message, error)
	// Latest возвращает до limit последних сообщений по возрастанию CreatedAt.
	Latest(ctx context.Context, channelID string, limit int) ([]model.Message, error)
	// LatestAt возвращает CreatedAt самого нового сообщения; ok=false для пустого канала.
	LatestAt(ctx context.Context, channelID string) (at time.Time, ok bool, err error)
	Edit(ctx context.Context, id, body string, at time.Time) error
	SoftDelete(ctx context.Context, id, byUserID string, at time.Time) error
	// Pin возвращает changed=false, если сообщение уже закреплено.
	Pin(ctx context.Context, id, byUserID string, at time.Time) (changed bool, err error)
	Unpin(ctx context.Context, id string) (changed bool, err error)
	// Pinned возвращает закреплённые сообщения по убыванию PinnedAt.
	Pinned(ctx context.Context, channelID string) ([]model.Message, error)
}

// ThreadStore хранит ответы в рамках родительского сообщения.
type ThreadStore interface {
	// AppendReply сохраняет r и увеличивает счётчик ответов родителя за один атомарный шаг.
	AppendReply(ctx context.Context, r *model.Reply, requestID string) (created bool, err error)
	GetReply(ctx context.Context, id string) (*model.Reply, error)
	Replies(ctx context.Context, parentID string) ([]model.Reply, error)
	SoftDeleteReply(ctx context.Context, id, byUserID string, at time.Time) error
}

// ReactionStore переключает участие пользователя в reactions[emoji] цели.
type ReactionStore interface {
	Toggle(ctx context.Context, target model.Target, emoji, userID string) (added bool, err error)
	Reactions(ctx context.Context, target model.Target) (model.Reactions, error)
}

type PresenceStore interface {
	Upsert(ctx context.Context, rec model.PresenceRecord) error
	Touch(ctx context.Context, userID string, at time.Time) error
	SetOffline(ctx context.Context, userID string, at time.Time) error
	SetTyping(ctx context.Context, userID, channelID string, typing bool) error
	Get(ctx context.Context, userID string) (*model.PresenceRecord, error)
	Online(ctx context.Context) ([]model.PresenceRecord, error)
	// StaleOnline перечисляет онлайн-пользователей с LastSeen раньше cutoff.
	StaleOnline(ctx context.Context, before time.Time) ([]string, error)
}

// ConversationStore хранит личные диалоги двух участников и их сообщения.
type ConversationStore interface {
	// FindOrCreate возвращает единственный диалог для неупорядоченной пары {a, b}.
	FindOrCreate(ctx context.Context, a, b model.Participant) (id string, created bool, err error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	ListFor(ctx context.Context, userID string) ([]model.Conversation, error)
	// AppendDirect сохраняет dm, заменяет снимок последнего сообщения и добавляет 1
	// к счётчику непрочитанных получателя.
	AppendDirect(ctx context.Context, dm *model.DirectMessage, recipientID, requestID string) (created bool, err error)
	Messages(ctx context.Context, conversationID string, limit int) ([]model.DirectMessage, error)
	ResetUnread(ctx context.Context, conversationID, userID string) error
}

type NotificationStore interface {
	Add(ctx context.Context, n *model.Notification) error
	Recent(ctx context.Context, ownerID string, limit int) ([]model.Notification, error)
	UnreadCount(ctx context.Context, ownerID string) (int64, error)
	// MarkRead возвращает false, если id неизвестен для ownerID.
	MarkRead(ctx context.Context, ownerID, id string) (bool, error)
	MarkAllRead(ctx context.Context, ownerID string) (int64, error)
}

type UnreadStore interface {
	SetWatermark(ctx context.Context, userID, channelID string, at time.Time) error
	Watermarks(ctx context.Context, userID string) (map[string]time.Time, error)
}

// ProfileStore: каноническая запись пользователя. Статистика меняется только через ApplyAward.
type ProfileStore interface {
	Ensure(ctx context.Context, id, displayName string) (*model.UserProfile, error)
	Get(ctx context.Context, id string) (*model.UserProfile, error)
	// ApplyAward атомарно добавляет deltas к статистике. Непустой key делает награду
	// идемпотентной: уже виденный ключ не трогает статистику и даёт applied=false.
	// Возвращаемая статистика читается после записи.
	ApplyAward(ctx context.Context, userID, key string, deltas map[string]int64) (applied bool, stats map[string]int64, err error)
	// AddBadges: объединение множеств; возвращает значки, которых раньше не было.
	AddBadges(ctx context.Context, userID string, badges []string) (added []string, err error)
	SetAvatar(ctx context.Context, id, url string) error
	SetRole(ctx context.Context, id string, role model.Role) error
	// Leaderboard возвращает n профилей с наибольшим XP.
	Leaderboard(ctx context.Context, n int) ([]model.UserProfile, error)
}

// Change: уведомление о том, что данные за Topic изменились.
type Change struct {
	Topic string `json:"topic"`
	Kind  string `json:"kind"`
	ID    string `json:"id,omitempty"`
}

type ChangeStream interface {
	C() <-chan Change
	Close() error
}

// EventBus раздаёт события изменений live-подпискам.
type EventBus interface {
	Publish(ctx context.Context, ch Change) error
	Subscribe(ctx context.Context, topics ...string) (ChangeStream, error)
}

func ChannelTopic(channelID string) string { return "channel:" + channelID }
func ThreadTopic(parentID string) string { return "thread:" + parentID }
func ConversationTopic(convID string) string { return "conversation:" + convID }
func InboxTopic(userID string) string { return "dm-inbox:" + userID }
func NotificationTopic(ownerID string) string { return "notifications:" + ownerID }
func ProfileTopic(userID string) string { return "profile:" + userID }

const PresenceTopic = "presence"
