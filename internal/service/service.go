// Package service содержит прикладной слой ядра: команды (отправка, реакции, закрепление,
// присутствие, личные сообщения, уведомления) поверх интерфейсов storage.
// Сервисы пишут в хранилище, затем публикуют изменение в шину; события репутации
// отправляются асинхронно и не влияют на исход основной операции.
package service

import (
	"context"
	"errors"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/storage"
)

var (
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrNotParticipant   = errors.New("user is not a participant of the conversation")
	ErrSelfConversation = errors.New("cannot open a conversation with yourself")
	ErrInvalidTarget    = errors.New("invalid reaction target")
	ErrEmptyEmoji       = errors.New("empty emoji")
	ErrInvalidRole      = errors.New("unknown role")
)

// MaxWindow ограничивает любое live-окно сообщений.
const MaxWindow = 100

// Виды изменений, публикуемых в шину.
const (
	KindMessageCreated = "message.created"
	KindMessageUpdated = "message.updated"
	KindReplyCreated   = "reply.created"
	KindReplyUpdated   = "reply.updated"
	KindReaction       = "reaction"
	KindPresence       = "presence"
	KindConversation   = "conversation"
	KindDirectMessage  = "dm.created"
	KindNotification   = "notification"
	KindProfile        = "profile"
)

// Author: действующий пользователь, как его удостоверил провайдер идентичности.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Notifier добавляет запись во входящие пользователя. Реализуется *Notifications.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, p model.NotificationPayload) (*model.Notification, error)
}

type discardSink struct{}

func (discardSink) Submit(reputation.Event) {}

func sinkOrDiscard(s reputation.Sink) reputation.Sink {
	if s == nil {
		return discardSink{}
	}
	return s
}

// publish не гарантирует доставку: запись уже сделана, подписчики догонят на следующем изменении.
func publish(ctx context.Context, bus storage.EventBus, topic, kind, id string) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, storage.Change{Topic: topic, Kind: kind, ID: id}); err != nil {
		logger.Errorf("publish %s %s: %v", topic, kind, err)
	}
}

func notify(ctx context.Context, n Notifier, ownerID string, p model.NotificationPayload) {
	if n == nil || ownerID == "" {
		return
	}
	if _, err := n.Notify(ctx, ownerID, p); err != nil {
		logger.Errorf("notify user=%s kind=%s: %v", ownerID, p.Kind, err)
	}
}

func clampWindow(limit int) int {
	if limit <= 0 || limit > MaxWindow {
		return MaxWindow
	}
	return limit
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
