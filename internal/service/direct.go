package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/dealhub/internal/live"
	"github.com/dealhub/internal/metrics"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/storage"
)

type SendDirect struct {
	ConversationID string             `json:"conversation_id"`
	Author         Author             `json:"-"`
	Body           string             `json:"body"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
	RequestID      string             `json:"request_id,omitempty"`
}

// ConversationView: диалог вместе с live-окном сообщений.
type ConversationView struct {
	Conversation model.Conversation    `json:"conversation"`
	Messages     []model.DirectMessage `json:"messages"`
}

// Direct маршрутизирует личные сообщения. Единственность диалога на пару гарантирует
// хранилище; singleflight лишь схлопывает одинаковые вызовы внутри процесса.
type Direct struct {
	store    storage.ConversationStore
	bus      storage.EventBus
	rep      reputation.Sink
	notifier Notifier
	group    singleflight.Group
}

func NewDirect(store storage.ConversationStore, bus storage.EventBus, rep reputation.Sink, notifier Notifier) *Direct {
	return &Direct{store: store, bus: bus, rep: sinkOrDiscard(rep), notifier: notifier}
}

func (d *Direct) FindOrCreate(ctx context.Context, a, b model.Participant) (string, error) {
	if a.ID == "" || b.ID == "" {
		return "", fmt.Errorf("direct.FindOrCreate: empty participant")
	}
	if a.ID == b.ID {
		return "", ErrSelfConversation
	}
	low, high := model.PairKey(a.ID, b.ID)
	v, err, _ := d.group.Do(low+"|"+high, func() (any, error) {
		id, created, err := d.store.FindOrCreate(ctx, a, b)
		if err != nil {
			return "", err
		}
		if created {
			publish(ctx, d.bus, storage.InboxTopic(a.ID), KindConversation, id)
			publish(ctx, d.bus, storage.InboxTopic(b.ID), KindConversation, id)
		}
		return id, nil
	})
	if err != nil {
		return "", fmt.Errorf("direct.FindOrCreate: %w", err)
	}
	return v.(string), nil
}

func (d *Direct) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return d.store.Get(ctx, conversationID)
}

// Send добавляет личное сообщение, заменяет снимок последнего сообщения и увеличивает
// счётчик непрочитанных собеседника. Пустое содержимое отбрасывается: nil, nil.
func (d *Direct) Send(ctx context.Context, req SendDirect) (*model.DirectMessage, error) {
	if !model.HasContent(req.Body, "", req.Attachments, nil) {
		return nil, nil
	}
	conv, err := d.store.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("direct.Send: %w", err)
	}
	if !conv.HasParticipant(req.Author.ID) {
		return nil, ErrNotParticipant
	}
	recipient := conv.Other(req.Author.ID)
	dm := &model.DirectMessage{
		ConversationID: conv.ID,
		AuthorID:       req.Author.ID,
		AuthorName:     req.Author.Name,
		Body:           strings.TrimSpace(req.Body),
		Attachments:    req.Attachments,
	}
	created, err := d.store.AppendDirect(ctx, dm, recipient, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("direct.Send: %w", err)
	}
	if !created {
		return dm, nil
	}
	metrics.MessagesSent.WithLabelValues("direct").Inc()
	publish(ctx, d.bus, storage.ConversationTopic(conv.ID), KindDirectMessage, dm.ID)
	publish(ctx, d.bus, storage.InboxTopic(req.Author.ID), KindConversation, conv.ID)
	publish(ctx, d.bus, storage.InboxTopic(recipient), KindConversation, conv.ID)

	d.rep.Submit(reputation.Event{UserID: dm.AuthorID, Kind: reputation.DirectMessageSent})
	text := excerpt(dm.Body, 80)
	if text == "" && len(dm.Attachments) > 0 {
		text = "sent an attachment"
	}
	notify(ctx, d.notifier, recipient, model.NotificationPayload{
		Kind:      model.NotifyDirectMessage,
		ActorID:   dm.AuthorID,
		ActorName: dm.AuthorName,
		SourceID:  conv.ID,
		MessageID: dm.ID,
		Text:      fmt.Sprintf("%s: %s", dm.AuthorName, text),
	})
	return dm, nil
}

// MarkRead обнуляет unreadCount[userID]; счётчик собеседника не трогается.
func (d *Direct) MarkRead(ctx context.Context, conversationID, userID string) error {
	conv, err := d.store.Get(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("direct.MarkRead: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return ErrNotParticipant
	}
	if conv.Unread[userID] == 0 {
		return nil
	}
	if err := d.store.ResetUnread(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("direct.MarkRead: %w", err)
	}
	publish(ctx, d.bus, storage.InboxTopic(userID), KindConversation, conversationID)
	return nil
}

// Conversations перечисляет диалоги пользователя, последние активные первыми.
func (d *Direct) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	return d.store.ListFor(ctx, userID)
}

func (d *Direct) Messages(ctx context.Context, conversationID string, limit int) ([]model.DirectMessage, error) {
	return d.store.Messages(ctx, conversationID, clampWindow(limit))
}

func (d *Direct) Subscribe(ctx context.Context, conversationID string) (*live.Subscription[ConversationView], error) {
	return live.Watch[ConversationView](ctx, d.bus, []string{storage.ConversationTopic(conversationID)}, func(ctx context.Context) (ConversationView, error) {
		conv, err := d.store.Get(ctx, conversationID)
		if err != nil {
			return ConversationView{}, err
		}
		msgs, err := d.store.Messages(ctx, conversationID, MaxWindow)
		if err != nil {
			return ConversationView{}, err
		}
		return ConversationView{Conversation: *conv, Messages: msgs}, nil
	})
}

func (d *Direct) SubscribeInbox(ctx context.Context, userID string) (*live.Subscription[[]model.Conversation], error) {
	return live.Watch[[]model.Conversation](ctx, d.bus, []string{storage.InboxTopic(userID)}, func(ctx context.Context) ([]model.Conversation, error) {
		return d.store.ListFor(ctx, userID)
	})
}
