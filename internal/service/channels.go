package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dealhub/internal/live"
	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/metrics"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/storage"
)

type SendMessage struct {
	ChannelID   string             `json:"channel_id"`
	Author      Author             `json:"-"`
	Body        string             `json:"body"`
	ImageURL    string             `json:"image_url,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	DealCard    *model.DealCard    `json:"deal_card,omitempty"`
	ReplyToID   string             `json:"reply_to_id,omitempty"`
	RequestID   string             `json:"request_id,omitempty"`
}

// Channels: упорядоченный журнал сообщений настроенных каналов.
type Channels struct {
	messages storage.MessageStore
	bus      storage.EventBus
	rep      reputation.Sink
	notifier Notifier
	channels []model.Channel
	byID     map[string]model.Channel
}

func NewChannels(messages storage.MessageStore, bus storage.EventBus, rep reputation.Sink, notifier Notifier, channels []model.Channel) *Channels {
	byID := make(map[string]model.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}
	return &Channels{
		messages: messages,
		bus:      bus,
		rep:      sinkOrDiscard(rep),
		notifier: notifier,
		channels: channels,
		byID:     byID,
	}
}

func (c *Channels) List() []model.Channel {
	return append([]model.Channel(nil), c.channels...)
}

func (c *Channels) Known(channelID string) bool {
	_, ok := c.byID[channelID]
	return ok
}

// Send добавляет сообщение. Отправка без содержимого отбрасывается: nil, nil.
// Повторный RequestID возвращает сохранённое сообщение без повторной награды.
func (c *Channels) Send(ctx context.Context, req SendMessage) (*model.Message, error) {
	if !c.Known(req.ChannelID) {
		return nil, ErrUnknownChannel
	}
	if !model.HasContent(req.Body, req.ImageURL, req.Attachments, req.DealCard) {
		return nil, nil
	}
	m := &model.Message{
		ChannelID:   req.ChannelID,
		AuthorID:    req.Author.ID,
		AuthorName:  req.Author.Name,
		Body:        strings.TrimSpace(req.Body),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		Attachments: req.Attachments,
		DealCard:    req.DealCard,
		ReplyToID:   req.ReplyToID,
	}
	created, err := c.messages.Append(ctx, m, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("channels.Send: %w", err)
	}
	if !created {
		return m, nil
	}
	metrics.MessagesSent.WithLabelValues("channel").Inc()
	publish(ctx, c.bus, storage.ChannelTopic(m.ChannelID), KindMessageCreated, m.ID)

	c.rep.Submit(reputation.Event{UserID: m.AuthorID, Kind: reputation.MessageSent})
	if m.DealCard != nil {
		c.rep.Submit(reputation.Event{UserID: m.AuthorID, Kind: reputation.DealShared})
	}
	return m, nil
}

func (c *Channels) Get(ctx context.Context, messageID string) (*model.Message, error) {
	return c.messages.Get(ctx, messageID)
}

// Edit заменяет текст. Пустой новый текст ничего не меняет.
func (c *Channels) Edit(ctx context.Context, messageID, newBody string) error {
	newBody = strings.TrimSpace(newBody)
	if newBody == "" {
		return nil
	}
	m, err := c.messages.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("channels.Edit: %w", err)
	}
	if err := c.messages.Edit(ctx, messageID, newBody, time.Now()); err != nil {
		return fmt.Errorf("channels.Edit: %w", err)
	}
	publish(ctx, c.bus, storage.ChannelTopic(m.ChannelID), KindMessageUpdated, messageID)
	return nil
}

func (c *Channels) SoftDelete(ctx context.Context, messageID, byUserID string) error {
	m, err := c.messages.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("channels.SoftDelete: %w", err)
	}
	if m.IsDeleted {
		return nil
	}
	if err := c.messages.SoftDelete(ctx, messageID, byUserID, time.Now()); err != nil {
		return fmt.Errorf("channels.SoftDelete: %w", err)
	}
	publish(ctx, c.bus, storage.ChannelTopic(m.ChannelID), KindMessageUpdated, messageID)
	return nil
}

// Pin закрепляет сообщение. Награду автору даёт только переход в закреплённое;
// ключ награды делает повторное закрепление после открепления бесплатным.
func (c *Channels) Pin(ctx context.Context, messageID string, by Author) error {
	m, err := c.messages.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("channels.Pin: %w", err)
	}
	changed, err := c.messages.Pin(ctx, messageID, by.ID, time.Now())
	if err != nil {
		return fmt.Errorf("channels.Pin: %w", err)
	}
	if !changed {
		return nil
	}
	publish(ctx, c.bus, storage.ChannelTopic(m.ChannelID), KindMessageUpdated, messageID)
	c.rep.Submit(reputation.Event{UserID: m.AuthorID, Kind: reputation.MessagePinned, Key: "pin:" + messageID, ActorID: by.ID})
	if m.AuthorID != by.ID {
		notify(ctx, c.notifier, m.AuthorID, model.NotificationPayload{
			Kind:      model.NotifyMessagePinned,
			ActorID:   by.ID,
			ActorName: by.Name,
			SourceID:  messageID,
			ChannelID: m.ChannelID,
			MessageID: messageID,
			Text:      fmt.Sprintf("%s pinned your message in #%s", by.Name, m.ChannelID),
		})
	}
	return nil
}

func (c *Channels) Unpin(ctx context.Context, messageID string) error {
	m, err := c.messages.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("channels.Unpin: %w", err)
	}
	changed, err := c.messages.Unpin(ctx, messageID)
	if err != nil {
		return fmt.Errorf("channels.Unpin: %w", err)
	}
	if changed {
		publish(ctx, c.bus, storage.ChannelTopic(m.ChannelID), KindMessageUpdated, messageID)
	}
	return nil
}

// Pinned возвращает закреплённые сообщения по убыванию pinnedAt.
func (c *Channels) Pinned(ctx context.Context, channelID string) ([]model.Message, error) {
	if !c.Known(channelID) {
		return nil, ErrUnknownChannel
	}
	return c.messages.Pinned(ctx, channelID)
}

// Latest возвращает самые новые сообщения (не больше 100) по возрастанию createdAt.
func (c *Channels) Latest(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("channels.Latest", time.Now())()
	if !c.Known(channelID) {
		return nil, ErrUnknownChannel
	}
	return c.messages.Latest(ctx, channelID, clampWindow(limit))
}

// Subscribe отдаёт последнее окно канала заново после каждого изменения.
func (c *Channels) Subscribe(ctx context.Context, channelID string, limit int) (*live.Subscription[[]model.Message], error) {
	if !c.Known(channelID) {
		return nil, ErrUnknownChannel
	}
	limit = clampWindow(limit)
	return live.Watch[[]model.Message](ctx, c.bus, []string{storage.ChannelTopic(channelID)}, func(ctx context.Context) ([]model.Message, error) {
		return c.messages.Latest(ctx, channelID, limit)
	})
}
