package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dealhub/internal/live"
	"github.com/dealhub/internal/metrics"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/storage"
)

type PostReply struct {
	ParentID    string             `json:"parent_id"`
	Author      Author             `json:"-"`
	Body        string             `json:"body"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	RequestID   string             `json:"request_id,omitempty"`
}

// Threads хранит ответы в рамках одного родительского сообщения.
type Threads struct {
	messages storage.MessageStore
	threads  storage.ThreadStore
	bus      storage.EventBus
	rep      reputation.Sink
	notifier Notifier
}

func NewThreads(messages storage.MessageStore, threads storage.ThreadStore, bus storage.EventBus, rep reputation.Sink, notifier Notifier) *Threads {
	return &Threads{messages: messages, threads: threads, bus: bus, rep: sinkOrDiscard(rep), notifier: notifier}
}

// Reply добавляет ответ в тред родителя; счётчик ответов родителя меняется тем же
// шагом хранилища. Пустое содержимое отбрасывается: nil, nil.
func (t *Threads) Reply(ctx context.Context, req PostReply) (*model.Reply, error) {
	if !model.HasContent(req.Body, "", req.Attachments, nil) {
		return nil, nil
	}
	parent, err := t.messages.Get(ctx, req.ParentID)
	if err != nil {
		return nil, fmt.Errorf("threads.Reply: %w", err)
	}
	r := &model.Reply{
		ParentMessageID: parent.ID,
		ChannelID:       parent.ChannelID,
		AuthorID:        req.Author.ID,
		AuthorName:      req.Author.Name,
		Body:            strings.TrimSpace(req.Body),
		Attachments:     req.Attachments,
	}
	created, err := t.threads.AppendReply(ctx, r, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("threads.Reply: %w", err)
	}
	if !created {
		return r, nil
	}
	metrics.MessagesSent.WithLabelValues("reply").Inc()
	publish(ctx, t.bus, storage.ThreadTopic(parent.ID), KindReplyCreated, r.ID)
	// replyCount родителя изменился, окно канала тоже перечитывается
	publish(ctx, t.bus, storage.ChannelTopic(parent.ChannelID), KindMessageUpdated, parent.ID)

	t.rep.Submit(reputation.Event{UserID: r.AuthorID, Kind: reputation.ReplySent})
	if parent.AuthorID != r.AuthorID {
		t.rep.Submit(reputation.Event{
			UserID:  parent.AuthorID,
			Kind:    reputation.ThreadReplyReceived,
			ActorID: r.AuthorID,
		})
		notify(ctx, t.notifier, parent.AuthorID, model.NotificationPayload{
			Kind:      model.NotifyThreadReply,
			ActorID:   r.AuthorID,
			ActorName: r.AuthorName,
			SourceID:  r.ID,
			ChannelID: parent.ChannelID,
			MessageID: parent.ID,
			Text:      fmt.Sprintf("%s replied: %s", r.AuthorName, excerpt(r.Body, 80)),
		})
	}
	return r, nil
}

// Replies возвращает тред по возрастанию createdAt.
func (t *Threads) Replies(ctx context.Context, parentID string) ([]model.Reply, error) {
	return t.threads.Replies(ctx, parentID)
}

func (t *Threads) GetReply(ctx context.Context, id string) (*model.Reply, error) {
	return t.threads.GetReply(ctx, id)
}

func (t *Threads) SoftDeleteReply(ctx context.Context, replyID, byUserID string) error {
	r, err := t.threads.GetReply(ctx, replyID)
	if err != nil {
		return fmt.Errorf("threads.SoftDeleteReply: %w", err)
	}
	if r.IsDeleted {
		return nil
	}
	if err := t.threads.SoftDeleteReply(ctx, replyID, byUserID, time.Now()); err != nil {
		return fmt.Errorf("threads.SoftDeleteReply: %w", err)
	}
	publish(ctx, t.bus, storage.ThreadTopic(r.ParentMessageID), KindReplyUpdated, replyID)
	return nil
}

func (t *Threads) Subscribe(ctx context.Context, parentID string) (*live.Subscription[[]model.Reply], error) {
	return live.Watch[[]model.Reply](ctx, t.bus, []string{storage.ThreadTopic(parentID)}, func(ctx context.Context) ([]model.Reply, error) {
		return t.threads.Replies(ctx, parentID)
	})
}
