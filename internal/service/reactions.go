package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealhub/internal/metrics"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/storage"
)

type Reactions struct {
	messages  storage.MessageStore
	threads   storage.ThreadStore
	reactions storage.ReactionStore
	bus       storage.EventBus
	rep       reputation.Sink
	notifier  Notifier
}

func NewReactions(messages storage.MessageStore, threads storage.ThreadStore, reactions storage.ReactionStore, bus storage.EventBus, rep reputation.Sink, notifier Notifier) *Reactions {
	return &Reactions{messages: messages, threads: threads, reactions: reactions, bus: bus, rep: sinkOrDiscard(rep), notifier: notifier}
}

// Toggle переключает участие userID в reactions[emoji] цели. authorID: автор цели,
// как его знает вызывающий; если пуст, берётся из хранилища.
// Репутацию даёт только добавление реакции не автором, а ключ награды
// (цель, эмодзи, пользователь) делает повторное добавление после снятия бесплатным.
func (r *Reactions) Toggle(ctx context.Context, target model.Target, emoji, userID, authorID string) (bool, error) {
	if !target.Valid() {
		return false, ErrInvalidTarget
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return false, ErrEmptyEmoji
	}
	topics, storedAuthor, ref, err := r.resolve(ctx, target)
	if err != nil {
		return false, fmt.Errorf("reactions.Toggle: %w", err)
	}
	if authorID == "" {
		authorID = storedAuthor
	}
	added, err := r.reactions.Toggle(ctx, target, emoji, userID)
	if err != nil {
		return false, fmt.Errorf("reactions.Toggle: %w", err)
	}
	if added {
		metrics.ReactionToggles.WithLabelValues("added").Inc()
	} else {
		metrics.ReactionToggles.WithLabelValues("removed").Inc()
	}
	for _, topic := range topics {
		publish(ctx, r.bus, topic, KindReaction, target.ID)
	}
	if !added || authorID == userID {
		return added, nil
	}
	r.rep.Submit(reputation.Event{
		UserID:  authorID,
		Kind:    reputation.ReactionReceived,
		Key:     fmt.Sprintf("react:%s:%s:%s:%s", target.Kind, target.ID, emoji, userID),
		ActorID: userID,
	})
	notify(ctx, r.notifier, authorID, model.NotificationPayload{
		Kind:      model.NotifyReaction,
		ActorID:   userID,
		SourceID:  target.ID,
		ChannelID: ref.ChannelID,
		MessageID: ref.MessageID,
		Text:      fmt.Sprintf("Someone reacted %s to your %s", emoji, target.Kind),
	})
	return added, nil
}

func (r *Reactions) Reactions(ctx context.Context, target model.Target) (model.Reactions, error) {
	if !target.Valid() {
		return nil, ErrInvalidTarget
	}
	return r.reactions.Reactions(ctx, target)
}

type targetRef struct {
	ChannelID string
	MessageID string
}

// resolve возвращает топики, в которые публикуется изменение цели, и её автора.
func (r *Reactions) resolve(ctx context.Context, target model.Target) ([]string, string, targetRef, error) {
	switch target.Kind {
	case model.TargetMessage:
		m, err := r.messages.Get(ctx, target.ID)
		if err != nil {
			return nil, "", targetRef{}, err
		}
		return []string{storage.ChannelTopic(m.ChannelID)}, m.AuthorID, targetRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
	case model.TargetReply:
		rp, err := r.threads.GetReply(ctx, target.ID)
		if err != nil {
			return nil, "", targetRef{}, err
		}
		return []string{storage.ThreadTopic(rp.ParentMessageID)}, rp.AuthorID, targetRef{ChannelID: rp.ChannelID, MessageID: rp.ParentMessageID}, nil
	}
	return nil, "", targetRef{}, ErrInvalidTarget
}
