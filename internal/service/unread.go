package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

// Unread хранит отметки последнего прочтения по пользователю и каналу.
type Unread struct {
	store    storage.UnreadStore
	messages storage.MessageStore
	channels []model.Channel
	now      func() time.Time
}

func NewUnread(store storage.UnreadStore, messages storage.MessageStore, channels []model.Channel) *Unread {
	return &Unread{store: store, messages: messages, channels: channels, now: time.Now}
}

// MarkChannelRead записывает текущее время сервера как отметку пользователя.
func (u *Unread) MarkChannelRead(ctx context.Context, userID, channelID string) error {
	if err := u.store.SetWatermark(ctx, userID, channelID, u.now()); err != nil {
		return fmt.Errorf("unread.MarkChannelRead: %w", err)
	}
	return nil
}

// IsUnread false для канала, который у пользователя открыт.
func (u *Unread) IsUnread(ctx context.Context, userID, channelID, openChannelID string) (bool, error) {
	if channelID == openChannelID {
		return false, nil
	}
	marks, err := u.store.Watermarks(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("unread.IsUnread: %w", err)
	}
	return u.unread(ctx, channelID, marks)
}

// UnreadChannels возвращает id настроенных каналов с непросмотренными сообщениями.
func (u *Unread) UnreadChannels(ctx context.Context, userID, openChannelID string) ([]string, error) {
	marks, err := u.store.Watermarks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread.UnreadChannels: %w", err)
	}
	out := []string{}
	for _, ch := range u.channels {
		if ch.ID == openChannelID {
			continue
		}
		ok, err := u.unread(ctx, ch.ID, marks)
		if err != nil {
			return nil, fmt.Errorf("unread.UnreadChannels: %w", err)
		}
		if ok {
			out = append(out, ch.ID)
		}
	}
	return out, nil
}

func (u *Unread) unread(ctx context.Context, channelID string, marks map[string]time.Time) (bool, error) {
	latest, ok, err := u.messages.LatestAt(ctx, channelID)
	if err != nil || !ok {
		return false, err
	}
	mark, seen := marks[channelID]
	return !seen || latest.After(mark), nil
}
