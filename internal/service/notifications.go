package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dealhub/internal/live"
	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/metrics"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/push"
	"github.com/dealhub/internal/storage"
)

const DefaultRecentNotifications = 20

// Pusher доставляет уведомление вне приложения. Реализуется *push.Pusher.
type Pusher interface {
	Send(ctx context.Context, userID string, msg push.Message) (int, error)
}

// Notifications: входящие уведомления пользователя с необязательной рассылкой Web Push.
type Notifications struct {
	store  storage.NotificationStore
	bus    storage.EventBus
	pusher Pusher
	recent int

	pushing sync.WaitGroup
}

var _ Notifier = (*Notifications)(nil)

func NewNotifications(store storage.NotificationStore, bus storage.EventBus, pusher Pusher, recent int) *Notifications {
	if recent <= 0 {
		recent = DefaultRecentNotifications
	}
	return &Notifications{store: store, bus: bus, pusher: pusher, recent: recent}
}

// Notify добавляет непрочитанное уведомление. Пуш уходит в фоне
// и никогда не ломает вызов.
func (n *Notifications) Notify(ctx context.Context, ownerID string, p model.NotificationPayload) (*model.Notification, error) {
	item := &model.Notification{OwnerID: ownerID, Payload: p, CreatedAt: time.Now().UTC()}
	if err := n.store.Add(ctx, item); err != nil {
		return nil, fmt.Errorf("notifications.Notify: %w", err)
	}
	metrics.NotificationsSent.Inc()
	publish(ctx, n.bus, storage.NotificationTopic(ownerID), KindNotification, item.ID)

	if n.pusher != nil {
		n.pushing.Add(1)
		go func() {
			defer n.pushing.Done()
			pctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			msg := push.Message{
				Title: pushTitle(p.Kind),
				Body:  p.Text,
				Data:  map[string]string{"kind": string(p.Kind), "id": item.ID, "channel_id": p.ChannelID, "message_id": p.MessageID},
			}
			if _, err := n.pusher.Send(pctx, ownerID, msg); err != nil {
				logger.Errorf("push user=%s: %v", ownerID, err)
			}
		}()
	}
	return item, nil
}

// WaitPush ждёт завершения фоновых пушей.
func (n *Notifications) WaitPush() {
	n.pushing.Wait()
}

// Recent возвращает новые уведомления и общее число непрочитанных.
func (n *Notifications) Recent(ctx context.Context, ownerID string) (model.Inbox, error) {
	items, err := n.store.Recent(ctx, ownerID, n.recent)
	if err != nil {
		return model.Inbox{}, fmt.Errorf("notifications.Recent: %w", err)
	}
	unread, err := n.store.UnreadCount(ctx, ownerID)
	if err != nil {
		return model.Inbox{}, fmt.Errorf("notifications.Recent: %w", err)
	}
	return model.Inbox{Items: items, UnreadCount: unread}, nil
}

// MarkRead ничего не делает для неизвестного id или чужого уведомления.
func (n *Notifications) MarkRead(ctx context.Context, ownerID, id string) error {
	ok, err := n.store.MarkRead(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("notifications.MarkRead: %w", err)
	}
	if ok {
		publish(ctx, n.bus, storage.NotificationTopic(ownerID), KindNotification, id)
	}
	return nil
}

func (n *Notifications) MarkAllRead(ctx context.Context, ownerID string) error {
	count, err := n.store.MarkAllRead(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("notifications.MarkAllRead: %w", err)
	}
	if count > 0 {
		publish(ctx, n.bus, storage.NotificationTopic(ownerID), KindNotification, "")
	}
	return nil
}

func (n *Notifications) Subscribe(ctx context.Context, ownerID string) (*live.Subscription[model.Inbox], error) {
	return live.Watch[model.Inbox](ctx, n.bus, []string{storage.NotificationTopic(ownerID)}, func(ctx context.Context) (model.Inbox, error) {
		return n.Recent(ctx, ownerID)
	})
}

func pushTitle(kind model.NotificationKind) string {
	switch kind {
	case model.NotifyReaction:
		return "New reaction"
	case model.NotifyThreadReply:
		return "New reply"
	case model.NotifyDirectMessage:
		return "New message"
	case model.NotifyMessagePinned:
		return "Message pinned"
	case model.NotifyRankUp:
		return "Rank up!"
	case model.NotifyBadgeEarned:
		return "Badge earned"
	}
	return "DealHub"
}
