// Package push отправляет Web Push (VAPID) для уведомлений: подписки браузеров хранятся в Redis,
// отправка идёт напрямую через webpush-go.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/metrics"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

var ErrInvalidSubscription = errors.New("subscription requires endpoint, keys.p256dh and keys.auth")

// Subscription: подписка из браузера (PushSubscription.toJSON()).
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s Subscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// Message: JSON, который получает service worker.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Pusher хранит подписки и рассылает пуши. Без VAPID-ключей подписки сохраняются,
// отправка не выполняется.
type Pusher struct {
	redis *redis.Client
	vapid *webpush.Options
}

func New(rdb *redis.Client, keys *VAPIDKeys, subject string) *Pusher {
	p := &Pusher{redis: rdb}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		p.vapid = &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
			HTTPClient:      &http.Client{Timeout: 10 * time.Second},
		}
	}
	return p
}

// PublicKey возвращает VAPID-ключ для подписки в браузере; пустой, пуши отключены.
func (p *Pusher) PublicKey() string {
	if p == nil || p.vapid == nil {
		return ""
	}
	return p.vapid.VAPIDPublicKey
}

// Subscribe хранит maxSubsPerUser самых новых подписок пользователя.
func (p *Pusher) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	if !sub.Valid() {
		return ErrInvalidSubscription
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("push.Subscribe: %w", err)
	}
	if err := p.remove(ctx, userID, sub.Endpoint); err != nil {
		return fmt.Errorf("push.Subscribe: %w", err)
	}
	key := redisKeyPrefix + userID
	pipe := p.redis.TxPipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push.Subscribe: %w", err)
	}
	return nil
}

func (p *Pusher) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if err := p.remove(ctx, userID, endpoint); err != nil {
		return fmt.Errorf("push.Unsubscribe: %w", err)
	}
	return nil
}

func (p *Pusher) Subscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	list, err := p.redis.LRange(ctx, redisKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("push.Subscriptions: %w", err)
	}
	subs := make([]Subscription, 0, len(list))
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// Send доставляет msg во все подписки пользователя. Endpoint с ответом 404/410
// больше не существует и удаляется. Возвращает число принятых доставок.
func (p *Pusher) Send(ctx context.Context, userID string, msg Message) (int, error) {
	if p == nil || p.vapid == nil {
		return 0, nil
	}
	subs, err := p.Subscriptions(ctx, userID)
	if err != nil {
		return 0, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("push.Send: %w", err)
	}
	sent := 0
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, p.vapid)
		if err != nil {
			metrics.PushDeliveries.WithLabelValues("error").Inc()
			logger.Errorf("push send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			metrics.PushDeliveries.WithLabelValues("gone").Inc()
			if err := p.remove(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push prune %s: %v", shortEndpoint(sub.Endpoint), err)
			}
		case resp.StatusCode >= 300:
			metrics.PushDeliveries.WithLabelValues("error").Inc()
			logger.Warnf("push send %s: status %d", shortEndpoint(sub.Endpoint), resp.StatusCode)
		default:
			metrics.PushDeliveries.WithLabelValues("ok").Inc()
			sent++
		}
	}
	return sent, nil
}

func (p *Pusher) remove(ctx context.Context, userID, endpoint string) error {
	key := redisKeyPrefix + userID
	list, err := p.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			continue
		}
		if err := p.redis.LRem(ctx, key, 0, item).Err(); err != nil {
			return err
		}
	}
	return nil
}

func shortEndpoint(s string) string {
	s = strings.TrimPrefix(s, "https://")
	if len(s) > 50 {
		return s[:50]
	}
	return s
}
