// Package redis реализует хранилища ядра поверх Redis: атомарные инкременты (HINCRBY),
// операции над множествами (SADD/SREM) и Lua-скрипты для проверок-с-записью.
// Pub/Sub используется как шина изменений для live-подписок.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/storage"
)

// requestTTL: сколько помним request_id для идемпотентных повторов отправки.
const requestTTL = 24 * time.Hour

type Client struct {
	cli *redis.Client
	bus *Bus
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, bus: newBus(cli)}, nil
}

// Wrap использует уже подключённый клиент go-redis.
func Wrap(cli *redis.Client) *Client {
	return &Client{cli: cli, bus: newBus(cli)}
}

func (c *Client) Close() error {
	if err := c.bus.Close(); err != nil {
		logger.Warnf("redis: bus close: %v", err)
	}
	return c.cli.Close()
}

// Raw отдаёт клиент компонентам со своими ключами (push-подписки).
func (c *Client) Raw() *redis.Client {
	return c.cli
}

func (c *Client) Messages() *MessageStore { return &MessageStore{cli: c.cli} }

func (c *Client) Threads() *ThreadStore { return &ThreadStore{cli: c.cli} }

func (c *Client) Reactions() *ReactionStore { return &ReactionStore{cli: c.cli} }

func (c *Client) Presence() *PresenceStore { return &PresenceStore{cli: c.cli} }

func (c *Client) Conversations() *ConversationStore { return &ConversationStore{cli: c.cli} }

// Notifications хранит не больше capacity записей во входящих.
func (c *Client) Notifications(capacity int) *NotificationStore {
	if capacity <= 0 {
		capacity = 200
	}
	return &NotificationStore{cli: c.cli, capacity: capacity}
}

func (c *Client) Unread() *UnreadStore { return &UnreadStore{cli: c.cli} }

func (c *Client) Profiles() *ProfileStore { return &ProfileStore{cli: c.cli} }

// Bus общий для всех пользователей клиента: одно соединение PUBSUB на процесс.
func (c *Client) Bus() *Bus { return c.bus }

// micro/fromMicro: все временные метки хранятся в микросекундах Unix,
// чтобы значения оставались точными в числах Lua (double).
func micro(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicro(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func optTime(s string) *time.Time {
	t := fromMicro(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func fmtOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(micro(*t), 10)
}

func toInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// scriptResult разбирает ответы {status, value} скриптов добавления.
func scriptResult(res any) (int64, any, error) {
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return 0, nil, fmt.Errorf("unexpected script reply %T", res)
	}
	status, ok := arr[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected script status %T", arr[0])
	}
	return status, arr[1], nil
}

// flatToMap превращает плоский ответ в духе HGETALL в map.
func flatToMap(v any) map[string]string {
	arr, _ := v.([]any)
	out := make(map[string]string, len(arr)/2)
	for i := 0; i+1 < len(arr); i += 2 {
		k, _ := arr[i].(string)
		val, _ := arr[i+1].(string)
		out[k] = val
	}
	return out
}

func notFound(err error) error {
	if errors.Is(err, redis.Nil) {
		return storage.ErrNotFound
	}
	return err
}

// hsetIfExists обновляет поля хеша, только если ключ уже существует.
var hsetIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

func updateExisting(ctx context.Context, cli *redis.Client, key string, fields ...any) error {
	ok, err := hsetIfExists.Run(ctx, cli, []string{key}, fields...).Int64()
	if err != nil {
		return err
	}
	if ok == 0 {
		return storage.ErrNotFound
	}
	return nil
}
