package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

// notif:{owner}          ZSET id уведомлений по created_at
// notif:{owner}:unread   множество непрочитанных id
// notif:item:{id}        хеш: owner, payload (JSON), read, created_at
func notifListKey(ownerID string) string { return "notif:" + ownerID }

func notifUnreadKey(ownerID string) string { return "notif:" + ownerID + ":unread" }

func notifItemKey(id string) string { return "notif:item:" + id }

// addNotificationScript вставляет запись и обрезает входящие до capacity, удаляя
// самые старые вместе с их флагами непрочитанного.
// KEYS: list, unread, item. ARGV: id, owner, payload, created_at, capacity.
var addNotificationScript = redis.NewScript(`
redis.call("HSET", KEYS[3], "id", ARGV[1], "owner", ARGV[2], "payload", ARGV[3], "read", "0", "created_at", ARGV[4])
redis.call("ZADD", KEYS[1], ARGV[4], ARGV[1])
redis.call("SADD", KEYS[2], ARGV[1])
local cap = tonumber(ARGV[5])
local size = redis.call("ZCARD", KEYS[1])
if size > cap then
  local old = redis.call("ZRANGE", KEYS[1], 0, size - cap - 1)
  for _, id in ipairs(old) do
    redis.call("DEL", "notif:item:" .. id)
    redis.call("SREM", KEYS[2], id)
  end
  redis.call("ZREMRANGEBYRANK", KEYS[1], 0, size - cap - 1)
end
return 1
`)

var markReadScript = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) == false then
  return 0
end
redis.call("HSET", KEYS[3], "read", "1")
redis.call("SREM", KEYS[2], ARGV[1])
return 1
`)

var markAllReadScript = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[2])
for _, id in ipairs(ids) do
  redis.call("HSET", "notif:item:" .. id, "read", "1")
end
redis.call("DEL", KEYS[2])
return #ids
`)

type NotificationStore struct {
	cli      *redis.Client
	capacity int
}

var _ storage.NotificationStore = (*NotificationStore)(nil)

func (s *NotificationStore) Add(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("notificationStore.Add: %w", err)
	}
	keys := []string{notifListKey(n.OwnerID), notifUnreadKey(n.OwnerID), notifItemKey(n.ID)}
	if err := addNotificationScript.Run(ctx, s.cli, keys, n.ID, n.OwnerID, string(payload), micro(n.CreatedAt), s.capacity).Err(); err != nil {
		return fmt.Errorf("notificationStore.Add: %w", err)
	}
	return nil
}

// Recent возвращает до limit уведомлений, новые первыми.
func (s *NotificationStore) Recent(ctx context.Context, ownerID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		return []model.Notification{}, nil
	}
	ids, err := s.cli.ZRevRange(ctx, notifListKey(ownerID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("notificationStore.Recent: %w", err)
	}
	out := make([]model.Notification, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.cli.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, notifItemKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("notificationStore.Recent: %w", err)
	}
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		n := model.Notification{
			ID:        h["id"],
			OwnerID:   h["owner"],
			Read:      h["read"] == "1",
			CreatedAt: fromMicro(h["created_at"]),
		}
		if err := json.Unmarshal([]byte(h["payload"]), &n.Payload); err != nil {
			logger.Errorf("decode notification payload id=%s: %v", n.ID, err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *NotificationStore) UnreadCount(ctx context.Context, ownerID string) (int64, error) {
	n, err := s.cli.SCard(ctx, notifUnreadKey(ownerID)).Result()
	if err != nil {
		return 0, fmt.Errorf("notificationStore.UnreadCount: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, ownerID, id string) (bool, error) {
	keys := []string{notifListKey(ownerID), notifUnreadKey(ownerID), notifItemKey(id)}
	res, err := markReadScript.Run(ctx, s.cli, keys, id).Int64()
	if err != nil {
		return false, fmt.Errorf("notificationStore.MarkRead: %w", err)
	}
	return res == 1, nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, ownerID string) (int64, error) {
	keys := []string{notifListKey(ownerID), notifUnreadKey(ownerID)}
	n, err := markAllReadScript.Run(ctx, s.cli, keys).Int64()
	if err != nil {
		return 0, fmt.Errorf("notificationStore.MarkAllRead: %w", err)
	}
	return n, nil
}
