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

// Ключи:
//   msg:{id}                 хеш сообщения
//   channel:{id}:messages    ZSET id по created_at (мкс)
//   channel:{id}:clock       последняя выданная метка времени канала
//   channel:{id}:pinned      ZSET id по pinned_at
//   req:msg:{request_id}     id сообщения для идемпотентного повтора
func msgKey(id string) string { return "msg:" + id }
func channelMsgsKey(id string) string { return "channel:" + id + ":messages" }
func channelClockKey(id string) string { return "channel:" + id + ":clock" }
func channelPinnedKey(id string) string { return "channel:" + id + ":pinned" }
func msgRequestKey(reqID string) string { return "req:msg:" + reqID }

// appendScript назначает created_at = max(now, last+1), поэтому порядок в канале
// строго возрастает, даже если два сообщения пришли в одну микросекунду.
// KEYS: record, index zset, clock, request key. ARGV: id, now, has_request, ttl_sec, пары field/value...
var appendScript = redis.NewScript(`
if ARGV[3] == "1" then
  local existing = redis.call("GET", KEYS[4])
  if existing then
    return {0, existing}
  end
end
local now = tonumber(ARGV[2])
local last = tonumber(redis.call("GET", KEYS[3]) or "0")
if now <= last then
  now = last + 1
end
redis.call("SET", KEYS[3], now)
local fields = {}
for i = 5, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[1], unpack(fields))
redis.call("HSET", KEYS[1], "created_at", now)
redis.call("ZADD", KEYS[2], now, ARGV[1])
if ARGV[3] == "1" then
  redis.call("SET", KEYS[4], ARGV[1], "EX", tonumber(ARGV[4]))
end
return {1, now}
`)

var pinScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "pinned") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "pinned", "1", "pinned_at", ARGV[2], "pinned_by", ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

var unpinScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "pinned") ~= "1" then
  return 0
end
redis.call("HSET", KEYS[1], "pinned", "0")
redis.call("HDEL", KEYS[1], "pinned_at", "pinned_by")
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

type MessageStore struct {
	cli *redis.Client
}

var _ storage.MessageStore = (*MessageStore)(nil)

func (s *MessageStore) Append(ctx context.Context, m *model.Message, requestID string) (bool, error) {
	defer logger.DeferLogDuration("messageStore.Append", time.Now())()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	args := []any{m.ID, micro(m.CreatedAt), boolStr(requestID != ""), int64(requestTTL / time.Second)}
	args = append(args,
		"id", m.ID,
		"channel_id", m.ChannelID,
		"author_id", m.AuthorID,
		"author_name", m.AuthorName,
		"body", m.Body,
		"image_url", m.ImageURL,
		"attachments", encodeJSON(m.Attachments),
		"deal_card", encodeJSON(m.DealCard),
		"reply_to_id", m.ReplyToID,
		"reply_count", 0,
		"pinned", "0",
		"edited", "0",
		"deleted", "0",
	)
	keys := []string{msgKey(m.ID), channelMsgsKey(m.ChannelID), channelClockKey(m.ChannelID), msgRequestKey(requestID)}
	res, err := appendScript.Run(ctx, s.cli, keys, args...).Result()
	if err != nil {
		return false, fmt.Errorf("messageStore.Append: %w", err)
	}
	status, val, err := scriptResult(res)
	if err != nil {
		return false, fmt.Errorf("messageStore.Append: %w", err)
	}
	if status == 0 {
		existingID, _ := val.(string)
		stored, err := s.Get(ctx, existingID)
		if err != nil {
			return false, fmt.Errorf("messageStore.Append replay: %w", err)
		}
		*m = *stored
		return false, nil
	}
	ts, _ := val.(int64)
	m.CreatedAt = time.UnixMicro(ts).UTC()
	m.Reactions = model.Reactions{}
	return true, nil
}

func (s *MessageStore) Get(ctx context.Context, id string) (*model.Message, error) {
	msgs, err := s.load(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("messageStore.Get: %w", err)
	}
	if len(msgs) == 0 {
		return nil, storage.ErrNotFound
	}
	return &msgs[0], nil
}

func (s *MessageStore) Latest(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("messageStore.Latest", time.Now())()
	if limit <= 0 {
		return []model.Message{}, nil
	}
	ids, err := s.cli.ZRevRange(ctx, channelMsgsKey(channelID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("messageStore.Latest: %w", err)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	msgs, err := s.load(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("messageStore.Latest: %w", err)
	}
	return msgs, nil
}

func (s *MessageStore) LatestAt(ctx context.Context, channelID string) (time.Time, bool, error) {
	res, err := s.cli.ZRevRangeWithScores(ctx, channelMsgsKey(channelID), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("messageStore.LatestAt: %w", err)
	}
	if len(res) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMicro(int64(res[0].Score)).UTC(), true, nil
}

func (s *MessageStore) Edit(ctx context.Context, id, body string, at time.Time) error {
	err := updateExisting(ctx, s.cli, msgKey(id), "body", body, "edited", "1", "edited_at", micro(at))
	if err != nil {
		return fmt.Errorf("messageStore.Edit: %w", err)
	}
	return nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, id, byUserID string, at time.Time) error {
	err := updateExisting(ctx, s.cli, msgKey(id), "deleted", "1", "deleted_at", micro(at), "deleted_by", byUserID)
	if err != nil {
		return fmt.Errorf("messageStore.SoftDelete: %w", err)
	}
	return nil
}

func (s *MessageStore) Pin(ctx context.Context, id, byUserID string, at time.Time) (bool, error) {
	channelID, err := s.cli.HGet(ctx, msgKey(id), "channel_id").Result()
	if err != nil {
		return false, fmt.Errorf("messageStore.Pin: %w", notFound(err))
	}
	res, err := pinScript.Run(ctx, s.cli, []string{msgKey(id), channelPinnedKey(channelID)}, byUserID, micro(at), id).Int64()
	if err != nil {
		return false, fmt.Errorf("messageStore.Pin: %w", err)
	}
	if res < 0 {
		return false, storage.ErrNotFound
	}
	return res == 1, nil
}

func (s *MessageStore) Unpin(ctx context.Context, id string) (bool, error) {
	channelID, err := s.cli.HGet(ctx, msgKey(id), "channel_id").Result()
	if err != nil {
		return false, fmt.Errorf("messageStore.Unpin: %w", notFound(err))
	}
	res, err := unpinScript.Run(ctx, s.cli, []string{msgKey(id), channelPinnedKey(channelID)}, id).Int64()
	if err != nil {
		return false, fmt.Errorf("messageStore.Unpin: %w", err)
	}
	if res < 0 {
		return false, storage.ErrNotFound
	}
	return res == 1, nil
}

func (s *MessageStore) Pinned(ctx context.Context, channelID string) ([]model.Message, error) {
	ids, err := s.cli.ZRevRange(ctx, channelPinnedKey(channelID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("messageStore.Pinned: %w", err)
	}
	msgs, err := s.load(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("messageStore.Pinned: %w", err)
	}
	return msgs, nil
}

// load достаёт сообщения и их реакции за два pipeline-запроса, сохраняя
// порядок ids и пропуская уже несуществующие.
func (s *MessageStore) load(ctx context.Context, ids []string) ([]model.Message, error) {
	out := make([]model.Message, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.cli.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, msgKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	targets := make([]model.Target, 0, len(ids))
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		m := decodeMessage(h)
		out = append(out, m)
		targets = append(targets, model.Target{Kind: model.TargetMessage, ID: m.ID})
	}
	reactions, err := loadReactions(ctx, s.cli, targets)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Reactions = reactions[i]
	}
	return out, nil
}

func decodeMessage(h map[string]string) model.Message {
	m := model.Message{
		ID:         h["id"],
		ChannelID:  h["channel_id"],
		AuthorID:   h["author_id"],
		AuthorName: h["author_name"],
		Body:       h["body"],
		ImageURL:   h["image_url"],
		ReplyToID:  h["reply_to_id"],
		ReplyCount: toInt(h["reply_count"]),
		IsPinned:   h["pinned"] == "1",
		PinnedAt:   optTime(h["pinned_at"]),
		PinnedBy:   h["pinned_by"],
		IsEdited:   h["edited"] == "1",
		EditedAt:   optTime(h["edited_at"]),
		IsDeleted:  h["deleted"] == "1",
		DeletedAt:  optTime(h["deleted_at"]),
		DeletedBy:  h["deleted_by"],
		CreatedAt:  fromMicro(h["created_at"]),
	}
	if raw := h["attachments"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &m.Attachments); err != nil {
			logger.Errorf("decode attachments msg=%s: %v", m.ID, err)
		}
	}
	if raw := h["deal_card"]; raw != "" && raw != "null" {
		var card model.DealCard
		if err := json.Unmarshal([]byte(raw), &card); err == nil {
			m.DealCard = &card
		} else {
			logger.Errorf("decode deal card msg=%s: %v", m.ID, err)
		}
	}
	return m
}
