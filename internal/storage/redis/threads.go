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

func replyKey(id string) string { return "reply:" + id }

func threadRepliesKey(parentID string) string { return "thread:" + parentID + ":replies" }

func threadClockKey(parentID string) string { return "thread:" + parentID + ":clock" }

func replyRequestKey(reqID string) string { return "req:reply:" + reqID }

// appendReplyScript сохраняет ответ и увеличивает reply_count родителя тем же
// скриптом, поэтому повтор запроса не посчитается дважды.
// KEYS: parent, reply, replies zset, clock, request key.
// ARGV: id, now, has_request, ttl_sec, пары field/value...
var appendReplyScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {-1, ""}
end
if ARGV[3] == "1" then
  local existing = redis.call("GET", KEYS[5])
  if existing then
    return {0, existing}
  end
end
local now = tonumber(ARGV[2])
local last = tonumber(redis.call("GET", KEYS[4]) or "0")
if now <= last then
  now = last + 1
end
redis.call("SET", KEYS[4], now)
local fields = {}
for i = 5, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[2], unpack(fields))
redis.call("HSET", KEYS[2], "created_at", now)
redis.call("ZADD", KEYS[3], now, ARGV[1])
redis.call("HINCRBY", KEYS[1], "reply_count", 1)
if ARGV[3] == "1" then
  redis.call("SET", KEYS[5], ARGV[1], "EX", tonumber(ARGV[4]))
end
return {1, now}
`)

type ThreadStore struct {
	cli *redis.Client
}

var _ storage.ThreadStore = (*ThreadStore)(nil)

func (s *ThreadStore) AppendReply(ctx context.Context, r *model.Reply, requestID string) (bool, error) {
	defer logger.DeferLogDuration("threadStore.AppendReply", time.Now())()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	args := []any{r.ID, micro(r.CreatedAt), boolStr(requestID != ""), int64(requestTTL / time.Second),
		"id", r.ID,
		"parent_id", r.ParentMessageID,
		"channel_id", r.ChannelID,
		"author_id", r.AuthorID,
		"author_name", r.AuthorName,
		"body", r.Body,
		"attachments", encodeJSON(r.Attachments),
		"deleted", "0",
	}
	keys := []string{
		msgKey(r.ParentMessageID),
		replyKey(r.ID),
		threadRepliesKey(r.ParentMessageID),
		threadClockKey(r.ParentMessageID),
		replyRequestKey(requestID),
	}
	res, err := appendReplyScript.Run(ctx, s.cli, keys, args...).Result()
	if err != nil {
		return false, fmt.Errorf("threadStore.AppendReply: %w", err)
	}
	status, val, err := scriptResult(res)
	if err != nil {
		return false, fmt.Errorf("threadStore.AppendReply: %w", err)
	}
	switch status {
	case -1:
		return false, storage.ErrNotFound
	case 0:
		existingID, _ := val.(string)
		stored, err := s.GetReply(ctx, existingID)
		if err != nil {
			return false, fmt.Errorf("threadStore.AppendReply replay: %w", err)
		}
		*r = *stored
		return false, nil
	}
	ts, _ := val.(int64)
	r.CreatedAt = time.UnixMicro(ts).UTC()
	r.Reactions = model.Reactions{}
	return true, nil
}

func (s *ThreadStore) GetReply(ctx context.Context, id string) (*model.Reply, error) {
	replies, err := s.load(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("threadStore.GetReply: %w", err)
	}
	if len(replies) == 0 {
		return nil, storage.ErrNotFound
	}
	return &replies[0], nil
}

func (s *ThreadStore) Replies(ctx context.Context, parentID string) ([]model.Reply, error) {
	defer logger.DeferLogDuration("threadStore.Replies", time.Now())()
	ids, err := s.cli.ZRange(ctx, threadRepliesKey(parentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("threadStore.Replies: %w", err)
	}
	replies, err := s.load(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("threadStore.Replies: %w", err)
	}
	return replies, nil
}

func (s *ThreadStore) SoftDeleteReply(ctx context.Context, id, byUserID string, at time.Time) error {
	err := updateExisting(ctx, s.cli, replyKey(id), "deleted", "1", "deleted_at", micro(at), "deleted_by", byUserID)
	if err != nil {
		return fmt.Errorf("threadStore.SoftDeleteReply: %w", err)
	}
	return nil
}

func (s *ThreadStore) load(ctx context.Context, ids []string) ([]model.Reply, error) {
	out := make([]model.Reply, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.cli.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, replyKey(id))
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
		r := model.Reply{
			ID:              h["id"],
			ParentMessageID: h["parent_id"],
			ChannelID:       h["channel_id"],
			AuthorID:        h["author_id"],
			AuthorName:      h["author_name"],
			Body:            h["body"],
			IsDeleted:       h["deleted"] == "1",
			DeletedAt:       optTime(h["deleted_at"]),
			DeletedBy:       h["deleted_by"],
			CreatedAt:       fromMicro(h["created_at"]),
		}
		if raw := h["attachments"]; raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &r.Attachments); err != nil {
				logger.Errorf("decode attachments reply=%s: %v", r.ID, err)
			}
		}
		out = append(out, r)
		targets = append(targets, model.Target{Kind: model.TargetReply, ID: r.ID})
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
