package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

// dm:pair:{low}:{high}      id диалога для неупорядоченной пары (уникальность)
// dm:conv:{id}              хеш диалога: p0, p1, name:{uid}, unread:{uid}, last_*
// dm:conv:{id}:messages     ZSET id сообщений по created_at
// dm:conv:{id}:clock        последняя метка времени диалога
// dm:msg:{id}               хеш личного сообщения
// dm:user:{uid}:convs       ZSET диалогов пользователя по updated_at
func dmPairKey(low, high string) string { return "dm:pair:" + low + ":" + high }

func dmConvKey(id string) string { return "dm:conv:" + id }

func dmConvMsgsKey(id string) string { return "dm:conv:" + id + ":messages" }

func dmConvClockKey(id string) string { return "dm:conv:" + id + ":clock" }

func dmMsgKey(id string) string { return "dm:msg:" + id }

func dmUserConvsKey(userID string) string { return "dm:user:" + userID + ":convs" }

func dmRequestKey(reqID string) string { return "req:dm:" + reqID }

// findOrCreateScript делает поиск пары и создание одним атомарным шагом:
// два участника, одновременно открывшие диалог, получают один id.
// KEYS: pair, conv (id-кандидат), user0 convs, user1 convs.
// ARGV: id-кандидат, p0, p1, name0, name1, now.
var findOrCreateScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if existing then
  return {0, existing}
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2],
  "id", ARGV[1],
  "p0", ARGV[2],
  "p1", ARGV[3],
  "name:" .. ARGV[2], ARGV[4],
  "name:" .. ARGV[3], ARGV[5],
  "unread:" .. ARGV[2], 0,
  "unread:" .. ARGV[3], 0,
  "created_at", ARGV[6],
  "updated_at", ARGV[6])
redis.call("ZADD", KEYS[3], ARGV[6], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[6], ARGV[1])
return {1, ARGV[1]}
`)

// appendDirectScript сохраняет личное сообщение, заменяет снимок последнего сообщения
// и увеличивает счётчик непрочитанных получателя за один шаг.
// KEYS: conv, messages zset, clock, dm record, request key, user0 convs, user1 convs.
// ARGV: msg id, now, has_request, ttl_sec, recipient, author, preview body, conv id, пары field/value...
var appendDirectScript = redis.NewScript(`
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
local last = tonumber(redis.call("GET", KEYS[3]) or "0")
if now <= last then
  now = last + 1
end
redis.call("SET", KEYS[3], now)
local fields = {}
for i = 9, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[4], unpack(fields))
redis.call("HSET", KEYS[4], "created_at", now)
redis.call("ZADD", KEYS[2], now, ARGV[1])
redis.call("HSET", KEYS[1], "last_body", ARGV[7], "last_author", ARGV[6], "last_at", now, "updated_at", now)
redis.call("HINCRBY", KEYS[1], "unread:" .. ARGV[5], 1)
redis.call("ZADD", KEYS[6], now, ARGV[8])
redis.call("ZADD", KEYS[7], now, ARGV[8])
if ARGV[3] == "1" then
  redis.call("SET", KEYS[5], ARGV[1], "EX", tonumber(ARGV[4]))
end
return {1, now}
`)

var resetUnreadScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], "unread:" .. ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "unread:" .. ARGV[1], 0)
return 1
`)

type ConversationStore struct {
	cli *redis.Client
}

var _ storage.ConversationStore = (*ConversationStore)(nil)

func (s *ConversationStore) FindOrCreate(ctx context.Context, a, b model.Participant) (string, bool, error) {
	defer logger.DeferLogDuration("conversationStore.FindOrCreate", time.Now())()
	if a.ID > b.ID {
		a, b = b, a
	}
	id := uuid.New().String()
	keys := []string{dmPairKey(a.ID, b.ID), dmConvKey(id), dmUserConvsKey(a.ID), dmUserConvsKey(b.ID)}
	res, err := findOrCreateScript.Run(ctx, s.cli, keys, id, a.ID, b.ID, a.Name, b.Name, micro(time.Now())).Result()
	if err != nil {
		return "", false, fmt.Errorf("conversationStore.FindOrCreate: %w", err)
	}
	status, val, err := scriptResult(res)
	if err != nil {
		return "", false, fmt.Errorf("conversationStore.FindOrCreate: %w", err)
	}
	convID, _ := val.(string)
	return convID, status == 1, nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	h, err := s.cli.HGetAll(ctx, dmConvKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("conversationStore.Get: %w", err)
	}
	if len(h) == 0 {
		return nil, storage.ErrNotFound
	}
	c := decodeConversation(h)
	return &c, nil
}

// ListFor возвращает диалоги пользователя, последние активные первыми.
func (s *ConversationStore) ListFor(ctx context.Context, userID string) ([]model.Conversation, error) {
	ids, err := s.cli.ZRevRange(ctx, dmUserConvsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conversationStore.ListFor: %w", err)
	}
	out := make([]model.Conversation, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.cli.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, dmConvKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("conversationStore.ListFor: %w", err)
	}
	for _, cmd := range cmds {
		if h := cmd.Val(); len(h) > 0 {
			out = append(out, decodeConversation(h))
		}
	}
	return out, nil
}

func (s *ConversationStore) AppendDirect(ctx context.Context, dm *model.DirectMessage, recipientID, requestID string) (bool, error) {
	defer logger.DeferLogDuration("conversationStore.AppendDirect", time.Now())()
	if dm.ID == "" {
		dm.ID = uuid.New().String()
	}
	if dm.CreatedAt.IsZero() {
		dm.CreatedAt = time.Now()
	}
	low, high := model.PairKey(dm.AuthorID, recipientID)
	args := []any{dm.ID, micro(dm.CreatedAt), boolStr(requestID != ""), int64(requestTTL / time.Second),
		recipientID, dm.AuthorID, preview(dm), dm.ConversationID,
		"id", dm.ID,
		"conversation_id", dm.ConversationID,
		"author_id", dm.AuthorID,
		"author_name", dm.AuthorName,
		"body", dm.Body,
		"attachments", encodeJSON(dm.Attachments),
	}
	keys := []string{
		dmConvKey(dm.ConversationID),
		dmConvMsgsKey(dm.ConversationID),
		dmConvClockKey(dm.ConversationID),
		dmMsgKey(dm.ID),
		dmRequestKey(requestID),
		dmUserConvsKey(low),
		dmUserConvsKey(high),
	}
	res, err := appendDirectScript.Run(ctx, s.cli, keys, args...).Result()
	if err != nil {
		return false, fmt.Errorf("conversationStore.AppendDirect: %w", err)
	}
	status, val, err := scriptResult(res)
	if err != nil {
		return false, fmt.Errorf("conversationStore.AppendDirect: %w", err)
	}
	switch status {
	case -1:
		return false, storage.ErrNotFound
	case 0:
		existingID, _ := val.(string)
		stored, err := s.loadMessages(ctx, []string{existingID})
		if err != nil {
			return false, fmt.Errorf("conversationStore.AppendDirect replay: %w", err)
		}
		if len(stored) == 0 {
			return false, storage.ErrNotFound
		}
		*dm = stored[0]
		return false, nil
	}
	ts, _ := val.(int64)
	dm.CreatedAt = time.UnixMicro(ts).UTC()
	return true, nil
}

func (s *ConversationStore) Messages(ctx context.Context, conversationID string, limit int) ([]model.DirectMessage, error) {
	if limit <= 0 {
		return []model.DirectMessage{}, nil
	}
	ids, err := s.cli.ZRevRange(ctx, dmConvMsgsKey(conversationID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("conversationStore.Messages: %w", err)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	msgs, err := s.loadMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("conversationStore.Messages: %w", err)
	}
	return msgs, nil
}

func (s *ConversationStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	if _, err := resetUnreadScript.Run(ctx, s.cli, []string{dmConvKey(conversationID)}, userID).Result(); err != nil {
		return fmt.Errorf("conversationStore.ResetUnread: %w", err)
	}
	return nil
}

func (s *ConversationStore) loadMessages(ctx context.Context, ids []string) ([]model.DirectMessage, error) {
	out := make([]model.DirectMessage, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.cli.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, dmMsgKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		dm := model.DirectMessage{
			ID:             h["id"],
			ConversationID: h["conversation_id"],
			AuthorID:       h["author_id"],
			AuthorName:     h["author_name"],
			Body:           h["body"],
			CreatedAt:      fromMicro(h["created_at"]),
		}
		if raw := h["attachments"]; raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &dm.Attachments); err != nil {
				logger.Errorf("decode attachments dm=%s: %v", dm.ID, err)
			}
		}
		out = append(out, dm)
	}
	return out, nil
}

func decodeConversation(h map[string]string) model.Conversation {
	c := model.Conversation{
		ID:             h["id"],
		ParticipantIDs: [2]string{h["p0"], h["p1"]},
		Names:          map[string]string{},
		Unread:         map[string]int64{},
		CreatedAt:      fromMicro(h["created_at"]),
		UpdatedAt:      fromMicro(h["updated_at"]),
	}
	for k, v := range h {
		switch {
		case strings.HasPrefix(k, "name:"):
			c.Names[strings.TrimPrefix(k, "name:")] = v
		case strings.HasPrefix(k, "unread:"):
			c.Unread[strings.TrimPrefix(k, "unread:")] = toInt(v)
		}
	}
	if h["last_at"] != "" {
		c.LastMessage = &model.LastMessage{
			Body:      h["last_body"],
			AuthorID:  h["last_author"],
			CreatedAt: fromMicro(h["last_at"]),
		}
	}
	return c
}

// preview: текст снимка последнего сообщения в списке диалогов.
func preview(dm *model.DirectMessage) string {
	body := strings.TrimSpace(dm.Body)
	if body == "" && len(dm.Attachments) > 0 {
		return "Attachment: " + dm.Attachments[0].Name
	}
	if r := []rune(body); len(r) > 140 {
		return string(r[:137]) + "..."
	}
	return body
}
