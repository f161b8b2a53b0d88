package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

// presence:{uid}    хеш записи присутствия
// presence:online   ZSET онлайн-пользователей по last_seen (мкс), для выборки и reaper
func presenceKey(userID string) string { return "presence:" + userID }

const presenceOnlineKey = "presence:online"

type PresenceStore struct {
	cli *redis.Client
}

var _ storage.PresenceStore = (*PresenceStore)(nil)

func (s *PresenceStore) Upsert(ctx context.Context, rec model.PresenceRecord) error {
	seen := micro(rec.LastSeen)
	_, err := s.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKey(rec.UserID),
			"user_id", rec.UserID,
			"name", rec.DisplayName,
			"online", boolStr(rec.IsOnline),
			"typing", boolStr(rec.IsTyping),
			"typing_channel", rec.TypingChannelID,
			"last_seen", seen,
		)
		if rec.IsOnline {
			pipe.ZAdd(ctx, presenceOnlineKey, redis.Z{Score: float64(seen), Member: rec.UserID})
		} else {
			pipe.ZRem(ctx, presenceOnlineKey, rec.UserID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("presenceStore.Upsert: %w", err)
	}
	return nil
}

// Touch: heartbeat, пользователь онлайн на момент at.
func (s *PresenceStore) Touch(ctx context.Context, userID string, at time.Time) error {
	seen := micro(at)
	_, err := s.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKey(userID), "user_id", userID, "online", "1", "last_seen", seen)
		pipe.ZAdd(ctx, presenceOnlineKey, redis.Z{Score: float64(seen), Member: userID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("presenceStore.Touch: %w", err)
	}
	return nil
}

func (s *PresenceStore) SetOffline(ctx context.Context, userID string, at time.Time) error {
	_, err := s.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKey(userID),
			"user_id", userID,
			"online", "0",
			"typing", "0",
			"typing_channel", "",
			"last_seen", micro(at),
		)
		pipe.ZRem(ctx, presenceOnlineKey, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presenceStore.SetOffline: %w", err)
	}
	return nil
}

func (s *PresenceStore) SetTyping(ctx context.Context, userID, channelID string, typing bool) error {
	if !typing {
		channelID = ""
	}
	err := updateExisting(ctx, s.cli, presenceKey(userID), "typing", boolStr(typing), "typing_channel", channelID)
	if err != nil {
		return fmt.Errorf("presenceStore.SetTyping: %w", err)
	}
	return nil
}

func (s *PresenceStore) Get(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	h, err := s.cli.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presenceStore.Get: %w", err)
	}
	if len(h) == 0 {
		return nil, storage.ErrNotFound
	}
	rec := decodePresence(h)
	return &rec, nil
}

// Online возвращает пользователей онлайн, недавно виденные первыми.
func (s *PresenceStore) Online(ctx context.Context) ([]model.PresenceRecord, error) {
	ids, err := s.cli.ZRevRange(ctx, presenceOnlineKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("presenceStore.Online: %w", err)
	}
	out := make([]model.PresenceRecord, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.cli.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, presenceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("presenceStore.Online: %w", err)
	}
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 || h["online"] != "1" {
			continue
		}
		out = append(out, decodePresence(h))
	}
	return out, nil
}

func (s *PresenceStore) StaleOnline(ctx context.Context, before time.Time) ([]string, error) {
	ids, err := s.cli.ZRangeByScore(ctx, presenceOnlineKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(micro(before), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("presenceStore.StaleOnline: %w", err)
	}
	return ids, nil
}

func decodePresence(h map[string]string) model.PresenceRecord {
	return model.PresenceRecord{
		UserID:          h["user_id"],
		DisplayName:     h["name"],
		IsOnline:        h["online"] == "1",
		IsTyping:        h["typing"] == "1",
		TypingChannelID: h["typing_channel"],
		LastSeen:        fromMicro(h["last_seen"]),
	}
}
