package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/storage"
)

// unread:{uid} хеш channel_id -> lastReadAt (мкс)
func unreadKey(userID string) string { return "unread:" + userID }

// watermarkScript никогда не сдвигает отметку назад.
var watermarkScript = redis.NewScript(`
local cur = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
local at = tonumber(ARGV[2])
if at > cur then
  redis.call("HSET", KEYS[1], ARGV[1], at)
end
return 1
`)

type UnreadStore struct {
	cli *redis.Client
}

var _ storage.UnreadStore = (*UnreadStore)(nil)

func (s *UnreadStore) SetWatermark(ctx context.Context, userID, channelID string, at time.Time) error {
	if err := watermarkScript.Run(ctx, s.cli, []string{unreadKey(userID)}, channelID, micro(at)).Err(); err != nil {
		return fmt.Errorf("unreadStore.SetWatermark: %w", err)
	}
	return nil
}

func (s *UnreadStore) Watermarks(ctx context.Context, userID string) (map[string]time.Time, error) {
	h, err := s.cli.HGetAll(ctx, unreadKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("unreadStore.Watermarks: %w", err)
	}
	out := make(map[string]time.Time, len(h))
	for ch, v := range h {
		out[ch] = fromMicro(v)
	}
	return out, nil
}
