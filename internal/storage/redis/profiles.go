package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

// profile:{uid}          хеш: id, name, avatar, role, created_at
// profile:{uid}:stats    хеш счётчиков (communityXp и сырые статистики)
// profile:{uid}:badges   ZSET бейджей в порядке получения
// profile:{uid}:awards   множество уже применённых ключей наград
// leaderboard:xp         ZSET uid по communityXp
func profileKey(userID string) string { return "profile:" + userID }

func profileStatsKey(userID string) string { return "profile:" + userID + ":stats" }

func profileBadgesKey(userID string) string { return "profile:" + userID + ":badges" }

func profileAwardsKey(userID string) string { return "profile:" + userID + ":awards" }

const leaderboardKey = "leaderboard:xp"

// applyAwardScript пропускает инкременты только по новому ключу награды, применяет
// их через HINCRBY и возвращает статистику после записи.
// KEYS: stats, awards, leaderboard. ARGV: award key, uid, пары field/delta...
var applyAwardScript = redis.NewScript(`
if ARGV[1] ~= "" then
  if redis.call("SADD", KEYS[2], ARGV[1]) == 0 then
    return {0, redis.call("HGETALL", KEYS[1])}
  end
end
for i = 3, #ARGV, 2 do
  local v = redis.call("HINCRBY", KEYS[1], ARGV[i], ARGV[i + 1])
  if ARGV[i] == "communityXp" then
    redis.call("ZADD", KEYS[3], v, ARGV[2])
  end
end
return {1, redis.call("HGETALL", KEYS[1])}
`)

// addBadgesScript: объединение множеств с сохранением порядка получения значков.
var addBadgesScript = redis.NewScript(`
local n = redis.call("ZCARD", KEYS[1])
local added = {}
for _, b in ipairs(ARGV) do
  if redis.call("ZSCORE", KEYS[1], b) == false then
    n = n + 1
    redis.call("ZADD", KEYS[1], n, b)
    added[#added + 1] = b
  end
end
return added
`)

type ProfileStore struct {
	cli *redis.Client
}

var _ storage.ProfileStore = (*ProfileStore)(nil)

// Ensure создаёт профиль при первом появлении и обновляет отображаемое имя.
func (s *ProfileStore) Ensure(ctx context.Context, id, displayName string) (*model.UserProfile, error) {
	if id == "" {
		return nil, errors.New("profileStore.Ensure: empty id")
	}
	key := profileKey(id)
	_, err := s.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "id", id)
		pipe.HSetNX(ctx, key, "role", string(model.RoleMember))
		pipe.HSetNX(ctx, key, "created_at", micro(time.Now()))
		if displayName != "" {
			pipe.HSet(ctx, key, "name", displayName)
		} else {
			pipe.HSetNX(ctx, key, "name", id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("profileStore.Ensure: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *ProfileStore) Get(ctx context.Context, id string) (*model.UserProfile, error) {
	profiles, err := s.load(ctx, []string{id}, false)
	if err != nil {
		return nil, fmt.Errorf("profileStore.Get: %w", err)
	}
	if len(profiles) == 0 {
		return nil, storage.ErrNotFound
	}
	return &profiles[0], nil
}

func (s *ProfileStore) ApplyAward(ctx context.Context, userID, key string, deltas map[string]int64) (bool, map[string]int64, error) {
	defer logger.DeferLogDuration("profileStore.ApplyAward", time.Now())()
	args := make([]any, 0, 2+2*len(deltas))
	args = append(args, key, userID)
	for field, d := range deltas {
		args = append(args, field, d)
	}
	keys := []string{profileStatsKey(userID), profileAwardsKey(userID), leaderboardKey}
	res, err := applyAwardScript.Run(ctx, s.cli, keys, args...).Result()
	if err != nil {
		return false, nil, fmt.Errorf("profileStore.ApplyAward: %w", err)
	}
	status, val, err := scriptResult(res)
	if err != nil {
		return false, nil, fmt.Errorf("profileStore.ApplyAward: %w", err)
	}
	return status == 1, statsFrom(flatToMap(val)), nil
}

func (s *ProfileStore) AddBadges(ctx context.Context, userID string, badges []string) ([]string, error) {
	if len(badges) == 0 {
		return nil, nil
	}
	args := make([]any, len(badges))
	for i, b := range badges {
		args[i] = b
	}
	added, err := addBadgesScript.Run(ctx, s.cli, []string{profileBadgesKey(userID)}, args...).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("profileStore.AddBadges: %w", err)
	}
	return added, nil
}

func (s *ProfileStore) SetAvatar(ctx context.Context, id, url string) error {
	if err := updateExisting(ctx, s.cli, profileKey(id), "avatar", url); err != nil {
		return fmt.Errorf("profileStore.SetAvatar: %w", err)
	}
	return nil
}

func (s *ProfileStore) SetRole(ctx context.Context, id string, role model.Role) error {
	if err := updateExisting(ctx, s.cli, profileKey(id), "role", string(role)); err != nil {
		return fmt.Errorf("profileStore.SetRole: %w", err)
	}
	return nil
}

func (s *ProfileStore) Leaderboard(ctx context.Context, n int) ([]model.UserProfile, error) {
	if n <= 0 {
		return []model.UserProfile{}, nil
	}
	ids, err := s.cli.ZRevRange(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("profileStore.Leaderboard: %w", err)
	}
	profiles, err := s.load(ctx, ids, true)
	if err != nil {
		return nil, fmt.Errorf("profileStore.Leaderboard: %w", err)
	}
	return profiles, nil
}

// load читает профили одним pipeline. С partial=true пользователь, у которого есть
// только статистика (награда пришла до создания профиля), возвращается записью из одного id.
func (s *ProfileStore) load(ctx context.Context, ids []string, partial bool) ([]model.UserProfile, error) {
	out := make([]model.UserProfile, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	type row struct {
		base   *redis.MapStringStringCmd
		stats  *redis.MapStringStringCmd
		badges *redis.StringSliceCmd
	}
	rows := make([]row, len(ids))
	pipe := s.cli.Pipeline()
	for i, id := range ids {
		rows[i] = row{
			base:   pipe.HGetAll(ctx, profileKey(id)),
			stats:  pipe.HGetAll(ctx, profileStatsKey(id)),
			badges: pipe.ZRange(ctx, profileBadgesKey(id), 0, -1),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for i, r := range rows {
		h := r.base.Val()
		if len(h) == 0 {
			if !partial {
				continue
			}
			h = map[string]string{"id": ids[i], "role": string(model.RoleMember)}
		}
		p := model.UserProfile{
			ID:          h["id"],
			DisplayName: h["name"],
			AvatarURL:   h["avatar"],
			Role:        model.Role(h["role"]),
			Stats:       statsFrom(r.stats.Val()),
			Badges:      r.badges.Val(),
			CreatedAt:   fromMicro(h["created_at"]),
		}
		if p.Role == "" {
			p.Role = model.RoleMember
		}
		if p.Badges == nil {
			p.Badges = []string{}
		}
		p.XP = p.Stats[model.StatXP]
		out = append(out, p)
	}
	return out, nil
}

func statsFrom(h map[string]string) map[string]int64 {
	out := make(map[string]int64, len(h))
	for k, v := range h {
		out[k] = toInt(v)
	}
	return out
}
