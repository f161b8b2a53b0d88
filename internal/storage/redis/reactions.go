package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

// react:{kind}:{id}:emojis    множество эмодзи с хотя бы одной реакцией
// react:{kind}:{id}:{emoji}   множество user_id
func reactionIndexKey(t model.Target) string {
	return "react:" + string(t.Kind) + ":" + t.ID + ":emojis"
}

func reactionUsersKey(t model.Target, emoji string) string {
	return "react:" + string(t.Kind) + ":" + t.ID + ":" + emoji
}

// toggleScript единственный пишет множества реакций. Участие переключается на
// сервере, поэтому параллельные реакции разных пользователей не затирают друг друга.
var toggleScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 1 then
  redis.call("SREM", KEYS[1], ARGV[1])
  if redis.call("SCARD", KEYS[1]) == 0 then
    redis.call("SREM", KEYS[2], ARGV[2])
  end
  return 0
end
redis.call("SADD", KEYS[1], ARGV[1])
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`)

type ReactionStore struct {
	cli *redis.Client
}

var _ storage.ReactionStore = (*ReactionStore)(nil)

func (s *ReactionStore) Toggle(ctx context.Context, target model.Target, emoji, userID string) (bool, error) {
	keys := []string{reactionUsersKey(target, emoji), reactionIndexKey(target)}
	res, err := toggleScript.Run(ctx, s.cli, keys, userID, emoji).Int64()
	if err != nil {
		return false, fmt.Errorf("reactionStore.Toggle: %w", err)
	}
	return res == 1, nil
}

func (s *ReactionStore) Reactions(ctx context.Context, target model.Target) (model.Reactions, error) {
	all, err := loadReactions(ctx, s.cli, []model.Target{target})
	if err != nil {
		return nil, fmt.Errorf("reactionStore.Reactions: %w", err)
	}
	return all[0], nil
}

// loadReactions собирает карты реакций нескольких целей за два pipeline-запроса.
func loadReactions(ctx context.Context, cli *redis.Client, targets []model.Target) ([]model.Reactions, error) {
	out := make([]model.Reactions, len(targets))
	for i := range out {
		out[i] = model.Reactions{}
	}
	if len(targets) == 0 {
		return out, nil
	}
	pipe := cli.Pipeline()
	idx := make([]*redis.StringSliceCmd, len(targets))
	for i, t := range targets {
		idx[i] = pipe.SMembers(ctx, reactionIndexKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	type ref struct {
		target int
		emoji  string
		cmd    *redis.StringSliceCmd
	}
	var refs []ref
	pipe = cli.Pipeline()
	for i, cmd := range idx {
		for _, emoji := range cmd.Val() {
			refs = append(refs, ref{target: i, emoji: emoji, cmd: pipe.SMembers(ctx, reactionUsersKey(targets[i], emoji))})
		}
	}
	if len(refs) == 0 {
		return out, nil
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for _, r := range refs {
		out[r.target][r.emoji] = r.cmd.Val()
	}
	// индекс эмодзи может пережить последнего пользователя: пустые списки отбрасываются
	for i := range out {
		out[i] = out[i].Normalize()
	}
	return out, nil
}
