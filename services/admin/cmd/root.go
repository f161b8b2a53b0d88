// Package cmd содержит команды dealhub-admin: просмотр профилей и рангов, поиск по каналу,
// ручной запуск reaper'а присутствия и пересчёт бейджей.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dealhub/internal/config"
	"github.com/dealhub/internal/repository"
	"github.com/dealhub/internal/storage"
	redisstorage "github.com/dealhub/internal/storage/redis"
)

var (
	redisURL string
	backend  string
	timeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dealhub-admin",
	Short: "Operator tooling for the DealHub community core",
	Long: `Inspect and maintain community state directly in the stores.

Commands:
  ranks                     Print the rank ladder and badge catalogue
  profile <user-id>         Show a profile with rank and badges
  leaderboard               Top users by community XP
  search <channel> <query>  Search the loaded window of a channel
  reap                      Mark stale online users offline
  recompute-badges <id...>  Re-evaluate badge predicates for users`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis URL (default: REDIS_URL / config)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "storage backend for profiles: redis|postgres (default: config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	rootCmd.AddCommand(ranksCmd, profileCmd, leaderboardCmd, searchCmd, reapCmd, recomputeCmd)
}

func Root() *cobra.Command {
	return rootCmd
}

// env: хранилища, с которыми работает команда.
type env struct {
	cfg      *config.Config
	redis    *redisstorage.Client
	pool     *pgxpool.Pool
	profiles storage.ProfileStore
}

func (e *env) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
}

func openEnv(ctx context.Context) (*env, error) {
	cfg := config.Load()
	if redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if backend != "" {
		cfg.StorageBackend = backend
	}
	rdb, err := redisstorage.New(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, redis: rdb, profiles: rdb.Profiles()}
	switch cfg.StorageBackend {
	case "redis":
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		e.pool = pool
		e.profiles = repository.NewProfileRepository(pool)
	default:
		e.Close()
		return nil, fmt.Errorf("unknown backend %q", cfg.StorageBackend)
	}
	return e, nil
}

// withEnv выполняет fn с подключённым env и таймаутом команды.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}
