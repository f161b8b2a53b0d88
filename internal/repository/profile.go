// Package repository содержит PostgreSQL-реализации хранилищ профилей и личных диалогов
// (storage.backend: postgres). Остальные хранилища ядра живут в Redis.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

type ProfileRepository struct {
	pool *pgxpool.Pool
}

var _ storage.ProfileStore = (*ProfileRepository)(nil)

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// Ensure создаёт профиль при первом появлении; непустое имя заменяет сохранённое.
func (r *ProfileRepository) Ensure(ctx context.Context, id, displayName string) (*model.UserProfile, error) {
	defer logger.DeferLogDuration("profile.Ensure", time.Now())()
	if id == "" {
		return nil, errors.New("profileRepo.Ensure: empty id")
	}
	displayName = strings.TrimSpace(displayName)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (id, display_name) VALUES ($1::text, COALESCE(NULLIF($2::text, ''), $1::text))
		 ON CONFLICT (id) DO UPDATE
		 SET display_name = CASE WHEN $2::text <> '' THEN $2::text ELSE profiles.display_name END`,
		id, displayName,
	)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.Ensure: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *ProfileRepository) Get(ctx context.Context, id string) (*model.UserProfile, error) {
	defer logger.DeferLogDuration("profile.Get", time.Now())()
	profiles, err := r.load(ctx, []string{id}, false)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.Get: %w", err)
	}
	if len(profiles) == 0 {
		return nil, storage.ErrNotFound
	}
	return &profiles[0], nil
}

// ApplyAward записывает ключ награды и применяет все дельты одной транзакцией.
// Уже существующий ключ ничего не меняет и возвращает текущую статистику.
func (r *ProfileRepository) ApplyAward(ctx context.Context, userID, key string, deltas map[string]int64) (bool, map[string]int64, error) {
	defer logger.DeferLogDuration("profile.ApplyAward", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("profileRepo.ApplyAward: %w", err)
	}
	defer tx.Rollback(ctx)

	applied := true
	if key != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO profile_awards (user_id, award_key) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, key,
		)
		if err != nil {
			return false, nil, fmt.Errorf("profileRepo.ApplyAward: %w", err)
		}
		applied = tag.RowsAffected() == 1
	}
	if applied && len(deltas) > 0 {
		// строки profile_stats блокируются в порядке stat, иначе параллельные награды ловят 40P01
		names := make([]string, 0, len(deltas))
		for stat := range deltas {
			names = append(names, stat)
		}
		sort.Strings(names)
		values := make([]int64, len(names))
		for i, stat := range names {
			values[i] = deltas[stat]
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO profile_stats (user_id, stat, value)
			 SELECT $1, s, v FROM unnest($2::text[], $3::bigint[]) AS t(s, v) ORDER BY s
			 ON CONFLICT (user_id, stat) DO UPDATE SET value = profile_stats.value + EXCLUDED.value`,
			userID, names, values,
		); err != nil {
			return false, nil, fmt.Errorf("profileRepo.ApplyAward stats: %w", err)
		}
	}
	stats, err := readStats(ctx, tx, userID)
	if err != nil {
		return false, nil, fmt.Errorf("profileRepo.ApplyAward: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("profileRepo.ApplyAward commit: %w", err)
	}
	return applied, stats, nil
}

// AddBadges: объединение множеств; возвращаются id, которых раньше не было.
func (r *ProfileRepository) AddBadges(ctx context.Context, userID string, badges []string) ([]string, error) {
	defer logger.DeferLogDuration("profile.AddBadges", time.Now())()
	if len(badges) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`INSERT INTO profile_badges (user_id, badge_id)
		 SELECT $1, b FROM unnest($2::text[]) WITH ORDINALITY AS t(b, n) ORDER BY n
		 ON CONFLICT DO NOTHING
		 RETURNING badge_id`,
		userID, badges,
	)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.AddBadges: %w", err)
	}
	added, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("profileRepo.AddBadges: %w", err)
	}
	return added, nil
}

func (r *ProfileRepository) SetAvatar(ctx context.Context, id, url string) error {
	defer logger.DeferLogDuration("profile.SetAvatar", time.Now())()
	return r.update(ctx, "profileRepo.SetAvatar", `UPDATE profiles SET avatar_url = $2 WHERE id = $1`, id, url)
}

func (r *ProfileRepository) SetRole(ctx context.Context, id string, role model.Role) error {
	defer logger.DeferLogDuration("profile.SetRole", time.Now())()
	return r.update(ctx, "profileRepo.SetRole", `UPDATE profiles SET role = $2 WHERE id = $1`, id, string(role))
}

func (r *ProfileRepository) update(ctx context.Context, op, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Leaderboard возвращает n лучших профилей по XP. Пользователи, получившие награду
// до создания профиля, возвращаются записями из одного id.
func (r *ProfileRepository) Leaderboard(ctx context.Context, n int) ([]model.UserProfile, error) {
	defer logger.DeferLogDuration("profile.Leaderboard", time.Now())()
	if n <= 0 {
		return []model.UserProfile{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM profile_stats WHERE stat = $1 ORDER BY value DESC, user_id LIMIT $2`,
		model.StatXP, n,
	)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.Leaderboard: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("profileRepo.Leaderboard: %w", err)
	}
	profiles, err := r.load(ctx, ids, true)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.Leaderboard: %w", err)
	}
	return profiles, nil
}

// load читает базовые строки, статистику и значки одним batch и сохраняет порядок ids.
func (r *ProfileRepository) load(ctx context.Context, ids []string, partial bool) ([]model.UserProfile, error) {
	out := make([]model.UserProfile, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	batch := &pgx.Batch{}
	batch.Queue(`SELECT id, display_name, avatar_url, role, created_at FROM profiles WHERE id = ANY($1)`, ids)
	batch.Queue(`SELECT user_id, stat, value FROM profile_stats WHERE user_id = ANY($1)`, ids)
	batch.Queue(`SELECT user_id, badge_id FROM profile_badges WHERE user_id = ANY($1) ORDER BY seq`, ids)
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	base := make(map[string]*model.UserProfile, len(ids))
	rows, err := br.Query()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		p := &model.UserProfile{}
		var role string
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &role, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		p.Role = model.Role(role)
		p.CreatedAt = p.CreatedAt.UTC()
		base[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make(map[string]map[string]int64, len(ids))
	rows, err = br.Query()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var uid, stat string
		var v int64
		if err := rows.Scan(&uid, &stat, &v); err != nil {
			rows.Close()
			return nil, err
		}
		if stats[uid] == nil {
			stats[uid] = map[string]int64{}
		}
		stats[uid][stat] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	badges := make(map[string][]string, len(ids))
	rows, err = br.Query()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var uid, b string
		if err := rows.Scan(&uid, &b); err != nil {
			rows.Close()
			return nil, err
		}
		badges[uid] = append(badges[uid], b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		p, ok := base[id]
		if !ok {
			if !partial {
				continue
			}
			p = &model.UserProfile{ID: id, Role: model.RoleMember}
		}
		p.Stats = stats[id]
		if p.Stats == nil {
			p.Stats = map[string]int64{}
		}
		p.Badges = badges[id]
		if p.Badges == nil {
			p.Badges = []string{}
		}
		p.XP = p.Stats[model.StatXP]
		out = append(out, *p)
	}
	return out, nil
}

func readStats(ctx context.Context, q pgx.Tx, userID string) (map[string]int64, error) {
	rows, err := q.Query(ctx, `SELECT stat, value FROM profile_stats WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var stat string
		var v int64
		if err := rows.Scan(&stat, &v); err != nil {
			return nil, err
		}
		out[stat] = v
	}
	return out, rows.Err()
}
