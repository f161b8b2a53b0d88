package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealhub/internal/live"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/storage"
)

const (
	DefaultLeaderboard = 10
	MaxLeaderboard     = 100
)

// Profiles отдаёт профили пользователей с рангом, вычисленным при чтении.
type Profiles struct {
	store storage.ProfileStore
	bus   storage.EventBus
}

func NewProfiles(store storage.ProfileStore, bus storage.EventBus) *Profiles {
	return &Profiles{store: store, bus: bus}
}

// Ensure создаёт профиль при первом появлении и обновляет отображаемое имя.
func (p *Profiles) Ensure(ctx context.Context, author Author) (*model.UserProfile, error) {
	prof, err := p.store.Ensure(ctx, author.ID, strings.TrimSpace(author.Name))
	if err != nil {
		return nil, fmt.Errorf("profiles.Ensure: %w", err)
	}
	reputation.Decorate(prof)
	return prof, nil
}

func (p *Profiles) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	prof, err := p.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	reputation.Decorate(prof)
	return prof, nil
}

func (p *Profiles) IsAdmin(ctx context.Context, userID string) bool {
	prof, err := p.store.Get(ctx, userID)
	return err == nil && prof.IsAdmin()
}

// Leaderboard возвращает n лучших профилей по XP, n ограничено [1, 100].
func (p *Profiles) Leaderboard(ctx context.Context, n int) ([]model.UserProfile, error) {
	if n <= 0 {
		n = DefaultLeaderboard
	}
	if n > MaxLeaderboard {
		n = MaxLeaderboard
	}
	list, err := p.store.Leaderboard(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("profiles.Leaderboard: %w", err)
	}
	for i := range list {
		reputation.Decorate(&list[i])
	}
	return list, nil
}

func (p *Profiles) SetAvatar(ctx context.Context, userID, url string) error {
	if err := p.store.SetAvatar(ctx, userID, strings.TrimSpace(url)); err != nil {
		return fmt.Errorf("profiles.SetAvatar: %w", err)
	}
	publish(ctx, p.bus, storage.ProfileTopic(userID), KindProfile, userID)
	return nil
}

func (p *Profiles) SetRole(ctx context.Context, userID string, role model.Role) error {
	if role != model.RoleMember && role != model.RoleAdmin {
		return fmt.Errorf("profiles.SetRole %q: %w", role, ErrInvalidRole)
	}
	if err := p.store.SetRole(ctx, userID, role); err != nil {
		return fmt.Errorf("profiles.SetRole: %w", err)
	}
	publish(ctx, p.bus, storage.ProfileTopic(userID), KindProfile, userID)
	return nil
}

func (p *Profiles) Subscribe(ctx context.Context, userID string) (*live.Subscription[*model.UserProfile], error) {
	return live.Watch[*model.UserProfile](ctx, p.bus, []string{storage.ProfileTopic(userID)}, func(ctx context.Context) (*model.UserProfile, error) {
		return p.Get(ctx, userID)
	})
}
