package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

func TestProfileEnsureAndGet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Profiles()

	p, err := store.Ensure(ctx, "u1", "Ann")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if p.ID != "u1" || p.DisplayName != "Ann" || p.Role != model.RoleMember || p.XP != 0 || len(p.Badges) != 0 {
		t.Fatalf("profile = %+v", p)
	}
	if err := store.SetRole(ctx, "u1", model.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	p, _ = store.Ensure(ctx, "u1", "Ann B.")
	if p.Role != model.RoleAdmin || p.DisplayName != "Ann B." {
		t.Fatalf("Ensure must keep role and refresh name: %+v", p)
	}
	if _, err := store.Get(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get ghost err = %v", err)
	}
	if err := store.SetAvatar(ctx, "ghost", "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("SetAvatar ghost err = %v", err)
	}
}

func TestApplyAwardIdempotentKey(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Profiles()
	deltas := map[string]int64{model.StatXP: 2, model.StatReactionsReceived: 1}

	applied, stats, err := store.ApplyAward(ctx, "u1", "react:m1:👍:u2", deltas)
	if err != nil || !applied {
		t.Fatalf("ApplyAward applied=%v err=%v", applied, err)
	}
	if stats[model.StatXP] != 2 || stats[model.StatReactionsReceived] != 1 {
		t.Fatalf("stats = %v", stats)
	}
	applied, stats, err = store.ApplyAward(ctx, "u1", "react:m1:👍:u2", deltas)
	if err != nil || applied {
		t.Fatalf("repeat ApplyAward applied=%v err=%v", applied, err)
	}
	if stats[model.StatXP] != 2 {
		t.Fatalf("repeat must not change stats: %v", stats)
	}
	_, stats, _ = store.ApplyAward(ctx, "u1", "", deltas)
	_, stats, _ = store.ApplyAward(ctx, "u1", "", deltas)
	if stats[model.StatXP] != 6 {
		t.Fatalf("unkeyed awards always apply: %v", stats)
	}
}

func TestAddBadgesUnion(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Profiles()
	_, _ = store.Ensure(ctx, "u1", "Ann")

	added, err := store.AddBadges(ctx, "u1", []string{"first_message", "pinned"})
	if err != nil || len(added) != 2 {
		t.Fatalf("AddBadges = %v, %v", added, err)
	}
	added, _ = store.AddBadges(ctx, "u1", []string{"first_message", "pinned", "helpful"})
	if len(added) != 1 || added[0] != "helpful" {
		t.Fatalf("second AddBadges = %v", added)
	}
	p, _ := store.Get(ctx, "u1")
	want := []string{"first_message", "pinned", "helpful"}
	if len(p.Badges) != len(want) {
		t.Fatalf("badges = %v", p.Badges)
	}
	for i := range want {
		if p.Badges[i] != want[i] {
			t.Fatalf("badges = %v, want %v", p.Badges, want)
		}
	}
}

func TestLeaderboardOrder(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Profiles()
	_, _ = store.Ensure(ctx, "a", "A")
	_, _ = store.Ensure(ctx, "b", "B")
	_, _, _ = store.ApplyAward(ctx, "a", "", map[string]int64{model.StatXP: 10})
	_, _, _ = store.ApplyAward(ctx, "b", "", map[string]int64{model.StatXP: 50})
	_, _, _ = store.ApplyAward(ctx, "c", "", map[string]int64{model.StatXP: 30})

	top, err := store.Leaderboard(ctx, 2)
	if err != nil || len(top) != 2 {
		t.Fatalf("Leaderboard = %+v, %v", top, err)
	}
	if top[0].ID != "b" || top[0].XP != 50 || top[1].ID != "c" {
		t.Fatalf("Leaderboard order = %+v", top)
	}
}
