package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/storage"
)

func TestProfilesEnsureAndRank(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p, err := h.profiles.Ensure(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if p.DisplayName != "Alice" || p.Role != model.RoleMember || p.Rank.Name != "Rookie" || p.XP != 0 {
		t.Fatalf("new profile = %+v", p)
	}
	if _, err := h.profiles.Get(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing profile err = %v", err)
	}
	if h.profiles.IsAdmin(ctx, alice.ID) {
		t.Fatal("member reported as admin")
	}
	if err := h.profiles.SetRole(ctx, alice.ID, model.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	if !h.profiles.IsAdmin(ctx, alice.ID) {
		t.Fatal("role not updated")
	}
	if err := h.profiles.SetRole(ctx, alice.ID, "owner"); err == nil {
		t.Fatal("unknown role accepted")
	}
}

func TestLeaderboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, a := range []Author{alice, bob, carol} {
		if _, err := h.profiles.Ensure(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	events := []reputation.Event{
		{UserID: bob.ID, Kind: reputation.DealClosed, Key: "deal-1"},
		{UserID: carol.ID, Kind: reputation.JobCompleted, Key: "job-1"},
		{UserID: alice.ID, Kind: reputation.MessageSent, Key: "m-1"},
	}
	for _, ev := range events {
		if _, err := h.engine.Record(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	board, err := h.profiles.Leaderboard(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 2 || board[0].ID != bob.ID || board[1].ID != carol.ID {
		t.Fatalf("leaderboard = %+v", board)
	}
	if board[0].XP != reputation.Points(reputation.DealClosed) {
		t.Fatalf("bob xp = %d", board[0].XP)
	}
}

func TestProfileSubscriptionSeesAward(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.profiles.Ensure(ctx, bob); err != nil {
		t.Fatal(err)
	}
	sub, err := h.profiles.Subscribe(ctx, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if first := <-sub.Updates(); first.XP != 0 {
		t.Fatalf("initial xp = %d", first.XP)
	}
	if _, err := h.engine.Record(ctx, reputation.Event{UserID: bob.ID, Kind: reputation.DealClosed, Key: "d1"}); err != nil {
		t.Fatal(err)
	}
	p, ok := <-sub.Updates()
	if !ok {
		t.Fatalf("subscription ended: %v", sub.Err())
	}
	if p.XP != reputation.Points(reputation.DealClosed) || !contains(p.Badges, "deal_maker") {
		t.Fatalf("profile = %+v", p)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
