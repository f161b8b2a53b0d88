package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/model"
	redisstorage "github.com/dealhub/internal/storage/redis"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func seed(t *testing.T) string {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	profiles := redisstorage.Wrap(cli).Profiles()
	ctx := context.Background()
	for _, u := range []struct{ id, name string }{{"alice", "Alice"}, {"bob", "Bob"}} {
		if _, err := profiles.Ensure(ctx, u.id, u.name); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := profiles.ApplyAward(ctx, "alice", "seed:1", map[string]int64{model.StatXP: 120, model.StatTotalMessages: 1}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := profiles.ApplyAward(ctx, "bob", "seed:2", map[string]int64{model.StatXP: 30}); err != nil {
		t.Fatal(err)
	}
	return "redis://" + mr.Addr()
}

func TestRanks(t *testing.T) {
	out := run(t, "ranks")
	if !strings.Contains(out, "Legend") || !strings.Contains(out, "10,000 XP") {
		t.Fatalf("ranks output:\n%s", out)
	}
	if !strings.Contains(out, "deal_maker") {
		t.Fatalf("badge catalogue missing:\n%s", out)
	}
}

func TestLeaderboardAndProfile(t *testing.T) {
	url := seed(t)

	out := run(t, "leaderboard", "--redis", url, "--backend", "redis", "-n", "5")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "1st") || !strings.Contains(lines[0], "Alice") {
		t.Fatalf("leaderboard output:\n%s", out)
	}

	out = run(t, "profile", "alice", "--redis", url, "--backend", "redis")
	if !strings.Contains(out, "Alice (alice)") || !strings.Contains(out, "120 XP") {
		t.Fatalf("profile output:\n%s", out)
	}
}

func TestRecomputeBadges(t *testing.T) {
	url := seed(t)
	out := run(t, "recompute-badges", "alice", "bob", "--redis", url, "--backend", "redis")
	if !strings.Contains(out, "alice: 1 new badge(s) [first_message]") {
		t.Fatalf("recompute output:\n%s", out)
	}
	out = run(t, "recompute-badges", "alice", "--redis", url, "--backend", "redis")
	if !strings.Contains(out, "alice: 0 new badge(s)") {
		t.Fatalf("second recompute must be a no-op:\n%s", out)
	}
}
