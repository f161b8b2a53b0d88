package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestUpdateExistingMissingKey(t *testing.T) {
	c, _ := newTestClient(t)
	err := updateExisting(context.Background(), c.cli, "msg:nope", "body", "x")
	if err == nil {
		t.Fatal("expected ErrNotFound")
	}
}

func TestFlatToMap(t *testing.T) {
	m := flatToMap([]any{"a", "1", "b", "2", "dangling"})
	if len(m) != 2 || m["a"] != "1" || m["b"] != "2" {
		t.Fatalf("flatToMap = %v", m)
	}
}
