package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

func TestPresenceLifecycle(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Presence()
	now := time.Now().UTC()

	if err := store.Upsert(ctx, model.PresenceRecord{UserID: "u1", DisplayName: "Ann", IsOnline: true, LastSeen: now}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.SetTyping(ctx, "u1", "general", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	rec, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.IsOnline || !rec.IsTyping || rec.TypingChannelID != "general" || rec.DisplayName != "Ann" {
		t.Fatalf("record = %+v", rec)
	}

	if err := store.SetTyping(ctx, "u1", "general", false); err != nil {
		t.Fatalf("SetTyping false: %v", err)
	}
	rec, _ = store.Get(ctx, "u1")
	if rec.IsTyping || rec.TypingChannelID != "" {
		t.Fatalf("typing not cleared: %+v", rec)
	}

	online, _ := store.Online(ctx)
	if len(online) != 1 || online[0].UserID != "u1" {
		t.Fatalf("Online = %+v", online)
	}

	if err := store.SetOffline(ctx, "u1", now.Add(time.Second)); err != nil {
		t.Fatalf("SetOffline: %v", err)
	}
	online, _ = store.Online(ctx)
	if len(online) != 0 {
		t.Fatalf("Online after offline = %+v", online)
	}
	rec, _ = store.Get(ctx, "u1")
	if rec.IsOnline || rec.DisplayName != "Ann" {
		t.Fatalf("offline record = %+v", rec)
	}
}

func TestPresenceSetTypingUnknownUser(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.Presence().SetTyping(context.Background(), "ghost", "general", true)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPresenceStaleOnline(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Presence()
	now := time.Now()
	_ = store.Touch(ctx, "old", now.Add(-5*time.Minute))
	_ = store.Touch(ctx, "fresh", now)

	stale, err := store.StaleOnline(ctx, now.Add(-90*time.Second))
	if err != nil {
		t.Fatalf("StaleOnline: %v", err)
	}
	if len(stale) != 1 || stale[0] != "old" {
		t.Fatalf("stale = %v", stale)
	}
}
