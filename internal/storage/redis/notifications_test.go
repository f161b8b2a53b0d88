package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dealhub/internal/model"
)

func TestNotificationsRecentAndRead(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Notifications(0)
	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		n := &model.Notification{OwnerID: "u1", CreatedAt: base.Add(time.Duration(i) * time.Second),
			Payload: model.NotificationPayload{Kind: model.NotifyReaction, Text: fmt.Sprintf("n%d", i)}}
		if err := store.Add(ctx, n); err != nil {
			t.Fatalf("Add: %v", err)
		}
		ids = append(ids, n.ID)
	}

	recent, err := store.Recent(ctx, "u1", 20)
	if err != nil || len(recent) != 3 {
		t.Fatalf("Recent = %d, %v", len(recent), err)
	}
	if recent[0].Payload.Text != "n2" || recent[2].Payload.Text != "n0" {
		t.Fatalf("Recent must be newest first: %+v", recent)
	}
	if n, _ := store.UnreadCount(ctx, "u1"); n != 3 {
		t.Fatalf("UnreadCount = %d", n)
	}

	ok, err := store.MarkRead(ctx, "u1", ids[0])
	if err != nil || !ok {
		t.Fatalf("MarkRead ok=%v err=%v", ok, err)
	}
	if ok, _ := store.MarkRead(ctx, "u2", ids[1]); ok {
		t.Fatal("MarkRead by another owner must report false")
	}
	if n, _ := store.UnreadCount(ctx, "u1"); n != 2 {
		t.Fatalf("UnreadCount after MarkRead = %d", n)
	}

	n, err := store.MarkAllRead(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("MarkAllRead = %d, %v", n, err)
	}
	recent, _ = store.Recent(ctx, "u1", 20)
	for _, item := range recent {
		if !item.Read {
			t.Fatalf("item %s still unread", item.ID)
		}
	}
}

func TestNotificationsTrimmedToCapacity(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Notifications(5)
	base := time.Now().UTC()
	for i := 0; i < 8; i++ {
		_ = store.Add(ctx, &model.Notification{OwnerID: "u1", CreatedAt: base.Add(time.Duration(i) * time.Second),
			Payload: model.NotificationPayload{Kind: model.NotifySystem, Text: fmt.Sprintf("n%d", i)}})
	}
	recent, _ := store.Recent(ctx, "u1", 100)
	if len(recent) != 5 || recent[4].Payload.Text != "n3" {
		t.Fatalf("Recent after trim = %+v", recent)
	}
	if n, _ := store.UnreadCount(ctx, "u1"); n != 5 {
		t.Fatalf("UnreadCount after trim = %d", n)
	}
}
