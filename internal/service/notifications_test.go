package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/push"
)

type fakePusher struct {
	mu   sync.Mutex
	sent map[string][]push.Message
}

func (f *fakePusher) Send(ctx context.Context, userID string, msg push.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][]push.Message)
	}
	f.sent[userID] = append(f.sent[userID], msg)
	return 1, nil
}

func TestNotificationsInbox(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if _, err := h.notifications.Notify(ctx, alice.ID, model.NotificationPayload{Kind: model.NotifySystem, Text: fmt.Sprintf("n%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	inbox, err := h.notifications.Recent(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox.Items) != DefaultRecentNotifications || inbox.UnreadCount != 25 {
		t.Fatalf("items=%d unread=%d", len(inbox.Items), inbox.UnreadCount)
	}
	if inbox.Items[0].Payload.Text != "n24" {
		t.Fatalf("newest first: got %q", inbox.Items[0].Payload.Text)
	}

	if err := h.notifications.MarkRead(ctx, alice.ID, inbox.Items[0].ID); err != nil {
		t.Fatal(err)
	}
	// someone else's id and unknown ids are ignored
	if err := h.notifications.MarkRead(ctx, bob.ID, inbox.Items[1].ID); err != nil {
		t.Fatal(err)
	}
	if err := h.notifications.MarkRead(ctx, alice.ID, "unknown"); err != nil {
		t.Fatal(err)
	}
	inbox, _ = h.notifications.Recent(ctx, alice.ID)
	if inbox.UnreadCount != 24 || !inbox.Items[0].Read || inbox.Items[1].Read {
		t.Fatalf("after mark read unread=%d", inbox.UnreadCount)
	}

	if err := h.notifications.MarkAllRead(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.notifications.MarkAllRead(ctx, carol.ID); err != nil {
		t.Fatal(err)
	}
	inbox, _ = h.notifications.Recent(ctx, alice.ID)
	if inbox.UnreadCount != 0 {
		t.Fatalf("unread after mark all = %d", inbox.UnreadCount)
	}
	for _, n := range inbox.Items {
		if !n.Read {
			t.Fatalf("notification %s still unread", n.ID)
		}
	}
}

func TestNotificationsPush(t *testing.T) {
	h := newHarness(t)
	pusher := &fakePusher{}
	n := NewNotifications(h.store.Notifications(10), h.bus, pusher, 5)
	_, err := n.Notify(context.Background(), bob.ID, model.NotificationPayload{
		Kind:      model.NotifyThreadReply,
		ChannelID: "general",
		MessageID: "m1",
		Text:      "Alice replied: sure",
	})
	if err != nil {
		t.Fatal(err)
	}
	n.WaitPush()
	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	got := pusher.sent[bob.ID]
	if len(got) != 1 || got[0].Title != "New reply" || got[0].Data["message_id"] != "m1" {
		t.Fatalf("pushed = %+v", got)
	}
}

func TestNotificationsSubscribe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub, err := h.notifications.Subscribe(ctx, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if first := <-sub.Updates(); first.UnreadCount != 0 {
		t.Fatalf("initial unread = %d", first.UnreadCount)
	}
	m := h.send(t, "general", alice, "comps attached")
	if err := h.channels.Pin(ctx, m.ID, bob); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case inbox, ok := <-sub.Updates():
			if !ok {
				t.Fatalf("subscription ended: %v", sub.Err())
			}
			for _, n := range inbox.Items {
				if n.Payload.Kind == model.NotifyMessagePinned && !n.Read {
					return
				}
			}
		case <-deadline:
			t.Fatal("pin notification never delivered")
		}
	}
}
