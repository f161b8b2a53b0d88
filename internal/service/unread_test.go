package service

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestUnreadChannels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.send(t, "general", alice, "morning")
	h.send(t, "wins", alice, "closed!")

	got, err := h.unread.UnreadChannels(ctx, bob.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"general", "wins"}) {
		t.Fatalf("unread = %v", got)
	}

	// the open channel is never unread
	ok, err := h.unread.IsUnread(ctx, bob.ID, "general", "general")
	if err != nil || ok {
		t.Fatalf("open channel unread = %v, %v", ok, err)
	}

	h.unread.now = func() time.Time { return time.Now().Add(100 * time.Millisecond) }
	if err := h.unread.MarkChannelRead(ctx, bob.ID, "general"); err != nil {
		t.Fatal(err)
	}
	got, _ = h.unread.UnreadChannels(ctx, bob.ID, "")
	if !slices.Equal(got, []string{"wins"}) {
		t.Fatalf("after mark read = %v", got)
	}

	h.unread.now = time.Now
	time.Sleep(200 * time.Millisecond)
	h.send(t, "general", carol, "new listing")
	ok, err = h.unread.IsUnread(ctx, bob.ID, "general", "wins")
	if err != nil || !ok {
		t.Fatalf("new message not unread: %v, %v", ok, err)
	}
}

func TestUnreadEmptyChannel(t *testing.T) {
	h := newHarness(t)
	ok, err := h.unread.IsUnread(context.Background(), bob.ID, "financing", "")
	if err != nil || ok {
		t.Fatalf("empty channel unread = %v, %v", ok, err)
	}
}
