package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dealhub/internal/storage"
)

func TestBusDeliversToTopicSubscribers(t *testing.T) {
	b := NewBus()
	ctx := context.Background()
	s, err := b.Subscribe(ctx, "channel:general", "presence")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()

	_ = b.Publish(ctx, storage.Change{Topic: "channel:other", Kind: "message"})
	_ = b.Publish(ctx, storage.Change{Topic: "channel:general", Kind: "message", ID: "m1"})

	select {
	case ch := <-s.C():
		if ch.Topic != "channel:general" || ch.ID != "m1" {
			t.Fatalf("got %+v", ch)
		}
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	select {
	case ch := <-s.C():
		t.Fatalf("unexpected change %+v", ch)
	default:
	}
}

func TestBusCloseUnsubscribes(t *testing.T) {
	b := NewBus()
	s, _ := b.Subscribe(context.Background(), "presence")
	if n := b.Subscribers("presence"); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
	_ = s.Close()
	_ = s.Close()
	if n := b.Subscribers("presence"); n != 0 {
		t.Fatalf("subscribers after close = %d, want 0", n)
	}
	if _, ok := <-s.C(); ok {
		t.Fatal("stream channel not closed")
	}
	if err := b.Publish(context.Background(), storage.Change{Topic: "presence"}); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
}
