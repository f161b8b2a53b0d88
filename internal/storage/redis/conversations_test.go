package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

func TestFindOrCreateUnorderedPair(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Conversations()
	ann := model.Participant{ID: "ann", Name: "Ann"}
	bob := model.Participant{ID: "bob", Name: "Bob"}

	id1, created, err := store.FindOrCreate(ctx, bob, ann)
	if err != nil || !created {
		t.Fatalf("FindOrCreate: created=%v err=%v", created, err)
	}
	id2, created, err := store.FindOrCreate(ctx, ann, bob)
	if err != nil || created || id2 != id1 {
		t.Fatalf("second FindOrCreate: id=%s created=%v err=%v", id2, created, err)
	}
	conv, err := store.Get(ctx, id1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.ParticipantIDs != [2]string{"ann", "bob"} {
		t.Fatalf("participants = %v", conv.ParticipantIDs)
	}
	if conv.Names["bob"] != "Bob" || conv.Unread["ann"] != 0 || conv.LastMessage != nil {
		t.Fatalf("conversation = %+v", conv)
	}
}

func TestFindOrCreateConcurrent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Conversations()
	ann := model.Participant{ID: "ann", Name: "Ann"}
	bob := model.Participant{ID: "bob", Name: "Bob"}

	const n = 10
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := ann, bob
			if i%2 == 1 {
				a, b = bob, ann
			}
			ids[i], _, _ = store.FindOrCreate(ctx, a, b)
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if ids[i] == "" || ids[i] != ids[0] {
			t.Fatalf("ids diverged: %v", ids)
		}
	}
	list, _ := store.ListFor(ctx, "ann")
	if len(list) != 1 {
		t.Fatalf("ListFor = %d conversations, want 1", len(list))
	}
}

func TestAppendDirectUnreadAndReset(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Conversations()
	id, _, _ := store.FindOrCreate(ctx, model.Participant{ID: "ann"}, model.Participant{ID: "bob"})

	for _, body := range []string{"one", "two", "three"} {
		dm := &model.DirectMessage{ConversationID: id, AuthorID: "ann", Body: body}
		if _, err := store.AppendDirect(ctx, dm, "bob", ""); err != nil {
			t.Fatalf("AppendDirect: %v", err)
		}
	}
	conv, _ := store.Get(ctx, id)
	if conv.Unread["bob"] != 3 || conv.Unread["ann"] != 0 {
		t.Fatalf("unread = %v", conv.Unread)
	}
	if conv.LastMessage == nil || conv.LastMessage.Body != "three" || conv.LastMessage.AuthorID != "ann" {
		t.Fatalf("last message = %+v", conv.LastMessage)
	}

	if err := store.ResetUnread(ctx, id, "bob"); err != nil {
		t.Fatalf("ResetUnread: %v", err)
	}
	conv, _ = store.Get(ctx, id)
	if conv.Unread["bob"] != 0 {
		t.Fatalf("unread after reset = %d", conv.Unread["bob"])
	}

	msgs, err := store.Messages(ctx, id, 50)
	if err != nil || len(msgs) != 3 || msgs[0].Body != "one" || msgs[2].Body != "three" {
		t.Fatalf("Messages = %+v, %v", msgs, err)
	}
}

func TestAppendDirectMissingConversation(t *testing.T) {
	c, _ := newTestClient(t)
	dm := &model.DirectMessage{ConversationID: "nope", AuthorID: "ann", Body: "hi"}
	if _, err := c.Conversations().AppendDirect(context.Background(), dm, "bob", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListForOrdersByActivity(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	store := c.Conversations()
	withBob, _, _ := store.FindOrCreate(ctx, model.Participant{ID: "ann"}, model.Participant{ID: "bob"})
	withCat, _, _ := store.FindOrCreate(ctx, model.Participant{ID: "ann"}, model.Participant{ID: "cat"})
	_, _ = store.AppendDirect(ctx, &model.DirectMessage{ConversationID: withCat, AuthorID: "cat", Body: "x"}, "ann", "")
	_, _ = store.AppendDirect(ctx, &model.DirectMessage{ConversationID: withBob, AuthorID: "bob", Body: "y"}, "ann", "")

	list, err := store.ListFor(ctx, "ann")
	if err != nil || len(list) != 2 {
		t.Fatalf("ListFor = %+v, %v", list, err)
	}
	if list[0].ID != withBob {
		t.Fatalf("most recent first: got %s", list[0].ID)
	}
}
