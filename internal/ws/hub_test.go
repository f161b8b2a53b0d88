package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/config"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/service"
	"github.com/dealhub/internal/storage/memory"
	redisstorage "github.com/dealhub/internal/storage/redis"
)

type testEnv struct {
	hub *Hub
	svc Services
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	store := redisstorage.Wrap(cli)
	bus := memory.NewBus()

	notifications := service.NewNotifications(store.Notifications(200), bus, nil, 0)
	svc := Services{
		Channels:      service.NewChannels(store.Messages(), bus, nil, notifications, config.DefaultChannels),
		Threads:       service.NewThreads(store.Messages(), store.Threads(), bus, nil, notifications),
		Direct:        service.NewDirect(store.Conversations(), bus, nil, notifications),
		Notifications: notifications,
		Presence:      service.NewPresence(store.Presence(), bus, time.Second),
		Profiles:      service.NewProfiles(store.Profiles(), bus),
		Unread:        service.NewUnread(store.Unread(), store.Messages(), config.DefaultChannels),
	}
	hub := NewHub(svc, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, Identity{ID: r.URL.Query().Get("user"), Name: r.URL.Query().Get("name")})
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.done
	})
	return &testEnv{hub: hub, svc: svc, srv: srv}
}

func (e *testEnv) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/?user=" + user + "&name=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type rawOutgoing struct {
	Type    EventType       `json:"type"`
	SubID   string          `json:"sub_id"`
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil reads frames until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(rawOutgoing) bool) rawOutgoing {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg rawOutgoing
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChannelSubscriptionSnapshots(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "alice")

	if err := conn.WriteJSON(IncomingMessage{Type: EventSubscribe, SubID: "s1", Topic: TopicChannel, ChannelID: "general"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(m rawOutgoing) bool { return m.Type == EventSubscribed && m.SubID == "s1" })

	_, err := env.svc.Channels.Send(context.Background(), service.SendMessage{
		ChannelID: "general",
		Author:    service.Author{ID: "bob", Name: "Bob"},
		Body:      "new listing on Maple",
	})
	if err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(m rawOutgoing) bool {
		if m.Type != EventSnapshot || m.SubID != "s1" {
			return false
		}
		var msgs []struct {
			Body string `json:"body"`
		}
		if err := json.Unmarshal(m.Payload, &msgs); err != nil {
			t.Fatalf("payload: %v", err)
		}
		return len(msgs) == 1 && msgs[0].Body == "new listing on Maple"
	})
}

func TestSubscribeUnknownChannel(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "alice")
	if err := conn.WriteJSON(IncomingMessage{Type: EventSubscribe, SubID: "bad", Topic: TopicChannel, ChannelID: "nope"}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, conn, func(m rawOutgoing) bool { return m.SubID == "bad" })
	if msg.Type != EventSubscriptionError {
		t.Fatalf("type = %s", msg.Type)
	}
	// the connection keeps working
	if err := conn.WriteJSON(IncomingMessage{Type: EventHeartbeat}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(m rawOutgoing) bool { return m.Type == EventPong })
}

func TestConversationSubscriptionRequiresParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	convID, err := env.svc.Direct.FindOrCreate(ctx, modelParticipant("alice"), modelParticipant("bob"))
	if err != nil {
		t.Fatal(err)
	}
	conn := env.dial(t, "mallory")
	if err := conn.WriteJSON(IncomingMessage{Type: EventSubscribe, SubID: "c", Topic: TopicConversation, ConversationID: convID}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, conn, func(m rawOutgoing) bool { return m.SubID == "c" })
	if msg.Type != EventSubscriptionError {
		t.Fatalf("outsider got %s", msg.Type)
	}
}

func TestPresenceFollowsConnections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.dial(t, "alice")
	second := env.dial(t, "alice")
	waitUntil(t, "two connections", func() bool { return env.hub.Connections("alice") == 2 })

	rec, err := env.svc.Presence.Get(ctx, "alice")
	if err != nil || !rec.IsOnline {
		t.Fatalf("presence after connect = %+v, %v", rec, err)
	}

	_ = first.Close()
	waitUntil(t, "one connection", func() bool { return env.hub.Connections("alice") == 1 })
	rec, _ = env.svc.Presence.Get(ctx, "alice")
	if !rec.IsOnline {
		t.Fatal("closing one tab took the user offline")
	}

	_ = second.Close()
	waitUntil(t, "offline", func() bool {
		rec, err := env.svc.Presence.Get(ctx, "alice")
		return err == nil && !rec.IsOnline
	})
}

func TestTypingVisibleToOthers(t *testing.T) {
	env := newTestEnv(t)
	watcher := env.dial(t, "bob")
	typist := env.dial(t, "alice")
	waitUntil(t, "connections", func() bool { return env.hub.Connections("alice") == 1 && env.hub.Connections("bob") == 1 })

	if err := watcher.WriteJSON(IncomingMessage{Type: EventSubscribe, SubID: "p", Topic: TopicPresence, ChannelID: "general"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, watcher, func(m rawOutgoing) bool { return m.Type == EventSubscribed })
	if err := typist.WriteJSON(IncomingMessage{Type: EventTyping, ChannelID: "general", IsTyping: true}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, watcher, func(m rawOutgoing) bool {
		if m.Type != EventSnapshot {
			return false
		}
		var view PresenceView
		if err := json.Unmarshal(m.Payload, &view); err != nil {
			t.Fatalf("payload: %v", err)
		}
		return len(view.Typing) == 1 && view.Typing[0].UserID == "alice"
	})
}

func TestUnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "alice")
	if err := conn.WriteJSON(map[string]string{"type": "dance"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(m rawOutgoing) bool { return m.Type == EventError })
}

func modelParticipant(id string) model.Participant {
	return model.Participant{ID: id, Name: id}
}
