package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/blob"
	"github.com/dealhub/internal/config"
	"github.com/dealhub/internal/middleware"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/service"
	"github.com/dealhub/internal/storage/memory"
	redisstorage "github.com/dealhub/internal/storage/redis"
)

const internalToken = "test-internal-token"

type testAPI struct {
	router   http.Handler
	store    *redisstorage.Client
	channels *service.Channels
	direct   *service.Direct
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	store := redisstorage.Wrap(cli)
	bus := memory.NewBus()

	cfg := &config.Config{
		Channels: config.DefaultChannels,
		Blob:     config.BlobConfig{MaxSize: 1 << 20, AllowedMIME: []string{"image/png", "text/plain"}},
	}
	notifications := service.NewNotifications(store.Notifications(200), bus, nil, 0)
	engine := reputation.NewEngine(store.Profiles(), notifications).WithBus(bus)
	profiles := service.NewProfiles(store.Profiles(), bus)
	channels := service.NewChannels(store.Messages(), bus, nil, notifications, cfg.Channels)
	threads := service.NewThreads(store.Messages(), store.Threads(), bus, nil, notifications)
	reactions := service.NewReactions(store.Messages(), store.Threads(), store.Reactions(), bus, nil, notifications)
	direct := service.NewDirect(store.Conversations(), bus, nil, notifications)
	presence := service.NewPresence(store.Presence(), bus, time.Second)
	unread := service.NewUnread(store.Unread(), store.Messages(), cfg.Channels)

	disk, err := blob.NewDiskStore(t.TempDir(), "/files")
	if err != nil {
		t.Fatal(err)
	}
	router := NewRouter(Handlers{
		Messages:      NewMessageHandler(channels, profiles, unread),
		Threads:       NewThreadHandler(threads, reactions, profiles),
		Direct:        NewDirectHandler(direct, profiles),
		Notifications: NewNotificationHandler(notifications),
		Profiles:      NewProfileHandler(profiles, presence),
		Uploads:       NewUploadHandler(disk, blob.LimitsFrom(cfg.Blob)),
		Config:        NewConfigHandler(cfg, nil),
		Reputation:    NewReputationHandler(engine),
	}, RouterOptions{InternalToken: internalToken, Ensure: EnsureProfiles(profiles)})

	ctx := context.Background()
	if _, err := store.Profiles().Ensure(ctx, "admin", "Admin"); err != nil {
		t.Fatal(err)
	}
	if err := store.Profiles().SetRole(ctx, "admin", model.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	return &testAPI{router: router, store: store, channels: channels, direct: direct}
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
		req.Header.Set(middleware.HeaderUserName, strings.ToUpper(user[:1])+user[1:])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func TestRequiresIdentity(t *testing.T) {
	api := newTestAPI(t)
	expectStatus(t, api.do(t, http.MethodGet, "/api/channels", "", nil), http.StatusUnauthorized)
	expectStatus(t, api.do(t, http.MethodGet, "/health", "", nil), http.StatusOK)
}

func TestSendAndListMessages(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/api/channels/general/messages", "alice", map[string]string{"body": "hello"})
	expectStatus(t, rec, http.StatusCreated)
	msg := decode[model.Message](t, rec)
	if msg.Body != "hello" || msg.AuthorName != "Alice" || msg.ReplyCount != 0 {
		t.Fatalf("message = %+v", msg)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/api/channels/general/messages", "alice", map[string]string{"body": "   "}), http.StatusNoContent)
	expectStatus(t, api.do(t, http.MethodPost, "/api/channels/nope/messages", "alice", map[string]string{"body": "x"}), http.StatusNotFound)
	api.do(t, http.MethodPost, "/api/channels/general/messages", "alice", map[string]string{"body": "second"})

	rec = api.do(t, http.MethodGet, "/api/channels/general/messages?tz=Europe/Moscow", "bob", nil)
	expectStatus(t, rec, http.StatusOK)
	views := decode[[]service.MessageView](t, rec)
	if len(views) != 2 || views[0].Body != "hello" || views[1].Body != "second" {
		t.Fatalf("views = %+v", views)
	}
	if !views[0].ShowHeader || views[1].ShowHeader {
		t.Errorf("grouping: %v %v", views[0].ShowHeader, views[1].ShowHeader)
	}

	rec = api.do(t, http.MethodGet, "/api/channels", "bob", nil)
	expectStatus(t, rec, http.StatusOK)
	chans := decode[[]channelView](t, rec)
	for _, ch := range chans {
		if want := ch.ID == "general"; ch.Unread != want {
			t.Errorf("channel %s unread = %v", ch.ID, ch.Unread)
		}
	}
	expectStatus(t, api.do(t, http.MethodPost, "/api/channels/general/read", "bob", nil), http.StatusNoContent)

	rec = api.do(t, http.MethodGet, "/api/channels/general/search?q=SEC", "bob", nil)
	found := decode[[]model.Message](t, rec)
	if len(found) != 1 || found[0].Body != "second" {
		t.Fatalf("search = %+v", found)
	}
}

func TestEditAndDeletePermissions(t *testing.T) {
	api := newTestAPI(t)
	msg := decode[model.Message](t, api.do(t, http.MethodPost, "/api/channels/general/messages", "alice", map[string]string{"body": "draft"}))
	path := "/api/messages/" + msg.ID

	expectStatus(t, api.do(t, http.MethodPatch, path, "bob", map[string]string{"body": "hacked"}), http.StatusForbidden)
	rec := api.do(t, http.MethodPatch, path, "alice", map[string]string{"body": "final"})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[model.Message](t, rec); got.Body != "final" || !got.IsEdited {
		t.Fatalf("edited = %+v", got)
	}

	expectStatus(t, api.do(t, http.MethodDelete, path, "bob", nil), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodDelete, path, "alice", nil), http.StatusNoContent)

	views := decode[[]service.MessageView](t, api.do(t, http.MethodGet, "/api/channels/general/messages", "bob", nil))
	if len(views) != 1 || views[0].Body != model.DeletedPlaceholder {
		t.Fatalf("member view = %+v", views)
	}
	views = decode[[]service.MessageView](t, api.do(t, http.MethodGet, "/api/channels/general/messages", "admin", nil))
	if views[0].Body != "final" || !views[0].IsDeleted {
		t.Fatalf("admin view = %+v", views)
	}
	expectStatus(t, api.do(t, http.MethodDelete, "/api/messages/missing", "alice", nil), http.StatusNotFound)
}

func TestPinIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	msg := decode[model.Message](t, api.do(t, http.MethodPost, "/api/channels/wins/messages", "alice", map[string]string{"body": "closed my first flip"}))
	pin := "/api/messages/" + msg.ID + "/pin"

	expectStatus(t, api.do(t, http.MethodPost, pin, "alice", nil), http.StatusForbidden)
	rec := api.do(t, http.MethodPost, pin, "admin", nil)
	expectStatus(t, rec, http.StatusOK)
	if !decode[model.Message](t, rec).IsPinned {
		t.Fatal("message not pinned")
	}
	pinned := decode[[]model.Message](t, api.do(t, http.MethodGet, "/api/channels/wins/pinned", "bob", nil))
	if len(pinned) != 1 || pinned[0].ID != msg.ID {
		t.Fatalf("pinned = %+v", pinned)
	}
	expectStatus(t, api.do(t, http.MethodDelete, pin, "admin", nil), http.StatusOK)
	pinned = decode[[]model.Message](t, api.do(t, http.MethodGet, "/api/channels/wins/pinned", "bob", nil))
	if len(pinned) != 0 {
		t.Fatalf("pinned after unpin = %+v", pinned)
	}
}

func TestRepliesAndReactions(t *testing.T) {
	api := newTestAPI(t)
	msg := decode[model.Message](t, api.do(t, http.MethodPost, "/api/channels/general/messages", "alice", map[string]string{"body": "comps?"}))

	rec := api.do(t, http.MethodPost, "/api/messages/"+msg.ID+"/reactions", "bob", map[string]string{"emoji": "👍"})
	expectStatus(t, rec, http.StatusOK)
	res := decode[toggleReactionResponse](t, rec)
	if !res.Added || !res.Reactions.Has("👍", "bob") {
		t.Fatalf("toggle = %+v", res)
	}
	res = decode[toggleReactionResponse](t, api.do(t, http.MethodPost, "/api/messages/"+msg.ID+"/reactions", "bob", map[string]string{"emoji": "👍"}))
	if res.Added || len(res.Reactions) != 0 {
		t.Fatalf("untoggle = %+v", res)
	}
	expectStatus(t, api.do(t, http.MethodPost, "/api/messages/"+msg.ID+"/reactions", "bob", map[string]string{"emoji": " "}), http.StatusBadRequest)

	rec = api.do(t, http.MethodPost, "/api/messages/"+msg.ID+"/replies", "bob", map[string]string{"body": "pulled three"})
	expectStatus(t, rec, http.StatusCreated)
	reply := decode[model.Reply](t, rec)
	expectStatus(t, api.do(t, http.MethodPost, "/api/messages/"+msg.ID+"/replies", "bob", map[string]string{"body": ""}), http.StatusNoContent)

	replies := decode[[]model.Reply](t, api.do(t, http.MethodGet, "/api/messages/"+msg.ID+"/replies", "alice", nil))
	if len(replies) != 1 || replies[0].ID != reply.ID {
		t.Fatalf("replies = %+v", replies)
	}
	expectStatus(t, api.do(t, http.MethodDelete, "/api/replies/"+reply.ID, "alice", nil), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodDelete, "/api/replies/"+reply.ID, "bob", nil), http.StatusNoContent)

	inbox := decode[model.Inbox](t, api.do(t, http.MethodGet, "/api/notifications", "alice", nil))
	if inbox.UnreadCount == 0 {
		t.Fatal("alice should have notifications")
	}
	expectStatus(t, api.do(t, http.MethodPost, "/api/notifications/read", "alice", nil), http.StatusNoContent)
	inbox = decode[model.Inbox](t, api.do(t, http.MethodGet, "/api/notifications", "alice", nil))
	if inbox.UnreadCount != 0 {
		t.Fatalf("unread after mark all = %d", inbox.UnreadCount)
	}
}

func TestDirectMessages(t *testing.T) {
	api := newTestAPI(t)
	// bob must exist before alice can open a conversation with him
	api.do(t, http.MethodGet, "/api/profiles/me", "bob", nil)

	expectStatus(t, api.do(t, http.MethodPost, "/api/conversations", "alice", map[string]string{"user_id": "alice"}), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodPost, "/api/conversations", "alice", map[string]string{"user_id": "ghost"}), http.StatusNotFound)

	rec := api.do(t, http.MethodPost, "/api/conversations", "alice", map[string]string{"user_id": "bob"})
	expectStatus(t, rec, http.StatusOK)
	conv := decode[model.Conversation](t, rec)
	again := decode[model.Conversation](t, api.do(t, http.MethodPost, "/api/conversations", "bob", map[string]string{"user_id": "alice"}))
	if again.ID != conv.ID {
		t.Fatalf("second open created %s, want %s", again.ID, conv.ID)
	}

	base := "/api/conversations/" + conv.ID
	for i := 0; i < 3; i++ {
		expectStatus(t, api.do(t, http.MethodPost, base+"/messages", "alice", map[string]string{"body": "offer attached"}), http.StatusCreated)
	}
	rec = api.do(t, http.MethodPost, base+"/messages", "carol", map[string]string{"body": "let me in"})
	expectStatus(t, rec, http.StatusForbidden)
	if e := decode[errorResponse](t, rec); e.Draft != "let me in" {
		t.Fatalf("draft = %q", e.Draft)
	}
	expectStatus(t, api.do(t, http.MethodGet, base+"/messages", "carol", nil), http.StatusForbidden)

	list := decode[[]model.Conversation](t, api.do(t, http.MethodGet, "/api/conversations", "bob", nil))
	if len(list) != 1 || list[0].Unread["bob"] != 3 || list[0].Unread["alice"] != 0 {
		t.Fatalf("bob conversations = %+v", list)
	}
	expectStatus(t, api.do(t, http.MethodPost, base+"/read", "bob", nil), http.StatusNoContent)
	list = decode[[]model.Conversation](t, api.do(t, http.MethodGet, "/api/conversations", "bob", nil))
	if list[0].Unread["bob"] != 0 {
		t.Fatalf("unread after read = %d", list[0].Unread["bob"])
	}
	msgs := decode[[]model.DirectMessage](t, api.do(t, http.MethodGet, base+"/messages", "bob", nil))
	if len(msgs) != 3 {
		t.Fatalf("messages = %d", len(msgs))
	}
}

func TestProfilesAndRoles(t *testing.T) {
	api := newTestAPI(t)
	me := decode[model.UserProfile](t, api.do(t, http.MethodGet, "/api/profiles/me", "alice", nil))
	if me.DisplayName != "Alice" || me.Rank.Name != "Rookie" {
		t.Fatalf("me = %+v", me)
	}
	rec := api.do(t, http.MethodPut, "/api/profiles/me/avatar", "alice", map[string]string{"avatar_url": "/files/a.png"})
	expectStatus(t, rec, http.StatusOK)
	if decode[model.UserProfile](t, rec).AvatarURL != "/files/a.png" {
		t.Fatal("avatar not set")
	}

	expectStatus(t, api.do(t, http.MethodPut, "/api/profiles/bob/role", "alice", map[string]string{"role": "admin"}), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodPut, "/api/profiles/alice/role", "admin", map[string]string{"role": "owner"}), http.StatusBadRequest)
	rec = api.do(t, http.MethodPut, "/api/profiles/alice/role", "admin", map[string]string{"role": "admin"})
	expectStatus(t, rec, http.StatusOK)
	if decode[model.UserProfile](t, rec).Role != model.RoleAdmin {
		t.Fatal("role not updated")
	}

	ranks := decode[map[string]json.RawMessage](t, api.do(t, http.MethodGet, "/api/ranks", "alice", nil))
	if _, ok := ranks["awards"]; !ok {
		t.Fatalf("ranks payload lacks awards: %v", ranks)
	}
	if _, ok := ranks["ranks"]; !ok {
		t.Fatalf("ranks payload = %v", ranks)
	}
}

func TestInternalReputationEvents(t *testing.T) {
	api := newTestAPI(t)
	post := func(token string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(body)
		req := httptest.NewRequest(http.MethodPost, "/internal/reputation/events", &buf)
		if token != "" {
			req.Header.Set(middleware.HeaderInternalToken, token)
		}
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		return rec
	}
	ev := map[string]string{"user_id": "alice", "kind": "deal_closed", "key": "deal-42"}

	expectStatus(t, post("", ev), http.StatusForbidden)
	expectStatus(t, post(internalToken, map[string]string{"user_id": "alice", "kind": "MESSAGE_SENT", "key": "x"}), http.StatusBadRequest)
	expectStatus(t, post(internalToken, map[string]string{"user_id": "alice", "kind": "JOB_POSTED"}), http.StatusBadRequest)

	rec := post(internalToken, ev)
	expectStatus(t, rec, http.StatusOK)
	out := decode[reputation.Outcome](t, rec)
	if !out.Applied || out.XP != 50 {
		t.Fatalf("outcome = %+v", out)
	}
	out = decode[reputation.Outcome](t, post(internalToken, ev))
	if out.Applied || out.XP != 50 {
		t.Fatalf("replayed outcome = %+v", out)
	}

	board := decode[[]model.UserProfile](t, api.do(t, http.MethodGet, "/api/leaderboard", "bob", nil))
	if len(board) == 0 || board[0].ID != "alice" {
		t.Fatalf("leaderboard = %+v", board)
	}
}

func TestUploadAndServe(t *testing.T) {
	api := newTestAPI(t)
	png := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{7}, 64)...)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="kitchen.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(png)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.HeaderUserID, "alice")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusCreated)
	att := decode[model.Attachment](t, rec)
	if att.Name != "kitchen.png" || att.Size != int64(len(png)) {
		t.Fatalf("attachment = %+v", att)
	}

	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, att.URL, nil))
	expectStatus(t, rec, http.StatusOK)
	if !bytes.Equal(rec.Body.Bytes(), png) {
		t.Fatal("served bytes differ")
	}

	msg := decode[model.Message](t, api.do(t, http.MethodPost, "/api/channels/deal-analysis/messages", "alice", map[string]any{
		"attachments": []model.Attachment{att},
	}))
	if len(msg.Attachments) != 1 || msg.Attachments[0].URL != att.URL {
		t.Fatalf("message attachments = %+v", msg.Attachments)
	}
}

func TestClientConfig(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/config/push", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if decode[map[string]any](t, rec)["enabled"] != false {
		t.Fatal("push should be disabled without a pusher")
	}
	cfg := decode[map[string]json.RawMessage](t, api.do(t, http.MethodGet, "/api/config", "", nil))
	if _, ok := cfg["channels"]; !ok {
		t.Fatalf("config = %v", cfg)
	}
}
