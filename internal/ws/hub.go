package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dealhub/internal/live"
	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/metrics"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/service"
)

// Services are the command and query services the hub serves over WebSocket.
type Services struct {
	Channels      *service.Channels
	Threads       *service.Threads
	Direct        *service.Direct
	Notifications *service.Notifications
	Presence      *service.Presence
	Profiles      *service.Profiles
	Unread        *service.Unread
}

// PresenceView is the presence snapshot; Typing is filled when the
// subscription names a channel.
type PresenceView struct {
	Online []model.PresenceRecord `json:"online"`
	Typing []model.PresenceRecord `json:"typing,omitempty"`
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	maxConns   int
	svc        Services
	register   chan *Client
	unregister chan *Client
	stopping   chan struct{}
	done       chan struct{}
}

func NewHub(svc Services, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		svc:        svc,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.stopping)
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	metrics.WSConnections.Sub(float64(h.total))
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seen := make(map[string]struct{}, len(allClients))
	for _, c := range allClients {
		if _, ok := seen[c.id.ID]; ok {
			continue
		}
		seen[c.id.ID] = struct{}{}
		if err := h.svc.Presence.Disconnect(ctx, c.id.ID); err != nil {
			logger.Errorf("ws shutdown offline user=%s: %v", c.id.ID, err)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.id.ID)
		c.Close()
		return
	}
	first := false
	if _, ok := h.clients[c.id.ID]; !ok {
		h.clients[c.id.ID] = make(map[*Client]struct{})
		first = true
	}
	h.clients[c.id.ID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
	metrics.WSConnections.Inc()

	// presence follows the first/last connection of a user, not every tab
	if first {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.svc.Presence.Connect(ctx, c.id.ID, c.id.Name); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.id.ID, err)
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.id.ID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.id.ID)
	}
	h.mu.Unlock()
	metrics.WSConnections.Dec()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.svc.Presence.Disconnect(ctx, c.id.ID); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.id.ID, err)
		}
	}
}

// Connections returns the number of open connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSubscribe:
		h.handleSubscribe(ctx, c, msg)
	case EventUnsubscribe:
		if c.dropSub(msg.SubID, nil) {
			h.sendToClient(c, OutgoingMessage{Type: EventUnsubscribed, SubID: msg.SubID})
		}
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	case EventHeartbeat:
		h.handleHeartbeat(ctx, c)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	default:
		h.sendError(c, "unknown event type")
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSubscribe", time.Now())()
	if msg.SubID == "" {
		h.sendError(c, "sub_id required")
		return
	}
	// a reused sub_id replaces the previous subscription
	c.dropSub(msg.SubID, nil)

	var err error
	switch msg.Topic {
	case TopicChannel:
		var sub *live.Subscription[[]model.Message]
		if sub, err = h.svc.Channels.Subscribe(ctx, msg.ChannelID, msg.Limit); err == nil {
			forward(c, msg.SubID, msg.Topic, sub, func(v []model.Message) any { return messageViews(v, c.id.Admin) })
		}
	case TopicThread:
		var sub *live.Subscription[[]model.Reply]
		if sub, err = h.svc.Threads.Subscribe(ctx, msg.ParentID); err == nil {
			forward(c, msg.SubID, msg.Topic, sub, func(v []model.Reply) any { return replyViews(v, c.id.Admin) })
		}
	case TopicConversation:
		err = h.subscribeConversation(ctx, c, msg)
	case TopicInbox:
		var sub *live.Subscription[[]model.Conversation]
		if sub, err = h.svc.Direct.SubscribeInbox(ctx, c.id.ID); err == nil {
			forward(c, msg.SubID, msg.Topic, sub, func(v []model.Conversation) any { return v })
		}
	case TopicNotifications:
		var sub *live.Subscription[model.Inbox]
		if sub, err = h.svc.Notifications.Subscribe(ctx, c.id.ID); err == nil {
			forward(c, msg.SubID, msg.Topic, sub, func(v model.Inbox) any { return v })
		}
	case TopicPresence:
		var sub *live.Subscription[[]model.PresenceRecord]
		if sub, err = h.svc.Presence.Subscribe(ctx); err == nil {
			channelID := msg.ChannelID
			forward(c, msg.SubID, msg.Topic, sub, func(v []model.PresenceRecord) any {
				view := PresenceView{Online: v}
				if channelID != "" {
					view.Typing = service.TypingIn(v, channelID, c.id.ID)
				}
				return view
			})
		}
	case TopicProfile:
		userID := msg.UserID
		if userID == "" {
			userID = c.id.ID
		}
		var sub *live.Subscription[*model.UserProfile]
		if sub, err = h.svc.Profiles.Subscribe(ctx, userID); err == nil {
			forward(c, msg.SubID, msg.Topic, sub, func(v *model.UserProfile) any { return v })
		}
	default:
		err = errors.New("unknown topic")
	}
	if err != nil {
		logger.Warnf("ws subscribe user=%s topic=%s: %v", c.id.ID, msg.Topic, err)
		h.sendToClient(c, OutgoingMessage{Type: EventSubscriptionError, SubID: msg.SubID, Topic: msg.Topic, Payload: ErrorPayload{Message: err.Error()}})
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventSubscribed, SubID: msg.SubID, Topic: msg.Topic})
}

func (h *Hub) subscribeConversation(ctx context.Context, c *Client, msg IncomingMessage) error {
	conv, err := h.svc.Direct.Get(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(c.id.ID) {
		return service.ErrNotParticipant
	}
	sub, err := h.svc.Direct.Subscribe(ctx, conv.ID)
	if err != nil {
		return err
	}
	forward(c, msg.SubID, msg.Topic, sub, func(v service.ConversationView) any { return v })
	return nil
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.IsTyping && msg.ChannelID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.svc.Presence.SetTyping(ctx, c.id.ID, msg.ChannelID, msg.IsTyping); err != nil {
		logger.Errorf("ws typing user=%s: %v", c.id.ID, err)
	}
}

func (h *Hub) handleHeartbeat(ctx context.Context, c *Client) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.svc.Presence.Heartbeat(ctx, c.id.ID); err != nil {
		logger.Errorf("ws heartbeat user=%s: %v", c.id.ID, err)
	}
	h.sendToClient(c, OutgoingMessage{Type: EventPong})
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var err error
	switch {
	case msg.ConversationID != "":
		err = h.svc.Direct.MarkRead(ctx, msg.ConversationID, c.id.ID)
	case msg.ChannelID != "":
		err = h.svc.Unread.MarkChannelRead(ctx, c.id.ID, msg.ChannelID)
	default:
		h.sendError(c, "channel_id or conversation_id required")
		return
	}
	if err != nil {
		logger.Errorf("ws mark read user=%s: %v", c.id.ID, err)
		h.sendError(c, "failed to mark read")
	}
}

func (h *Hub) sendError(c *Client, text string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: text}})
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.id.ID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopping:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopping:
	}
}

// forward pumps snapshots of sub to the client until the subscription ends. A
// failed view is reported as subscription_error; sibling subscriptions keep running.
func forward[T any](c *Client, subID string, topic Topic, sub *live.Subscription[T], view func(T) any) {
	entry := c.addSub(subID, sub.Close)
	go func() {
		for v := range sub.Updates() {
			c.hub.sendToClient(c, OutgoingMessage{Type: EventSnapshot, SubID: subID, Topic: topic, Payload: view(v)})
		}
		err := sub.Err()
		if err == nil || errors.Is(err, live.ErrClosed) {
			return
		}
		if c.dropSub(subID, entry) {
			c.hub.sendToClient(c, OutgoingMessage{Type: EventSubscriptionError, SubID: subID, Topic: topic, Payload: ErrorPayload{Message: err.Error()}})
		}
	}()
}

func messageViews(msgs []model.Message, admin bool) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.ViewFor(admin)
	}
	return out
}

func replyViews(replies []model.Reply, admin bool) []model.Reply {
	out := make([]model.Reply, len(replies))
	for i, r := range replies {
		out[i] = r.ViewFor(admin)
	}
	return out
}
