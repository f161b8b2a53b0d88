package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dealhub/internal/live"
	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

const DefaultTypingTTL = 3 * time.Second

// Presence отслеживает онлайн и набор текста. Сброс набора работает как debounce:
// каждый SetTyping(true) заменяет отложенный сброс, на пользователя не больше одного таймера.
type Presence struct {
	store storage.PresenceStore
	bus   storage.EventBus
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	seq    uint64
	typing map[string]*typingTimer
}

type typingTimer struct {
	gen   uint64
	timer *time.Timer
}

func NewPresence(store storage.PresenceStore, bus storage.EventBus, typingTTL time.Duration) *Presence {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	return &Presence{
		store:  store,
		bus:    bus,
		ttl:    typingTTL,
		now:    time.Now,
		typing: make(map[string]*typingTimer),
	}
}

func (p *Presence) Connect(ctx context.Context, userID, displayName string) error {
	rec := model.PresenceRecord{UserID: userID, DisplayName: displayName, IsOnline: true, LastSeen: p.now().UTC()}
	if err := p.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("presence.Connect: %w", err)
	}
	publish(ctx, p.bus, storage.PresenceTopic, KindPresence, userID)
	return nil
}

// Disconnect помечает пользователя офлайн, сбрасывает набор и отменяет отложенный сброс.
func (p *Presence) Disconnect(ctx context.Context, userID string) error {
	p.cancelTyping(userID)
	if err := p.store.SetOffline(ctx, userID, p.now().UTC()); err != nil {
		return fmt.Errorf("presence.Disconnect: %w", err)
	}
	publish(ctx, p.bus, storage.PresenceTopic, KindPresence, userID)
	return nil
}

// Heartbeat обновляет lastSeen. Подписчиков будит, только если пользователь
// не был онлайн (снят жнецом или ещё не подключался).
func (p *Presence) Heartbeat(ctx context.Context, userID string) error {
	prev, err := p.store.Get(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("presence.Heartbeat: %w", err)
	}
	if err := p.store.Touch(ctx, userID, p.now().UTC()); err != nil {
		return fmt.Errorf("presence.Heartbeat: %w", err)
	}
	if prev == nil || !prev.IsOnline {
		publish(ctx, p.bus, storage.PresenceTopic, KindPresence, userID)
	}
	return nil
}

// SetTyping с isTyping=true отмечает набор в channelID и (пере)заводит
// сброс; false сбрасывает сразу и отменяет таймер.
func (p *Presence) SetTyping(ctx context.Context, userID, channelID string, isTyping bool) error {
	p.mu.Lock()
	if t := p.typing[userID]; t != nil {
		t.timer.Stop()
		delete(p.typing, userID)
	}
	if isTyping {
		p.seq++
		gen := p.seq
		p.typing[userID] = &typingTimer{gen: gen, timer: time.AfterFunc(p.ttl, func() { p.expire(userID, gen) })}
	}
	p.mu.Unlock()

	if err := p.store.SetTyping(ctx, userID, channelID, isTyping); err != nil {
		if isTyping {
			p.cancelTyping(userID)
		}
		return fmt.Errorf("presence.SetTyping: %w", err)
	}
	publish(ctx, p.bus, storage.PresenceTopic, KindPresence, userID)
	return nil
}

// expire выполняется в горутине таймера; заменённый тем временем таймер несёт
// устаревшее поколение и ничего не делает.
func (p *Presence) expire(userID string, gen uint64) {
	p.mu.Lock()
	t := p.typing[userID]
	if t == nil || t.gen != gen {
		p.mu.Unlock()
		return
	}
	delete(p.typing, userID)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.SetTyping(ctx, userID, "", false); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorf("presence typing expiry user=%s: %v", userID, err)
		}
		return
	}
	publish(ctx, p.bus, storage.PresenceTopic, KindPresence, userID)
}

func (p *Presence) cancelTyping(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.typing[userID]; t != nil {
		t.timer.Stop()
		delete(p.typing, userID)
	}
}

// pendingTyping сообщает, заведён ли сброс набора для userID.
func (p *Presence) pendingTyping(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typing[userID] != nil
}

func (p *Presence) Get(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	return p.store.Get(ctx, userID)
}

func (p *Presence) Online(ctx context.Context) ([]model.PresenceRecord, error) {
	return p.store.Online(ctx)
}

func (p *Presence) Subscribe(ctx context.Context) (*live.Subscription[[]model.PresenceRecord], error) {
	return live.Watch[[]model.PresenceRecord](ctx, p.bus, []string{storage.PresenceTopic}, p.store.Online)
}

// TypingIn оставляет пользователей, печатающих в channelID, кроме exceptUserID.
func TypingIn(records []model.PresenceRecord, channelID, exceptUserID string) []model.PresenceRecord {
	out := make([]model.PresenceRecord, 0)
	for _, r := range records {
		if r.IsOnline && r.IsTyping && r.TypingChannelID == channelID && r.UserID != exceptUserID {
			out = append(out, r)
		}
	}
	return out
}

// Reap помечает офлайн всех онлайн-пользователей без heartbeat дольше olderThan.
func (p *Presence) Reap(ctx context.Context, olderThan time.Duration) (int, error) {
	now := p.now().UTC()
	ids, err := p.store.StaleOnline(ctx, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("presence.Reap: %w", err)
	}
	reaped := 0
	for _, id := range ids {
		p.cancelTyping(id)
		if err := p.store.SetOffline(ctx, id, now); err != nil {
			logger.Errorf("presence reap user=%s: %v", id, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		logger.Infof("presence: reaped %d stale users", reaped)
		publish(ctx, p.bus, storage.PresenceTopic, KindPresence, "")
	}
	return reaped, nil
}

// RunReaper запускает Reap по cron-расписанию, пока ctx не завершён.
func (p *Presence) RunReaper(ctx context.Context, cronExpr string, olderThan time.Duration) error {
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("presence.RunReaper: invalid cron expression %q", cronExpr)
	}
	logger.Infof("presence: reaper scheduled %q (stale after %v)", cronExpr, olderThan)
	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		if err != nil {
			logger.Errorf("presence reaper next tick %q: %v", cronExpr, err)
			next = time.Now().Add(30 * time.Second)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if _, err := p.Reap(runCtx, olderThan); err != nil {
			logger.Errorf("presence reaper: %v", err)
		}
		cancel()
	}
}
