package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/metrics"
	"github.com/dealhub/internal/model"
	"github.com/dealhub/internal/storage"
)

var ErrUnknownEvent = errors.New("unknown reputation event")

// Notifier доставляет уведомления о новом ранге и значках. Nil отключает их.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, p model.NotificationPayload) (*model.Notification, error)
}

// Event: одно действие, засчитываемое UserID. Непустой Key делает награду
// идемпотентной: один ключ не применяется дважды.
type Event struct {
	UserID  string    `json:"user_id"`
	Kind    EventKind `json:"kind"`
	Key     string    `json:"key,omitempty"`
	ActorID string    `json:"actor_id,omitempty"`
}

type Outcome struct {
	Applied   bool       `json:"applied"`
	XP        int64      `json:"xp"`
	Rank      model.Rank `json:"rank"`
	RankedUp  bool       `json:"ranked_up"`
	NewBadges []string   `json:"new_badges,omitempty"`
}

type Engine struct {
	profiles storage.ProfileStore
	notifier Notifier
	bus      storage.EventBus
}

func NewEngine(profiles storage.ProfileStore, notifier Notifier) *Engine {
	return &Engine{profiles: profiles, notifier: notifier}
}

// WithBus включает публикацию изменений профиля для live-просмотров.
func (e *Engine) WithBus(bus storage.EventBus) *Engine {
	e.bus = bus
	return e
}

// AwardXP добавляет фиксированный XP за kind и возвращает ранг, посчитанный
// по только что записанному значению.
func (e *Engine) AwardXP(ctx context.Context, userID string, kind EventKind, key string) (model.Rank, error) {
	if !Known(kind) {
		return model.Rank{}, fmt.Errorf("reputation.AwardXP %q: %w", kind, ErrUnknownEvent)
	}
	_, stats, err := e.profiles.ApplyAward(ctx, userID, key, map[string]int64{model.StatXP: Points(kind)})
	if err != nil {
		return model.Rank{}, fmt.Errorf("reputation.AwardXP: %w", err)
	}
	return ComputeRank(stats[model.StatXP]), nil
}

// IncrementStat атомарно добавляет 1 к счётчику и возвращает новое значение.
func (e *Engine) IncrementStat(ctx context.Context, userID, stat, key string) (int64, error) {
	_, stats, err := e.profiles.ApplyAward(ctx, userID, key, map[string]int64{stat: 1})
	if err != nil {
		return 0, fmt.Errorf("reputation.IncrementStat: %w", err)
	}
	return stats[stat], nil
}

// Record применяет XP и счётчики ev одной атомарной наградой, затем объединяет
// новые значки и уведомляет пользователя о новом ранге и значках.
func (e *Engine) Record(ctx context.Context, ev Event) (Outcome, error) {
	defer logger.DeferLogDuration("reputation.Record", time.Now())()
	if ev.UserID == "" {
		return Outcome{}, errors.New("reputation.Record: empty user id")
	}
	if !Known(ev.Kind) {
		return Outcome{}, fmt.Errorf("reputation.Record %q: %w", ev.Kind, ErrUnknownEvent)
	}
	d := deltas(ev.Kind)
	applied, stats, err := e.profiles.ApplyAward(ctx, ev.UserID, ev.Key, d)
	if err != nil {
		return Outcome{}, fmt.Errorf("reputation.Record: %w", err)
	}
	xp := stats[model.StatXP]
	out := Outcome{Applied: applied, XP: xp, Rank: ComputeRank(xp)}
	if !applied {
		return out, nil
	}
	metrics.ReputationEvents.WithLabelValues(string(ev.Kind)).Inc()
	defer e.announce(ctx, ev.UserID)
	if gained := d[model.StatXP]; gained > 0 {
		metrics.XPAwarded.Add(float64(gained))
		prev := ComputeRank(xp - gained)
		if prev.Level < out.Rank.Level {
			out.RankedUp = true
			e.notify(ctx, ev.UserID, model.NotificationPayload{
				Kind: model.NotifyRankUp,
				Text: fmt.Sprintf("You reached %s rank", out.Rank.Name),
			})
		}
	}

	added, err := e.profiles.AddBadges(ctx, ev.UserID, ComputeBadges(stats))
	if err != nil {
		return out, fmt.Errorf("reputation.Record badges: %w", err)
	}
	out.NewBadges = added
	for _, id := range added {
		b, _ := badgeByID(id)
		e.notify(ctx, ev.UserID, model.NotificationPayload{
			Kind:     model.NotifyBadgeEarned,
			SourceID: id,
			Text:     fmt.Sprintf("You earned the %s badge", b.Name),
		})
	}
	return out, nil
}

// Profile возвращает сохранённый профиль с рангом, выведенным из XP.
func (e *Engine) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	Decorate(p)
	return p, nil
}

// RecomputeBadges заново проверяет все предикаты по текущей статистике и объединяет
// результат с сохранёнными значками. Используется админкой после правки каталога.
func (e *Engine) RecomputeBadges(ctx context.Context, userID string) ([]string, error) {
	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reputation.RecomputeBadges: %w", err)
	}
	added, err := e.profiles.AddBadges(ctx, userID, ComputeBadges(p.Stats))
	if err != nil {
		return nil, fmt.Errorf("reputation.RecomputeBadges: %w", err)
	}
	return added, nil
}

func (e *Engine) announce(ctx context.Context, userID string) {
	if e.bus == nil {
		return
	}
	ch := storage.Change{Topic: storage.ProfileTopic(userID), Kind: "profile", ID: userID}
	if err := e.bus.Publish(ctx, ch); err != nil {
		logger.Errorf("reputation announce user=%s: %v", userID, err)
	}
}

func (e *Engine) notify(ctx context.Context, userID string, p model.NotificationPayload) {
	if e.notifier == nil {
		return
	}
	if _, err := e.notifier.Notify(ctx, userID, p); err != nil {
		logger.Errorf("reputation notify user=%s kind=%s: %v", userID, p.Kind, err)
	}
}
