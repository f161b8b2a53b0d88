package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/storage"
)

const (
	busPrefix     = "events:"
	busStreamSize = 64
)

var errBusClosed = errors.New("bus closed")

// Bus: шина изменений поверх Redis Pub/Sub: все узлы API получают события
// о записях, сделанных любым узлом. На процесс одно соединение PUBSUB,
// каналы подписываются по счётчику ссылок, раздача потокам локальная.
type Bus struct {
	cli *redis.Client

	mu      sync.Mutex
	ps      *redis.PubSub
	closed  bool
	topics  map[string]*busTopic
	pending map[string][]chan struct{} // каналы, ждущие подтверждения SUBSCRIBE, в порядке отправки
}

type busTopic struct {
	streams map[*busStream]struct{}
	ready   chan struct{}
}

var _ storage.EventBus = (*Bus)(nil)

func newBus(cli *redis.Client) *Bus {
	return &Bus{
		cli:     cli,
		topics:  make(map[string]*busTopic),
		pending: make(map[string][]chan struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, ch storage.Change) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("bus.Publish: %w", err)
	}
	if err := b.cli.Publish(ctx, busPrefix+ch.Topic, data).Err(); err != nil {
		return fmt.Errorf("bus.Publish: %w", err)
	}
	return nil
}

// Subscribe возвращается, когда Redis подтвердил все топики, поэтому изменение,
// опубликованное после возврата, не теряется.
func (b *Bus) Subscribe(ctx context.Context, topics ...string) (storage.ChangeStream, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("bus.Subscribe: no topics")
	}
	s := &busStream{bus: b, topics: dedupe(topics), out: make(chan storage.Change, busStreamSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus.Subscribe: %w", errBusClosed)
	}
	if b.ps == nil {
		b.ps = b.cli.Subscribe(ctx)
		go b.run(b.ps)
	}
	var fresh []string
	waits := make([]chan struct{}, 0, len(s.topics))
	for _, t := range s.topics {
		bt := b.topics[t]
		if bt == nil {
			bt = &busTopic{streams: make(map[*busStream]struct{}), ready: make(chan struct{})}
			b.topics[t] = bt
			name := busPrefix + t
			b.pending[name] = append(b.pending[name], bt.ready)
			fresh = append(fresh, name)
		}
		bt.streams[s] = struct{}{}
		waits = append(waits, bt.ready)
	}
	if len(fresh) > 0 {
		if err := b.ps.Subscribe(ctx, fresh...); err != nil {
			for _, name := range fresh {
				if q := b.pending[name]; len(q) > 0 {
					b.pending[name] = q[:len(q)-1]
				}
			}
			b.mu.Unlock()
			_ = s.Close()
			return nil, fmt.Errorf("bus.Subscribe: %w", err)
		}
	}
	b.mu.Unlock()

	for _, ready := range waits {
		select {
		case <-ready:
		case <-ctx.Done():
			_ = s.Close()
			return nil, fmt.Errorf("bus.Subscribe: %w", ctx.Err())
		}
	}
	return s, nil
}

// Close закрывает общее соединение PUBSUB и завершает все открытые потоки.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ps := b.ps
	var streams []*busStream
	seen := make(map[*busStream]struct{})
	for _, bt := range b.topics {
		for s := range bt.streams {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				streams = append(streams, s)
			}
		}
	}
	b.mu.Unlock()

	for _, s := range streams {
		_ = s.Close()
	}
	if ps == nil {
		return nil
	}
	return ps.Close()
}

// Topics возвращает число каналов, подписанных на общем соединении.
func (b *Bus) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

func (b *Bus) run(ps *redis.PubSub) {
	for m := range ps.ChannelWithSubscriptions(redis.WithChannelSize(256)) {
		switch m := m.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				b.confirm(m.Channel)
			}
		case *redis.Message:
			b.dispatch(m)
		}
	}
}

// confirm снимает первое ожидание канала: Redis отвечает на SUBSCRIBE в порядке команд.
// Повторные подтверждения после переподключения приходят без ожидающих и игнорируются.
func (b *Bus) confirm(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.pending[name]
	if len(q) == 0 {
		return
	}
	close(q[0])
	if len(q) == 1 {
		delete(b.pending, name)
		return
	}
	b.pending[name] = q[1:]
}

// dispatch не блокируется: у потока с полным буфером уже есть необработанное
// изменение, лишнее отбрасывается.
func (b *Bus) dispatch(msg *redis.Message) {
	var ch storage.Change
	if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
		logger.Warnf("bus: bad payload on %s: %v", msg.Channel, err)
		return
	}
	topic := strings.TrimPrefix(msg.Channel, busPrefix)
	if ch.Topic == "" {
		ch.Topic = topic
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bt := b.topics[topic]
	if bt == nil {
		return
	}
	for s := range bt.streams {
		select {
		case s.out <- ch:
		default:
		}
	}
}

// release отписывает поток; канал Redis отписывается, когда на нём не осталось потоков.
func (b *Bus) release(s *busStream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var gone []string
	for _, t := range s.topics {
		bt := b.topics[t]
		if bt == nil {
			continue
		}
		delete(bt.streams, s)
		if len(bt.streams) == 0 {
			delete(b.topics, t)
			gone = append(gone, busPrefix+t)
		}
	}
	close(s.out)
	if len(gone) > 0 && b.ps != nil && !b.closed {
		if err := b.ps.Unsubscribe(context.Background(), gone...); err != nil {
			logger.Warnf("bus: unsubscribe %v: %v", gone, err)
		}
	}
}

type busStream struct {
	bus    *Bus
	topics []string
	out    chan storage.Change
	once   sync.Once
}

func (s *busStream) C() <-chan storage.Change { return s.out }

func (s *busStream) Close() error {
	s.once.Do(func() { s.bus.release(s) })
	return nil
}

func dedupe(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
