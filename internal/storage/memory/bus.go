// Package memory реализует шину изменений в памяти процесса для одного узла без Redis Pub/Sub и для тестов.
package memory

import (
	"context"
	"sync"

	"github.com/dealhub/internal/storage"
)

type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*stream]struct{}
}

var _ storage.EventBus = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*stream]struct{})}
}

// Publish не блокируется: у подписчика с полным буфером уже есть необработанное
// изменение, лишнее отбрасывается.
func (b *Bus) Publish(ctx context.Context, ch storage.Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[ch.Topic] {
		select {
		case s.out <- ch:
		default:
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topics ...string) (storage.ChangeStream, error) {
	s := &stream{bus: b, topics: topics, out: make(chan storage.Change, 64)}
	b.mu.Lock()
	for _, t := range topics {
		if b.subs[t] == nil {
			b.subs[t] = make(map[*stream]struct{})
		}
		b.subs[t][s] = struct{}{}
	}
	b.mu.Unlock()
	return s, nil
}

// Subscribers возвращает число живых потоков на topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

type stream struct {
	bus    *Bus
	topics []string
	out    chan storage.Change
	once   sync.Once
}

func (s *stream) C() <-chan storage.Change { return s.out }

func (s *stream) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for _, t := range s.topics {
			delete(s.bus.subs[t], s)
			if len(s.bus.subs[t]) == 0 {
				delete(s.bus.subs, t)
			}
		}
		s.bus.mu.Unlock()
		close(s.out)
	})
	return nil
}
