// Package live реализует живые подписки: снимок данных сразу после подписки
// и новый снимок после каждого изменения нужных топиков шины.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dealhub/internal/metrics"
	"github.com/dealhub/internal/storage"
)

// ErrClosed возвращает Err после Close.
var ErrClosed = errors.New("subscription closed")

// Loader строит текущий снимок наблюдаемых данных.
type Loader[T any] func(ctx context.Context) (T, error)

// Subscription доставляет снимки T. Обновления схлопываются: медленный читатель
// видит только самый свежий снимок, без очереди.
type Subscription[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Watch подписывается на топики до первой загрузки, поэтому изменение между
// снимком и подпиской не теряется. Ошибка загрузки завершает подписку:
// Updates закрывается, Err возвращает причину.
func Watch[T any](ctx context.Context, bus storage.EventBus, topics []string, load Loader[T]) (*Subscription[T], error) {
	stream, err := bus.Subscribe(ctx, topics...)
	if err != nil {
		return nil, fmt.Errorf("live.Watch: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		updates: make(chan T, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	metrics.LiveSubscriptions.Inc()
	go s.run(ctx, stream, load)
	return s, nil
}

func (s *Subscription[T]) Updates() <-chan T { return s.updates }

func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close останавливает подписку и ждёт завершения её горутины.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription[T]) run(ctx context.Context, stream storage.ChangeStream, load Loader[T]) {
	defer func() {
		_ = stream.Close()
		close(s.updates)
		metrics.LiveSubscriptions.Dec()
		close(s.done)
	}()
	if !s.reload(ctx, load) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			s.fail(ErrClosed)
			return
		case _, ok := <-stream.C():
			if !ok {
				s.fail(errors.New("change stream closed"))
				return
			}
			// схлопываем пачку изменений в одну перезагрузку
		drain:
			for {
				select {
				case _, ok := <-stream.C():
					if !ok {
						break drain
					}
				default:
					break drain
				}
			}
			if !s.reload(ctx, load) {
				return
			}
		}
	}
}

func (s *Subscription[T]) reload(ctx context.Context, load Loader[T]) bool {
	v, err := load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.fail(ErrClosed)
		} else {
			s.fail(err)
		}
		return false
	}
	s.deliver(v)
	return true
}

// deliver заменяет недоставленный снимок на v.
func (s *Subscription[T]) deliver(v T) {
	for {
		select {
		case s.updates <- v:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func (s *Subscription[T]) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}
