package reputation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dealhub/internal/logger"
	"github.com/dealhub/internal/metrics"
)

// Sink принимает события репутации, не блокируя вызывающего.
type Sink interface {
	Submit(ev Event)
}

const (
	recordTimeout = 5 * time.Second
	// submitWait: сколько Submit ждёт места в переполненной очереди перед сбросом события.
	submitWait = 100 * time.Millisecond
)

// Async записывает события пулом воркеров. Репутация начисляется в фоне
// относительно действия, которое её вызвало: ошибки логируются, событие теряется.
type Async struct {
	engine  *Engine
	queue   chan Event
	wait    time.Duration
	dropped atomic.Int64

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
	pending sync.WaitGroup
}

func NewAsync(engine *Engine, workers, queueSize int) *Async {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	a := &Async{engine: engine, queue: make(chan Event, queueSize), wait: submitWait}
	a.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go a.loop()
	}
	return a
}

func (a *Async) loop() {
	defer a.workers.Done()
	for ev := range a.queue {
		a.process(ev)
	}
}

func (a *Async) process(ev Event) {
	defer a.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if _, err := a.engine.Record(ctx, ev); err != nil {
		logger.Errorf("reputation event %s user=%s: %v", ev.Kind, ev.UserID, err)
	}
}

// Submit ставит ev в очередь. Переполненная очередь получает короткую отсрочку,
// после неё событие сбрасывается и учитывается в метрике.
func (a *Async) Submit(ev Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	a.pending.Add(1)
	select {
	case a.queue <- ev:
		return
	default:
	}
	timer := time.NewTimer(a.wait)
	defer timer.Stop()
	select {
	case a.queue <- ev:
	case <-timer.C:
		a.pending.Done()
		a.dropped.Add(1)
		metrics.ReputationDropped.Inc()
		logger.Warnf("reputation queue full, dropped %s user=%s", ev.Kind, ev.UserID)
	}
}

// Dropped возвращает число событий, сброшенных на полной очереди.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Wait ждёт обработки всех принятых событий.
func (a *Async) Wait() {
	a.pending.Wait()
}

// Close перестаёт принимать события и дорабатывает очередь.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.workers.Wait()
	a.pending.Wait()
}
