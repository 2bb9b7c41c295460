package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Async decouples the hub from a slow broker: Publish enqueues and drops when the queue is full.
type Async struct {
	next  Publisher
	queue chan Event
	log   *zap.Logger
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Publisher, size int, log *zap.Logger) *Async {
	if size <= 0 {
		size = 128
	}
	a := &Async{next: next, queue: make(chan Event, size), log: log}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			a.log.Warn("event publish failed", zap.String("type", ev.Type), zap.String("camera_id", ev.CameraID), zap.Error(err))
		}
		cancel()
	}
}

func (a *Async) Publish(_ context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- ev:
	default:
		a.log.Warn("event queue full, dropping", zap.String("type", ev.Type), zap.String("camera_id", ev.CameraID))
	}
	return nil
}

// Close drains the queue and closes the underlying publisher. Later Publish calls are dropped.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	a.next.Close()
}
