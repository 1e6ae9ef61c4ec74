package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver decouples recording from the audio path: events are handed
// to the inner observer on a separate goroutine and dropped, never
// blocked on, when the buffer is full.
type AsyncObserver struct {
	inner Observer
	queue chan MetricsEvent

	dropped   atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: inner,
		queue: make(chan MetricsEvent, buffer),
	}
	go a.drain()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil || a.closed.Load() {
		return
	}
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded under backpressure.
func (a *AsyncObserver) Dropped() int64 { return a.dropped.Load() }

func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		close(a.queue)
	})
}

func (a *AsyncObserver) drain() {
	for ev := range a.queue {
		a.inner.RecordEvent(ev)
	}
}
