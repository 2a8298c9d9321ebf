package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
)

// AsyncObserver hands events to inner on its own goroutine so a slow sink
// never stalls a session's read loop. Events are dropped when the buffer
// is full.
type AsyncObserver struct {
	inner    Observer
	ch       chan MetricsEvent
	done     chan struct{}
	dropped  atomic.Int64
	panicked atomic.Int64
	closed   atomic.Bool
	mu       sync.RWMutex
	once     sync.Once
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: OrNoop(inner),
		ch:    make(chan MetricsEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed.Load() {
		return
	}
	select {
	case a.ch <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *AsyncObserver) Dropped() int64 { return a.dropped.Load() }

// Panicked counts events whose inner observer panicked.
func (a *AsyncObserver) Panicked() int64 { return a.panicked.Load() }

// Close stops accepting events, waits for the buffered ones and flushes
// inner when it is a Flusher.
func (a *AsyncObserver) Close() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		a.mu.Lock()
		a.closed.Store(true)
		close(a.ch)
		a.mu.Unlock()
	})
	<-a.done
	if f, ok := a.inner.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for ev := range a.ch {
		if r := panics.Try(func() { a.inner.RecordEvent(ev) }); r != nil {
			a.panicked.Add(1)
		}
	}
}
