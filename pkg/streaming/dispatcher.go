package streaming

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/confgate/pkg/logging"
)

// Dispatcher routes decoded messages to the listener registered for their
// context key. It may be shared by several sessions. Listeners are invoked
// outside the registry lock, so registration and removal never block on a
// slow listener.
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[string]Listener
	dropped   atomic.Int64
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:    logging.NewComponentLogger(logger, "dispatcher"),
		listeners: make(map[string]Listener),
	}
}

// Register binds l to key, replacing any previous listener.
func (d *Dispatcher) Register(key string, l Listener) {
	d.mu.Lock()
	d.listeners[key] = l
	d.mu.Unlock()
}

// Remove unbinds key. Messages that arrive afterwards are dropped.
func (d *Dispatcher) Remove(key string) {
	d.mu.Lock()
	delete(d.listeners, key)
	d.mu.Unlock()
}

func (d *Dispatcher) Lookup(key string) (Listener, bool) {
	d.mu.RLock()
	l, ok := d.listeners[key]
	d.mu.RUnlock()
	return l, ok
}

func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Dispatch delivers msg to the listener of its context key, or of
// defaultKey when the message carries none. It reports whether a listener
// received the message.
func (d *Dispatcher) Dispatch(defaultKey string, msg Message) bool {
	key := msg.ContextKey()
	if key == "" {
		key = defaultKey
	}
	l, ok := d.Lookup(key)
	if !ok {
		d.dropped.Add(1)
		d.logger.Debug("message_dropped",
			slog.String("key", key),
			slog.String("reason", "no_listener"))
		return false
	}
	l.OnMessage(msg)
	return true
}

// Notify calls fn with the listener of key, if one is registered.
func (d *Dispatcher) Notify(key string, fn func(Listener)) bool {
	l, ok := d.Lookup(key)
	if !ok {
		return false
	}
	fn(l)
	return true
}

// Dropped counts messages discarded for lack of a listener.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }
