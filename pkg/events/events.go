package events

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/cuemby/agenthub/pkg/log"
	"github.com/rs/zerolog"
)

// Handler receives published values
type Handler[T any] func(T)

// Unsubscribe removes a previously registered handler. Calling it more
// than once is a no-op.
type Unsubscribe func()

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// Listeners is an ordered list of synchronous handlers for one kind of change
type Listeners[T any] struct {
	name   string
	mu     sync.RWMutex
	subs   []subscription[T]
	nextID uint64
	logger zerolog.Logger
}

// NewListeners creates an empty listener list. The name is used in logs.
func NewListeners[T any](name string) *Listeners[T] {
	return &Listeners[T]{
		name:   name,
		logger: log.WithComponent("events").With().Str("listeners", name).Logger(),
	}
}

// Subscribe registers a handler and returns its unsubscribe handle
func (l *Listeners[T]) Subscribe(h Handler[T]) Unsubscribe {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscription[T]{id: id, handler: h})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *Listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler in registration order on the calling
// goroutine. A panicking handler is logged and does not stop the others.
func (l *Listeners[T]) Publish(v T) {
	l.mu.RLock()
	subs := make([]subscription[T], len(l.subs))
	copy(subs, l.subs)
	l.mu.RUnlock()

	for _, s := range subs {
		l.invoke(s, v)
	}
}

func (l *Listeners[T]) invoke(s subscription[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Err(fmt.Errorf("listener panic: %v", r)).
				Uint64("subscription", s.id).
				Str("stack", string(debug.Stack())).
				Msg("Listener failed")
		}
	}()
	s.handler(v)
}

// Count returns the number of registered handlers
func (l *Listeners[T]) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}
