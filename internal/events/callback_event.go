package events

import (
	"maps"
	"sync"
)

// CallbackEvent calls every registered function with each notified value.
// Callbacks run synchronously on the notifying goroutine and must be quick.
type CallbackEvent[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]func(T)
	nextID    uint64
	replay    bool
	last      T
	hasLast   bool
}

// NewCallbackEvent creates a new CallbackEvent.
// replay: new listeners are called at once with the last notified value, if any.
func NewCallbackEvent[T any](replay bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		listeners: make(map[uint64]func(T)),
		replay:    replay,
	}
}

// Listen registers callback and returns a function that deregisters it
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = callback
	last, replay := e.last, e.replay && e.hasLast
	e.mu.Unlock()

	// outside the lock so the callback may itself Listen or Notify
	if replay {
		callback(last)
	}

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.last = value
	e.hasLast = true
	listeners := maps.Clone(e.listeners)
	e.mu.Unlock()

	for _, callback := range listeners {
		callback(value)
	}
}

func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
