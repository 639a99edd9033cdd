package events

import (
	"maps"
	"sync"
)

// ChannelEvent fans a value out to listener channels.
// Delivery is latest-wins: when a listener's buffer is full, its oldest queued
// value is dropped to make room, so a slow listener sees fresh data and never
// blocks Notify.
type ChannelEvent[T any] struct {
	mu        sync.Mutex
	channels  map[uint64]chan T
	nextID    uint64
	replay    bool
	last      T
	hasLast   bool
	dropCount uint64
}

// NewChannelEvent creates a new ChannelEvent.
// replay: new listeners immediately receive the last notified value, if any.
func NewChannelEvent[T any](replay bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels: make(map[uint64]chan T),
		replay:   replay,
	}
}

// Listen registers ch and returns a function that deregisters it.
// ch must be buffered for latest-wins delivery to work.
func (e *ChannelEvent[T]) Listen(ch chan T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	if e.replay && e.hasLast {
		e.deliver(ch, e.last)
	}

	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Notify delivers value to every listener without blocking
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.last = value
	e.hasLast = true
	listeners := maps.Clone(e.channels)
	for _, ch := range listeners {
		e.deliver(ch, value)
	}
	e.mu.Unlock()
}

// deliver must be called with mu held so two notifies cannot interleave
// their drop-then-send on the same channel.
func (e *ChannelEvent[T]) deliver(ch chan T, value T) {
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
			e.dropCount++
		default:
		}
	}
}

// ListenerCount returns the current number of registered listeners
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

// Dropped returns how many stale values were discarded for slow listeners
func (e *ChannelEvent[T]) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropCount
}
