package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallbackEvent_Listen_Notify(t *testing.T) {
	event := NewCallbackEvent[string](false)

	var received []string
	unregister := event.Listen(func(s string) { received = append(received, s) })
	assert.Equal(t, 1, event.ListenerCount())

	event.Notify("connecting")
	event.Notify("connected")
	assert.Equal(t, []string{"connecting", "connected"}, received)

	unregister()
	unregister()
	assert.Equal(t, 0, event.ListenerCount())

	event.Notify("ignored")
	assert.Len(t, received, 2)
}

func TestCallbackEvent_Replay(t *testing.T) {
	event := NewCallbackEvent[int](true)
	event.Notify(1)
	event.Notify(2)

	var got []int
	event.Listen(func(v int) { got = append(got, v) })
	assert.Equal(t, []int{2}, got)
}

func TestCallbackEvent_UnregisterInsideCallback(t *testing.T) {
	event := NewCallbackEvent[int](false)

	calls := 0
	var unregister func()
	unregister = event.Listen(func(int) {
		calls++
		unregister()
	})

	event.Notify(1)
	event.Notify(2)
	assert.Equal(t, 1, calls)
}

func TestCallbackEvent_Listen_NilCallback(t *testing.T) {
	event := NewCallbackEvent[int](false)
	assert.Panics(t, func() { event.Listen(nil) })
}

func TestCallbackEvent_ConcurrentAccess(t *testing.T) {
	event := NewCallbackEvent[int](false)

	var mu sync.Mutex
	total := 0
	event.Listen(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				event.Notify(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, total)
}
