package safe_map

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeMap_StoreLoadDelete(t *testing.T) {
	m := NewSafeMap[string, int]()

	_, ok := m.Load("a")
	assert.False(t, ok)

	m.Store("a", 1)
	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, m.Len())

	m.Delete("a")
	assert.Equal(t, 0, m.Len())
}

func TestSafeMap_ConcurrentStore(t *testing.T) {
	m := NewSafeMap[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Store(i, i*i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, m.Len())
}
