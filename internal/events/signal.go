package events

import "sync"

// Signal is a one-shot flag that any goroutine may raise.
// Raising is non-blocking and idempotent.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

func (s *Signal) Raise() {
	s.once.Do(func() { close(s.done) })
}

func (s *Signal) Raised() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed once the signal has been raised
func (s *Signal) Done() <-chan struct{} {
	return s.done
}
