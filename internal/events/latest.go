package events

// Latest is a capacity-1 mailbox that keeps only the most recent value.
// Put never blocks: a value nobody has read yet is replaced.
// Put must be called from a single producer goroutine.
type Latest[T any] struct {
	ch chan T
}

func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{ch: make(chan T, 1)}
}

// Put stores v, discarding any stale unread value
func (l *Latest[T]) Put(v T) {
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		// Full: drop the stale value and try again
		select {
		case <-l.ch:
		default:
		}
	}
}

// C returns the receive side for use in select loops
func (l *Latest[T]) C() <-chan T {
	return l.ch
}

// TryGet returns the pending value, if any, without blocking
func (l *Latest[T]) TryGet() (T, bool) {
	select {
	case v := <-l.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}
