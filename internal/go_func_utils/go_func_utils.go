package go_func_utils

import (
	"log"
	"runtime/debug"
)

// SafeGo runs fn on a new goroutine. A panic is written to logger with its stack
// before it is re-raised, since the terminal dashboard owns stdout/stderr.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer logPanic(logger)
		fn()
	}()
}

// SafeGoDone is SafeGo plus a channel that is closed when fn returns
func SafeGoDone(logger *log.Logger, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer logPanic(logger)
		fn()
	}()
	return done
}

func logPanic(logger *log.Logger) {
	if r := recover(); r != nil {
		logger.Printf("PANIC: %v\n%s", r, debug.Stack())
		panic(r)
	}
}
