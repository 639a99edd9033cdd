package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/metrics"
)

// Source says which sensor produced a frame
type Source int

const (
	SourceTreadmill Source = iota
	SourceHeartRate
)

func (s Source) String() string {
	switch s {
	case SourceTreadmill:
		return "treadmill"
	case SourceHeartRate:
		return "heart_rate"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Frame is one raw notification as it came off the link
type Frame struct {
	Source   Source
	Data     []byte
	Received time.Time
}

// Link is a treadmill connection. Implementations are chosen once, at
// construction; callers never branch on the variant.
type Link interface {
	Connect(ctx context.Context) error
	RequestControl(ctx context.Context) error
	SetSpeed(ctx context.Context, speedKmh float64) error
	SetIncline(ctx context.Context, inclinePercent float64) error
	StartOrResume(ctx context.Context) error
	// StartMonitoring delivers frames until StopMonitoring or ctx ends.
	// Sends never block: a frame that does not fit in the channel is dropped.
	StartMonitoring(ctx context.Context, frames chan<- Frame) error
	StopMonitoring() error
	Disconnect() error
}

var (
	// ErrRejected marks a command the treadmill answered with a failure result
	ErrRejected = errors.New("rejected by device")

	ErrNotConnected = errors.New("device not connected")
)

// CommandError is a control point command that failed
type CommandError struct {
	Op     string
	Result byte
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("device command %s failed: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UnavailableError is returned once every connect attempt has failed
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("device unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// ConnectWithRetry calls link.Connect up to attempts times, sleeping backoff
// between failures.
func ConnectWithRetry(ctx context.Context, link Link, attempts int, backoff time.Duration, logger *log.Logger) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := link.Connect(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Printf("Device: Connected on attempt %d", attempt)
			}
			return nil
		}
		lastErr = err
		logger.Printf("Device: Connect attempt %d/%d failed: %v", attempt, attempts, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return &UnavailableError{Attempts: attempts, Err: lastErr}
}

// frameSink offers frames to a consumer without ever blocking the producer
type frameSink struct {
	frames  chan<- Frame
	dropped atomic.Uint64
}

func (s *frameSink) offer(f Frame) bool {
	select {
	case s.frames <- f:
		return true
	default:
		s.dropped.Add(1)
		metrics.FramesDropped.Inc()
		return false
	}
}
