package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/metrics"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/routine"
)

// State of the segment scheduler
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSegmentAdvancing
	StateComplete
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSegmentAdvancing:
		return "segment_advancing"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCancelled
}

// SpeedSetter is the part of the device link the scheduler drives
type SpeedSetter interface {
	SetSpeed(ctx context.Context, speedKmh float64) error
}

// LapRecorder receives one lap per routine segment
type LapRecorder interface {
	StartLap(t time.Time, distanceKm float64) error
	FinalizeLap(t time.Time, distanceKm float64) error
}

var ErrSchedulerStarted = errors.New("scheduler already started")

// Scheduler steps the treadmill through a routine. It owns no goroutine: the
// orchestrator calls Poll at a fixed cadence with the latest snapshot.
type Scheduler struct {
	routine routine.Routine
	device  SpeedSetter
	laps    LapRecorder
	exit    *events.Signal
	logger  *log.Logger

	// OnSegment, when set, is called as each segment is entered
	OnSegment func(index int, seg routine.Segment)

	state     State
	index     int
	reference float64
	target    float64
}

func NewScheduler(r routine.Routine, device SpeedSetter, laps LapRecorder, exit *events.Signal, logger *log.Logger) *Scheduler {
	if device == nil || laps == nil || exit == nil {
		panic("Scheduler: device, laps and exit are required")
	}
	if logger == nil {
		panic("Scheduler: logger cannot be nil")
	}
	return &Scheduler{routine: r, device: device, laps: laps, exit: exit, logger: logger}
}

func (s *Scheduler) State() State {
	return s.state
}

// Segment is the index of the current segment
func (s *Scheduler) Segment() int {
	return s.index
}

// Target is the absolute elapsed seconds or kilometers that ends the current segment
func (s *Scheduler) Target() float64 {
	return s.target
}

// Start enters the first segment
func (s *Scheduler) Start(ctx context.Context, now time.Time, snap Snapshot) error {
	if s.state != StateIdle {
		return ErrSchedulerStarted
	}
	if err := s.routine.Validate(); err != nil {
		return err
	}
	if s.exit.Raised() {
		s.logger.Printf("Scheduler: Exit requested before the first segment")
		s.state = StateCancelled
		return nil
	}
	s.enter(ctx, 0, now, snap)
	return nil
}

// Poll compares the live state with the current segment's target and
// advances when it is reached. A raised exit signal wins over progress.
func (s *Scheduler) Poll(ctx context.Context, now time.Time, snap Snapshot) State {
	if s.state != StateRunning {
		return s.state
	}

	if s.exit.Raised() {
		s.cancel(now, snap)
		return s.state
	}
	if s.current(snap) < s.target {
		return s.state
	}

	s.state = StateSegmentAdvancing
	s.logger.Printf("Scheduler: Segment %d complete", s.index)
	if err := s.laps.FinalizeLap(now, snap.DistanceKm); err != nil {
		s.logger.Printf("Scheduler: Finalize lap %d: %v", s.index, err)
	}

	if s.index+1 >= len(s.routine.Segments) {
		s.logger.Printf("Scheduler: Routine %q complete", s.routine.Name)
		s.state = StateComplete
		return s.state
	}
	if s.exit.Raised() {
		s.logger.Printf("Scheduler: Exit requested at segment boundary")
		s.state = StateCancelled
		return s.state
	}
	s.enter(ctx, s.index+1, now, snap)
	return s.state
}

// Cancel stops the routine from outside the poll loop, closing the open lap
func (s *Scheduler) Cancel(now time.Time, snap Snapshot) {
	if s.state == StateRunning {
		s.cancel(now, snap)
		return
	}
	if !s.state.Terminal() {
		s.state = StateCancelled
	}
}

func (s *Scheduler) cancel(now time.Time, snap Snapshot) {
	s.logger.Printf("Scheduler: Cancelled in segment %d", s.index)
	if err := s.laps.FinalizeLap(now, snap.DistanceKm); err != nil {
		s.logger.Printf("Scheduler: Finalize lap %d: %v", s.index, err)
	}
	s.state = StateCancelled
}

func (s *Scheduler) current(snap Snapshot) float64 {
	if s.routine.Type == routine.TypeDistance {
		return snap.DistanceKm
	}
	return snap.ElapsedSeconds
}

func (s *Scheduler) enter(ctx context.Context, index int, now time.Time, snap Snapshot) {
	seg := s.routine.Segments[index]
	s.index = index
	s.reference = s.current(snap)
	if s.routine.Type == routine.TypeDistance {
		s.target = s.reference + seg.Duration
		s.logger.Printf("Scheduler: Segment %d at %.2f km/h, %.2f km -> %.2f km", index, seg.TargetSpeedKmh, s.reference, s.target)
	} else {
		s.target = s.reference + seg.Duration*60
		s.logger.Printf("Scheduler: Segment %d at %.2f km/h, %.1fs -> %.1fs", index, seg.TargetSpeedKmh, s.reference, s.target)
	}

	// failures are logged only; the segment runs at whatever speed the belt has
	if err := s.device.SetSpeed(ctx, seg.TargetSpeedKmh); err != nil {
		s.logger.Printf("Scheduler: Set speed for segment %d failed, continuing: %v", index, err)
	}
	if err := s.laps.StartLap(now, snap.DistanceKm); err != nil {
		s.logger.Printf("Scheduler: Start lap %d: %v", index, err)
	}
	metrics.SegmentTransitions.Inc()
	s.state = StateRunning
	if s.OnSegment != nil {
		s.OnSegment(index, seg)
	}
}
