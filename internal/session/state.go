package session

import (
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ftms"
)

// Snapshot is a read-only copy of the live session values
type Snapshot struct {
	SpeedKmh       float64
	DistanceKm     float64
	InclinePercent float64
	ElapsedSeconds float64
	HasHeartRate   bool
	HeartRateBpm   int
	// Samples counts treadmill readings applied so far
	Samples   int
	UpdatedAt time.Time
}

// LiveState is the single source of truth for the running session. It has one
// writer, the orchestrator loop; everyone else works from Snapshots.
//
// Fields a reading leaves out keep their previous value. Distance never goes
// backwards. Elapsed time comes from the wall clock since start until the
// treadmill reports one; the treadmill counter is then rebased so elapsed
// time continues from the clock value at that moment, whatever the counter
// started at.
type LiveState struct {
	start         time.Time
	snap          Snapshot
	deviceElapsed bool
	elapsedOffset float64
	clamped       int
}

func NewLiveState(start time.Time) *LiveState {
	return &LiveState{start: start, snap: Snapshot{UpdatedAt: start}}
}

// ApplyReading folds a decoded treadmill reading into the state
func (s *LiveState) ApplyReading(r ftms.Reading, now time.Time) Snapshot {
	if r.HasSpeed {
		s.snap.SpeedKmh = r.SpeedKmh
	}
	if r.HasIncline {
		s.snap.InclinePercent = r.InclinePercent
	}
	if r.HasDistance {
		if r.DistanceKm >= s.snap.DistanceKm {
			s.snap.DistanceKm = r.DistanceKm
		} else {
			s.clamped++
		}
	}
	if r.HasHeartRate {
		s.snap.HasHeartRate = true
		s.snap.HeartRateBpm = r.HeartRateBpm
	}
	switch {
	case r.HasElapsedTime:
		if !s.deviceElapsed {
			s.deviceElapsed = true
			s.elapsedOffset = s.clockElapsed(now) - r.ElapsedSeconds
		}
		s.snap.ElapsedSeconds = max(0, r.ElapsedSeconds+s.elapsedOffset)
	case !s.deviceElapsed:
		s.snap.ElapsedSeconds = s.clockElapsed(now)
	}
	s.snap.Samples++
	s.snap.UpdatedAt = now
	return s.snap
}

// ApplyHeartRate records a reading from a separate heart rate strap
func (s *LiveState) ApplyHeartRate(bpm int, now time.Time) Snapshot {
	s.snap.HasHeartRate = true
	s.snap.HeartRateBpm = bpm
	s.snap.UpdatedAt = now
	return s.snap
}

// Tick advances clock-based elapsed time when the treadmill reports none
func (s *LiveState) Tick(now time.Time) Snapshot {
	if !s.deviceElapsed {
		s.snap.ElapsedSeconds = max(s.snap.ElapsedSeconds, s.clockElapsed(now))
	}
	return s.snap
}

func (s *LiveState) clockElapsed(now time.Time) float64 {
	return max(0, now.Sub(s.start).Seconds())
}

func (s *LiveState) Snapshot() Snapshot {
	return s.snap
}

// Clamped counts distance readings ignored for going backwards
func (s *LiveState) Clamped() int {
	return s.clamped
}
