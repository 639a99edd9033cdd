package session

import (
	"testing"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ftms"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2025, 3, 14, 7, 30, 0, 0, time.UTC)

func TestLiveState_AbsentFieldsKeepPreviousValue(t *testing.T) {
	s := NewLiveState(t0)

	s.ApplyReading(ftms.Reading{HasSpeed: true, SpeedKmh: 10, HasIncline: true, InclinePercent: 1}, t0.Add(time.Second))
	snap := s.ApplyReading(ftms.Reading{HasDistance: true, DistanceKm: 0.05}, t0.Add(2*time.Second))

	assert.Equal(t, 10.0, snap.SpeedKmh)
	assert.Equal(t, 1.0, snap.InclinePercent)
	assert.Equal(t, 0.05, snap.DistanceKm)
	assert.False(t, snap.HasHeartRate)
	assert.Equal(t, 2, snap.Samples)
}

func TestLiveState_DistanceNeverGoesBackwards(t *testing.T) {
	s := NewLiveState(t0)
	s.ApplyReading(ftms.Reading{HasDistance: true, DistanceKm: 1.2}, t0)
	snap := s.ApplyReading(ftms.Reading{HasDistance: true, DistanceKm: 0.3}, t0)

	assert.Equal(t, 1.2, snap.DistanceKm)
	assert.Equal(t, 1, s.Clamped())
}

func TestLiveState_ElapsedFromClockUntilDeviceReportsIt(t *testing.T) {
	s := NewLiveState(t0)

	snap := s.ApplyReading(ftms.Reading{HasSpeed: true, SpeedKmh: 8}, t0.Add(3*time.Second))
	assert.Equal(t, 3.0, snap.ElapsedSeconds)
	assert.Equal(t, 4.0, s.Tick(t0.Add(4*time.Second)).ElapsedSeconds)

	// the treadmill counter continues from the clock value
	snap = s.ApplyReading(ftms.Reading{HasElapsedTime: true, ElapsedSeconds: 2}, t0.Add(5*time.Second))
	assert.Equal(t, 5.0, snap.ElapsedSeconds)
	snap = s.ApplyReading(ftms.Reading{HasElapsedTime: true, ElapsedSeconds: 4}, t0.Add(6*time.Second))
	assert.Equal(t, 7.0, snap.ElapsedSeconds)

	// device time is authoritative from now on
	assert.Equal(t, 7.0, s.Tick(t0.Add(9*time.Second)).ElapsedSeconds)
	snap = s.ApplyReading(ftms.Reading{HasSpeed: true, SpeedKmh: 8}, t0.Add(10*time.Second))
	assert.Equal(t, 7.0, snap.ElapsedSeconds)
}

func TestLiveState_DeviceCounterNotStartingAtZero(t *testing.T) {
	s := NewLiveState(t0)

	snap := s.ApplyReading(ftms.Reading{HasElapsedTime: true, ElapsedSeconds: 600}, t0.Add(time.Second))
	assert.Equal(t, 1.0, snap.ElapsedSeconds)
	snap = s.ApplyReading(ftms.Reading{HasElapsedTime: true, ElapsedSeconds: 601}, t0.Add(2*time.Second))
	assert.Equal(t, 2.0, snap.ElapsedSeconds)
	snap = s.ApplyReading(ftms.Reading{HasElapsedTime: true, ElapsedSeconds: 660}, t0.Add(2*time.Second))
	assert.Equal(t, 61.0, snap.ElapsedSeconds)
}

func TestLiveState_HeartRateFromStrap(t *testing.T) {
	s := NewLiveState(t0)
	s.ApplyHeartRate(131, t0)
	snap := s.ApplyReading(ftms.Reading{HasSpeed: true, SpeedKmh: 9}, t0)

	assert.True(t, snap.HasHeartRate)
	assert.Equal(t, 131, snap.HeartRateBpm)
}
