package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ftms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, frames <-chan Frame) Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return Frame{}
	}
}

func TestSyntheticDevice_IntegratesCommandedSpeed(t *testing.T) {
	sim := NewSyntheticDevice(SimConfig{FrameInterval: 5 * time.Millisecond, SecondsPerFrame: 36}, testLogger())
	ctx := context.Background()
	require.NoError(t, sim.Connect(ctx))
	require.NoError(t, sim.SetSpeed(ctx, 10))
	require.NoError(t, sim.StartOrResume(ctx))

	frames := make(chan Frame, 16)
	require.NoError(t, sim.StartMonitoring(ctx, frames))
	first := receive(t, frames)
	second := receive(t, frames)
	require.NoError(t, sim.StopMonitoring())

	r1, err := ftms.Decode(first.Data, ftms.ProfileFTMS)
	require.NoError(t, err)
	r2, err := ftms.Decode(second.Data, ftms.ProfileFTMS)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, r1.SpeedKmh, 1e-9)
	assert.InDelta(t, 0.1, r1.DistanceKm, 1e-9)
	assert.InDelta(t, 36.0, r1.ElapsedSeconds, 1e-9)
	assert.InDelta(t, 0.2, r2.DistanceKm, 1e-9)
	assert.Equal(t, []float64{10}, sim.SpeedCommands())
}

func TestSyntheticDevice_BeltStillUntilStarted(t *testing.T) {
	sim := NewSyntheticDevice(SimConfig{FrameInterval: 5 * time.Millisecond, HeartRate: true, Profile: ftms.ProfileLegacy}, testLogger())
	ctx := context.Background()
	require.NoError(t, sim.Connect(ctx))
	require.NoError(t, sim.SetSpeed(ctx, 8))

	frames := make(chan Frame, 16)
	require.NoError(t, sim.StartMonitoring(ctx, frames))
	treadmill := receive(t, frames)
	hr := receive(t, frames)
	require.NoError(t, sim.Disconnect())

	r, err := ftms.Decode(treadmill.Data, ftms.ProfileLegacy)
	require.NoError(t, err)
	assert.Zero(t, r.DistanceKm)
	assert.Zero(t, r.ElapsedSeconds)
	assert.Equal(t, SourceHeartRate, hr.Source)
	bpm, err := ftms.ParseHeartRate(hr.Data)
	require.NoError(t, err)
	assert.Greater(t, bpm, 60)
}

func TestSimulatedDevice_CommandsNeedConnection(t *testing.T) {
	sim := NewSyntheticDevice(SimConfig{}, testLogger())
	assert.ErrorIs(t, sim.SetSpeed(context.Background(), 10), ErrNotConnected)
	assert.ErrorIs(t, sim.StartMonitoring(context.Background(), make(chan Frame, 1)), ErrNotConnected)
}

func TestReplayDevice_SendsLogThenStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treadmill_log.json")
	now := time.Now()
	recorded := []Frame{
		{Source: SourceTreadmill, Data: []byte{0x0C, 0x00, 0xE8, 0x03, 0x0A, 0x00, 0x00}, Received: now},
		{Source: SourceHeartRate, Data: []byte{0x00, 0x80}, Received: now},
		{Source: SourceTreadmill, Data: []byte{0x0C, 0x00, 0xE8, 0x03, 0x14, 0x00, 0x00}, Received: now.Add(time.Second)},
	}
	require.NoError(t, WriteReplayLog(path, recorded))

	raw, err := LoadReplayLog(path)
	require.NoError(t, err)
	require.Len(t, raw, 2)

	sim := NewReplayDevice(raw, SimConfig{FrameInterval: 5 * time.Millisecond}, testLogger())
	ctx := context.Background()
	require.NoError(t, sim.Connect(ctx))
	frames := make(chan Frame, 16)
	require.NoError(t, sim.StartMonitoring(ctx, frames))

	assert.Equal(t, recorded[0].Data, receive(t, frames).Data)
	assert.Equal(t, recorded[2].Data, receive(t, frames).Data)
	select {
	case f := <-frames:
		t.Fatalf("unexpected frame after replay end: %v", f.Data)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, sim.StopMonitoring())
}

func TestLoadReplayLog_BadHex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"timestamp":"x","raw":"zz"}]`), 0644))
	_, err := LoadReplayLog(path)
	assert.Error(t, err)
}
