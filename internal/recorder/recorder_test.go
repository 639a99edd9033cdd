package recorder

import (
	"encoding/xml"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 14, 7, 30, 0, 0, time.UTC)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type parsedTCX struct {
	Laps []struct {
		StartTime        string  `xml:"StartTime,attr"`
		TotalTimeSeconds float64 `xml:"TotalTimeSeconds"`
		DistanceMeters   float64 `xml:"DistanceMeters"`
		Trackpoints      []struct {
			DistanceMeters float64 `xml:"DistanceMeters"`
			HeartRate      int     `xml:"HeartRateBpm>Value"`
		} `xml:"Track>Trackpoint"`
	} `xml:"Activities>Activity>Lap"`
}

func readTCX(t *testing.T, path string) parsedTCX {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc parsedTCX
	require.NoError(t, xml.Unmarshal(raw, &doc))
	return doc
}

func recordTwoLaps(t *testing.T, r *Recorder) {
	t.Helper()
	require.NoError(t, r.StartLap(t0, 0))
	require.NoError(t, r.Append(Sample{Time: t0.Add(30 * time.Second), SpeedKmh: 10, DistanceKm: 0.083}))
	require.NoError(t, r.Append(Sample{Time: t0.Add(60 * time.Second), SpeedKmh: 10, DistanceKm: 0.167, HasHeartRate: true, HeartRateBpm: 140}))
	require.NoError(t, r.FinalizeLap(t0.Add(60*time.Second), 0.167))

	require.NoError(t, r.StartLap(t0.Add(60*time.Second), 0.167))
	require.NoError(t, r.Append(Sample{Time: t0.Add(90 * time.Second), SpeedKmh: 12, DistanceKm: 0.267, InclinePercent: 1.5}))
	require.NoError(t, r.FinalizeLap(t0.Add(120*time.Second), 0.367))
}

func TestRecorder_LapAccountingAndTCX(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(testLogger(), Options{Dir: dir})
	require.NoError(t, r.Start(t0, "session-1"))
	recordTwoLaps(t, r)
	require.NoError(t, r.Finalize())

	assert.Equal(t, filepath.Join(dir, "workout_2025-03-14_07-30-00.tcx"), r.TCXPath())
	assert.FileExists(t, r.JournalPath())

	a := r.Activity()
	assert.Equal(t, "session-1", a.ID)
	require.Len(t, a.Laps, 2)
	assert.InDelta(t, 60.0, a.Laps[0].TotalTimeSeconds(), 1e-9)
	assert.InDelta(t, 167.0, a.Laps[0].DistanceMeters(), 1e-6)
	assert.InDelta(t, 60.0, a.Laps[1].TotalTimeSeconds(), 1e-9)
	assert.InDelta(t, 200.0, a.Laps[1].DistanceMeters(), 1e-6)
	assert.Len(t, a.Points(), 3)

	doc := readTCX(t, r.TCXPath())
	require.Len(t, doc.Laps, 2)
	assert.InDelta(t, 60.0, doc.Laps[0].TotalTimeSeconds, 1e-9)
	assert.InDelta(t, 167.0, doc.Laps[0].DistanceMeters, 1e-6)
	assert.InDelta(t, 200.0, doc.Laps[1].DistanceMeters, 1e-6)
	require.Len(t, doc.Laps[0].Trackpoints, 2)
	assert.Equal(t, 0, doc.Laps[0].Trackpoints[0].HeartRate)
	assert.Equal(t, 140, doc.Laps[0].Trackpoints[1].HeartRate)
	assert.Equal(t, "2025-03-14T07:31:00Z", doc.Laps[1].StartTime)

	raw, err := os.ReadFile(r.TCXPath())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<ns3:Speed>3.333</ns3:Speed>")
	assert.Contains(t, string(raw), "<ns3:Incline>1.50</ns3:Incline>")
	assert.Equal(t, 1, strings.Count(string(raw), "</TrainingCenterDatabase>"))
}

func TestRecorder_InvalidCalls(t *testing.T) {
	r := NewRecorder(testLogger(), Options{})

	assert.ErrorIs(t, r.StartLap(t0, 0), ErrNotStarted)
	assert.ErrorIs(t, r.Finalize(), ErrNotStarted)

	require.NoError(t, r.Start(t0, "id"))
	assert.ErrorIs(t, r.Start(t0, "id"), ErrAlreadyStarted)
	assert.ErrorIs(t, r.Append(Sample{Time: t0}), ErrNoOpenLap)
	assert.ErrorIs(t, r.FinalizeLap(t0, 0), ErrNoOpenLap)

	require.NoError(t, r.StartLap(t0, 0))
	assert.ErrorIs(t, r.StartLap(t0, 0), ErrLapAlreadyOpen)

	require.NoError(t, r.Finalize())
	require.NoError(t, r.Finalize())
	assert.ErrorIs(t, r.Append(Sample{Time: t0}), ErrFinalized)
	assert.ErrorIs(t, r.StartLap(t0, 0), ErrFinalized)
	assert.Empty(t, r.TCXPath())
}

func TestRecorder_FinalizeClosesOpenLapAtLastPoint(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(testLogger(), Options{Dir: dir})
	require.NoError(t, r.Start(t0, "id"))
	require.NoError(t, r.StartLap(t0, 0))
	require.NoError(t, r.Append(Sample{Time: t0.Add(10 * time.Second), SpeedKmh: 9, DistanceKm: 0.025}))
	require.NoError(t, r.Append(Sample{Time: t0.Add(20 * time.Second), SpeedKmh: 9, DistanceKm: 0.05}))
	require.NoError(t, r.Finalize())

	a := r.Activity()
	require.Len(t, a.Laps, 1)
	assert.Equal(t, t0.Add(20*time.Second), a.Laps[0].EndTime)
	assert.InDelta(t, 50.0, a.Laps[0].DistanceMeters(), 1e-6)

	doc := readTCX(t, r.TCXPath())
	require.Len(t, doc.Laps, 1)
	assert.InDelta(t, 20.0, doc.Laps[0].TotalTimeSeconds, 1e-9)
}

func TestRecorder_KeepsRecordingWhenDirUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	r := NewRecorder(testLogger(), Options{Dir: filepath.Join(blocker, "sub")})
	assert.Error(t, r.Start(t0, "id"))
	recordTwoLaps(t, r)
	require.NoError(t, r.Finalize())
	assert.Len(t, r.Activity().Laps, 2)
}

func TestRecorder_RouteAddsPositions(t *testing.T) {
	route, err := NewRoute([]Position{{Latitude: 0, Longitude: 0, Elevation: 10}, {Latitude: 0, Longitude: 0.01, Elevation: 20}})
	require.NoError(t, err)

	r := NewRecorder(testLogger(), Options{Route: route})
	require.NoError(t, r.Start(t0, "id"))
	require.NoError(t, r.StartLap(t0, 0))
	half := route.LengthMeters() / 2 / 1000
	require.NoError(t, r.Append(Sample{Time: t0.Add(time.Minute), SpeedKmh: 10, DistanceKm: half}))
	require.NoError(t, r.Finalize())

	p := r.Activity().Points()[0]
	require.NotNil(t, p.Position)
	assert.InDelta(t, 0.005, p.Position.Longitude, 1e-9)
	assert.InDelta(t, 15.0, p.Position.Elevation, 1e-9)
}

func TestRecover_RebuildsCrashedSession(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(testLogger(), Options{Dir: dir})
	require.NoError(t, r.Start(t0, "crashed"))
	require.NoError(t, r.StartLap(t0, 0))
	require.NoError(t, r.Append(Sample{Time: t0.Add(5 * time.Second), SpeedKmh: 10, DistanceKm: 0.014}))
	require.NoError(t, r.FinalizeLap(t0.Add(5*time.Second), 0.014))
	require.NoError(t, r.StartLap(t0.Add(5*time.Second), 0.014))
	require.NoError(t, r.Append(Sample{Time: t0.Add(10 * time.Second), SpeedKmh: 10, DistanceKm: 0.028}))
	// no Finalize: the process died here

	out := filepath.Join(dir, "recovered.tcx")
	a, err := Recover(r.JournalPath(), out)
	require.NoError(t, err)
	assert.Equal(t, "crashed", a.ID)
	require.Len(t, a.Laps, 2)
	assert.Equal(t, t0.Add(10*time.Second), a.Laps[1].EndTime)
	assert.InDelta(t, 14.0, a.Laps[1].DistanceMeters(), 1e-6)

	doc := readTCX(t, out)
	assert.Len(t, doc.Laps, 2)
}

func TestReadJournal_IgnoresTornLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.jsonl")
	content := `{"type":"start","time":"2025-03-14T07:30:00Z","id":"x"}
{"type":"lap_start","time":"2025-03-14T07:30:00Z"}
{"type":"point","time":"2025-03-14T07:30:05Z","point":{"time":"2025-03-14T07:30:05Z","distance_m":12,"speed_mps":2.5,"incline_percent":1}}
{"type":"point","time":"2025-03-14T07:30:1`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	a, err := ReadJournal(path)
	require.NoError(t, err)
	require.Len(t, a.Laps, 1)
	assert.Len(t, a.Laps[0].Points, 1)
	assert.InDelta(t, 12.0, a.Laps[0].DistanceMeters(), 1e-9)
}

func TestReadJournal_RejectsCorruptMiddle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.jsonl")
	content := "{\"type\":\"start\",\"time\":\"2025-03-14T07:30:00Z\"}\nnot json\n{\"type\":\"finish\",\"time\":\"2025-03-14T07:30:00Z\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := ReadJournal(path)
	assert.Error(t, err)
}
