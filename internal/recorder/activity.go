package recorder

import "time"

// Sample is one telemetry snapshot handed to the recorder, in device units
type Sample struct {
	Time           time.Time
	SpeedKmh       float64
	DistanceKm     float64
	InclinePercent float64
	HasHeartRate   bool
	HeartRateBpm   int
}

// Position is a geographic coordinate in degrees with elevation in meters
type Position struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Elevation float64 `json:"ele"`
}

// TrackPoint is a persisted sample in storage units (meters, m/s)
type TrackPoint struct {
	Time           time.Time `json:"time"`
	DistanceMeters float64   `json:"distance_m"`
	SpeedMps       float64   `json:"speed_mps"`
	InclinePercent float64   `json:"incline_percent"`
	HeartRateBpm   int       `json:"heart_rate_bpm,omitempty"`
	Position       *Position `json:"position,omitempty"`
}

// Lap is a contiguous run of track points. Totals are derived from its bounds.
type Lap struct {
	StartTime       time.Time
	EndTime         time.Time
	StartDistanceKm float64
	EndDistanceKm   float64
	Points          []TrackPoint
}

func (l Lap) TotalTimeSeconds() float64 {
	return l.EndTime.Sub(l.StartTime).Seconds()
}

func (l Lap) DistanceMeters() float64 {
	return (l.EndDistanceKm - l.StartDistanceKm) * 1000
}

// MaxSpeedMps is the fastest point of the lap
func (l Lap) MaxSpeedMps() float64 {
	var best float64
	for _, p := range l.Points {
		best = max(best, p.SpeedMps)
	}
	return best
}

// HeartRate returns the average and maximum bpm over points that carry one
func (l Lap) HeartRate() (avg int, maxBpm int, ok bool) {
	var sum, n int
	for _, p := range l.Points {
		if p.HeartRateBpm <= 0 {
			continue
		}
		sum += p.HeartRateBpm
		n++
		maxBpm = max(maxBpm, p.HeartRateBpm)
	}
	if n == 0 {
		return 0, 0, false
	}
	return (sum + n/2) / n, maxBpm, true
}

// Activity is the in-memory session log: one activity, ordered laps
type Activity struct {
	ID        string
	StartTime time.Time
	Laps      []Lap
}

// Points returns every track point in recording order
func (a Activity) Points() []TrackPoint {
	var n int
	for _, l := range a.Laps {
		n += len(l.Points)
	}
	points := make([]TrackPoint, 0, n)
	for _, l := range a.Laps {
		points = append(points, l.Points...)
	}
	return points
}

func (a Activity) DistanceMeters() float64 {
	var total float64
	for _, l := range a.Laps {
		total += l.DistanceMeters()
	}
	return total
}

func kmhToMps(kmh float64) float64 {
	return kmh / 3.6
}
