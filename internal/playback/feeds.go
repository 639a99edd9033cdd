package playback

import (
	"context"
	"fmt"
	"math"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ghost"
)

// Feeds are the latest-value channels a playback reads from. The session is
// the only producer; Exit is the one thing a playback may write.
type Feeds struct {
	SpeedRatio     *events.Latest[float64]
	SpeedKmh       *events.Latest[float64]
	DistanceKm     *events.Latest[float64]
	ElapsedSeconds *events.Latest[float64]
	HeartRateBpm   *events.Latest[int]
	Gaps           *events.Latest[[]ghost.Gap]
	Status         *events.Latest[string]
	Exit           *events.Signal
}

func NewFeeds(exit *events.Signal) *Feeds {
	if exit == nil {
		exit = events.NewSignal()
	}
	return &Feeds{
		SpeedRatio:     events.NewLatest[float64](),
		SpeedKmh:       events.NewLatest[float64](),
		DistanceKm:     events.NewLatest[float64](),
		ElapsedSeconds: events.NewLatest[float64](),
		HeartRateBpm:   events.NewLatest[int](),
		Gaps:           events.NewLatest[[]ghost.Gap](),
		Status:         events.NewLatest[string](),
		Exit:           exit,
	}
}

// Playback runs alongside a session until ctx is cancelled
type Playback interface {
	Run(ctx context.Context, feeds *Feeds) error
}

// View accumulates the latest values of every feed
type View struct {
	SpeedRatio     float64 `json:"speed_ratio"`
	SpeedKmh       float64 `json:"speed_kmh"`
	DistanceKm     float64 `json:"distance_km"`
	ElapsedSeconds float64 `json:"elapsed_s"`
	HeartRateBpm   int     `json:"heart_rate_bpm,omitempty"`
	Gaps           []Gap   `json:"gaps,omitempty"`
	Status         string  `json:"status,omitempty"`
}

type Gap struct {
	Name          string  `json:"name"`
	GapMeters     float64 `json:"gap_m"`
	GhostSpeedKmh float64 `json:"ghost_speed_kmh"`
}

// Pull takes whatever new values are waiting, without blocking
func (v *View) Pull(f *Feeds) bool {
	changed := false
	if x, ok := f.SpeedRatio.TryGet(); ok {
		v.SpeedRatio, changed = x, true
	}
	if x, ok := f.SpeedKmh.TryGet(); ok {
		v.SpeedKmh, changed = x, true
	}
	if x, ok := f.DistanceKm.TryGet(); ok {
		v.DistanceKm, changed = x, true
	}
	if x, ok := f.ElapsedSeconds.TryGet(); ok {
		v.ElapsedSeconds, changed = x, true
	}
	if x, ok := f.HeartRateBpm.TryGet(); ok {
		v.HeartRateBpm, changed = x, true
	}
	if gaps, ok := f.Gaps.TryGet(); ok {
		v.Gaps = make([]Gap, len(gaps))
		for i, g := range gaps {
			v.Gaps[i] = Gap{Name: g.Name, GapMeters: g.GapMeters, GhostSpeedKmh: g.GhostSpeedKmh}
		}
		changed = true
	}
	if x, ok := f.Status.TryGet(); ok {
		v.Status, changed = x, true
	}
	return changed
}

// FormatClock renders seconds as m:ss, or h:mm:ss from an hour up
func FormatClock(seconds float64) string {
	total := int(math.Max(0, seconds))
	h, m, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatPace renders min/km for a speed, "--:--" when standing still
func FormatPace(speedKmh float64) string {
	if speedKmh <= 0 {
		return "--:--"
	}
	return FormatClock(3600 / speedKmh)
}

// FormatGap is "+12 m" when the runner leads the ghost, "-3 m" when behind
func FormatGap(gapMeters float64) string {
	return fmt.Sprintf("%+.0f m", gapMeters)
}
