package playback

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Headless writes the live values to the log at a fixed interval
type Headless struct {
	logger   *log.Logger
	interval time.Duration
}

func NewHeadless(logger *log.Logger, interval time.Duration) *Headless {
	if logger == nil {
		panic("Headless: logger cannot be nil")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Headless{logger: logger, interval: interval}
}

func (h *Headless) Run(ctx context.Context, feeds *Feeds) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var view View
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if view.Pull(feeds) {
				h.logger.Printf("Headless: %s", Summary(view))
			}
		}
	}
}

// Summary is a one-line rendering of a view
func Summary(v View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %.1f km/h (%s /km) | %.2f km", FormatClock(v.ElapsedSeconds), v.SpeedKmh, FormatPace(v.SpeedKmh), v.DistanceKm)
	if v.HeartRateBpm > 0 {
		fmt.Fprintf(&b, " | HR %d", v.HeartRateBpm)
	}
	for _, g := range v.Gaps {
		fmt.Fprintf(&b, " | %s %s", g.Name, FormatGap(g.GapMeters))
	}
	return b.String()
}
