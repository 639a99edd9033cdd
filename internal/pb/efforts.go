package pb

import (
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/recorder"
)

// StandardDistancesKm are the distances a session is checked against
var StandardDistancesKm = []float64{1, 3, 5, 10, 21.0975}

// Effort is the fastest stretch of a session covering DistanceKm
type Effort struct {
	DistanceKm float64
	Duration   time.Duration
	Start      time.Time
	End        time.Time
}

func (e Effort) Minutes() float64 {
	return e.Duration.Minutes()
}

// BestEfforts finds, for each distance, the shortest time between two track
// points that covers it. Distance is non-decreasing along the points, so a
// sliding window finds the best span in one pass per distance. The duration is
// scaled from the covered span down to exactly the target distance. Distances
// the session never covers are omitted.
func BestEfforts(points []recorder.TrackPoint, distancesKm []float64) []Effort {
	var efforts []Effort
	for _, km := range distancesKm {
		if e, ok := bestEffort(points, km*1000); ok {
			e.DistanceKm = km
			efforts = append(efforts, e)
		}
	}
	return efforts
}

func bestEffort(points []recorder.TrackPoint, targetM float64) (Effort, bool) {
	if targetM <= 0 || len(points) < 2 {
		return Effort{}, false
	}

	var (
		best  Effort
		found bool
		i     int
	)
	for j := 1; j < len(points); j++ {
		// shrink from the left while the window still covers the target
		for i+1 < j && points[j].DistanceMeters-points[i+1].DistanceMeters >= targetM {
			i++
		}
		covered := points[j].DistanceMeters - points[i].DistanceMeters
		if covered < targetM {
			continue
		}
		elapsed := points[j].Time.Sub(points[i].Time)
		scaled := time.Duration(float64(elapsed) * targetM / covered)
		if !found || scaled < best.Duration {
			best = Effort{Duration: scaled, Start: points[i].Time, End: points[j].Time}
			found = true
		}
	}
	return best, found
}
