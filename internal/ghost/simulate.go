package ghost

import "math"

// SimulateDistance returns how many meters the ghost has covered after
// elapsedSeconds. Each breakpoint's speed is held until the next breakpoint;
// the last speed is held indefinitely.
func SimulateDistance(p Profile, elapsedSeconds float64) float64 {
	var km float64
	for i, pt := range p.Points {
		if elapsedSeconds < pt.ElapsedSeconds {
			break
		}
		end := math.Inf(1)
		if i+1 < len(p.Points) {
			end = p.Points[i+1].ElapsedSeconds
		}
		km += pt.SpeedKmh * (math.Min(elapsedSeconds, end) - pt.ElapsedSeconds) / 3600.0
		if elapsedSeconds < end {
			break
		}
	}
	return km * 1000
}

// CurrentSpeed linearly interpolates the speed between the bracketing
// breakpoints. It is for display only; SimulateDistance does the accounting.
func CurrentSpeed(p Profile, elapsedSeconds float64) float64 {
	if len(p.Points) == 0 {
		return 0
	}
	if elapsedSeconds <= p.Points[0].ElapsedSeconds {
		return p.Points[0].SpeedKmh
	}
	for i := 0; i+1 < len(p.Points); i++ {
		a, b := p.Points[i], p.Points[i+1]
		if elapsedSeconds < b.ElapsedSeconds {
			frac := (elapsedSeconds - a.ElapsedSeconds) / (b.ElapsedSeconds - a.ElapsedSeconds)
			return a.SpeedKmh + frac*(b.SpeedKmh-a.SpeedKmh)
		}
	}
	return p.Points[len(p.Points)-1].SpeedKmh
}

// GapMeters is the user's lead over the ghost; negative means the ghost is ahead
func GapMeters(p Profile, elapsedSeconds, userDistanceM float64) float64 {
	return userDistanceM - SimulateDistance(p, elapsedSeconds)
}
