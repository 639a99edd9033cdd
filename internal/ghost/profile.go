package ghost

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Strategy is the shape of a ghost's pacing curve
type Strategy string

const (
	StrategyEven          Strategy = "even"
	StrategyPositiveSplit Strategy = "positive_split"
	StrategyNegativeSplit Strategy = "negative_split"
	StrategyMidSurge      Strategy = "mid_surge"
	StrategyRandom        Strategy = "random"
	StrategyTarget        Strategy = "target"
)

// Strategies lists the pacing strategies drawn for generated ghosts
var Strategies = []Strategy{
	StrategyEven,
	StrategyPositiveSplit,
	StrategyNegativeSplit,
	StrategyMidSurge,
	StrategyRandom,
}

const (
	profileSegments   = 10
	durationVariation = 0.025
	splitSpread       = 0.2
	surgeFactor       = 1.2
	randomLow         = 0.8
	randomHigh        = 1.2
)

// Point is a breakpoint of a pacing curve
type Point struct {
	ElapsedSeconds float64
	SpeedKmh       float64
}

// Profile is an immutable ghost pacing curve. Points are strictly increasing in
// ElapsedSeconds; the speed of the last point holds forever.
type Profile struct {
	Name             string
	Strategy         Strategy
	DurationSeconds  float64
	TargetDistanceKm float64
	// OffsetSeconds is how much longer (positive) or shorter than the user's
	// target duration this ghost takes to finish.
	OffsetSeconds float64
	Points        []Point
}

// Label is the display name, including the finish offset for generated ghosts
func (p Profile) Label() string {
	if p.Strategy == StrategyTarget {
		return p.Name
	}
	switch {
	case math.Abs(p.OffsetSeconds) < 1:
		return p.Name + " (±0s)"
	case p.OffsetSeconds > 0:
		return fmt.Sprintf("%s (+%ds)", p.Name, int(math.Round(p.OffsetSeconds)))
	default:
		return fmt.Sprintf("%s (%ds)", p.Name, int(math.Round(p.OffsetSeconds)))
	}
}

// Generate draws count ghosts that cover the same distance as the user's routine
// (durationMin at avgSpeedKmh), each finishing within ±2.5 % of durationMin.
func Generate(rng *rand.Rand, durationMin, avgSpeedKmh float64, count int) []Profile {
	targetKm := avgSpeedKmh * durationMin / 60.0
	profiles := make([]Profile, 0, count)
	for i := 0; i < count; i++ {
		variation := (rng.Float64()*2 - 1) * durationVariation
		ghostMin := durationMin * (1 + variation)
		ghostAvg := avgSpeedKmh * durationMin / ghostMin
		strategy := Strategies[rng.IntN(len(Strategies))]

		profiles = append(profiles, Profile{
			Name:             fmt.Sprintf("Ghost %c", 'A'+i),
			Strategy:         strategy,
			DurationSeconds:  ghostMin * 60,
			TargetDistanceKm: targetKm,
			OffsetSeconds:    (ghostMin - durationMin) * 60,
			Points:           BuildPoints(rng, strategy, ghostMin, ghostAvg),
		})
	}
	return profiles
}

// BuildPoints lays out ten equal time segments for strategy and rescales them so
// the curve covers avgSpeedKmh*durationMin/60 km in durationMin.
func BuildPoints(rng *rand.Rand, strategy Strategy, durationMin, avgSpeedKmh float64) []Point {
	segmentSeconds := durationMin * 60 / profileSegments
	points := make([]Point, profileSegments)
	for i := range points {
		progress := float64(i) / profileSegments
		speed := avgSpeedKmh
		switch strategy {
		case StrategyPositiveSplit:
			speed = avgSpeedKmh + progress*avgSpeedKmh*splitSpread
		case StrategyNegativeSplit:
			speed = avgSpeedKmh - progress*avgSpeedKmh*splitSpread
		case StrategyMidSurge:
			if i >= profileSegments/3 && i < 2*profileSegments/3 {
				speed = avgSpeedKmh * surgeFactor
			}
		case StrategyRandom:
			speed = avgSpeedKmh * (randomLow + rng.Float64()*(randomHigh-randomLow))
		}
		points[i] = Point{ElapsedSeconds: float64(i) * segmentSeconds, SpeedKmh: speed}
	}
	return normalize(points, avgSpeedKmh, segmentSeconds)
}

// normalize applies one multiplicative factor so the equal-length segments
// integrate to exactly targetAvg over their combined duration.
func normalize(points []Point, targetAvg, segmentSeconds float64) []Point {
	var total float64
	for _, p := range points {
		total += p.SpeedKmh * segmentSeconds / 3600.0
	}
	expected := targetAvg * segmentSeconds * float64(len(points)) / 3600.0
	if total <= 0 {
		return points
	}
	scale := expected / total
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{ElapsedSeconds: p.ElapsedSeconds, SpeedKmh: p.SpeedKmh * scale}
	}
	return out
}

// Target is a fixed goal such as a personal best: cover DistanceKm in Minutes
type Target struct {
	Name       string
	DistanceKm float64
	Minutes    float64
}

// TargetProfiles returns one flat-speed ghost per target whose distance the
// routine reaches. Targets with non-positive values are skipped.
func TargetProfiles(targets []Target, routineDistanceKm float64) []Profile {
	var profiles []Profile
	for _, t := range targets {
		if t.DistanceKm <= 0 || t.Minutes <= 0 || routineDistanceKm < t.DistanceKm {
			continue
		}
		speed := t.DistanceKm / (t.Minutes / 60.0)
		profiles = append(profiles, Profile{
			Name:             t.Name,
			Strategy:         StrategyTarget,
			DurationSeconds:  t.Minutes * 60,
			TargetDistanceKm: t.DistanceKm,
			Points:           []Point{{ElapsedSeconds: 0, SpeedKmh: speed}},
		})
	}
	return profiles
}
