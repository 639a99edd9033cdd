package ghost

import "math"

// Gap is one ghost's position relative to the user
type Gap struct {
	Name                string
	GapMeters           float64
	GhostDistanceMeters float64
	GhostSpeedKmh       float64
}

// Comparator recomputes ghost gaps only when the user's distance, rounded to
// 0.1 m, changes. It is not safe for concurrent use.
type Comparator struct {
	profiles     []Profile
	lastKey      int64
	hasLast      bool
	gaps         []Gap
	recomputeCnt int
}

func NewComparator(profiles []Profile) *Comparator {
	return &Comparator{profiles: profiles}
}

func (c *Comparator) Profiles() []Profile {
	return c.profiles
}

// Update returns the current gaps and whether they were recomputed for this sample
func (c *Comparator) Update(elapsedSeconds, userDistanceM float64) ([]Gap, bool) {
	key := int64(math.Round(userDistanceM * 10))
	if c.hasLast && key == c.lastKey {
		return c.gaps, false
	}
	c.lastKey = key
	c.hasLast = true
	c.recomputeCnt++

	gaps := make([]Gap, len(c.profiles))
	for i, p := range c.profiles {
		ghostM := SimulateDistance(p, elapsedSeconds)
		gaps[i] = Gap{
			Name:                p.Label(),
			GapMeters:           userDistanceM - ghostM,
			GhostDistanceMeters: ghostM,
			GhostSpeedKmh:       CurrentSpeed(p, elapsedSeconds),
		}
	}
	c.gaps = gaps
	return gaps, true
}

// Recomputations counts how many times gaps were actually recomputed
func (c *Comparator) Recomputations() int {
	return c.recomputeCnt
}
