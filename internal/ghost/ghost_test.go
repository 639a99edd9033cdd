package ghost

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRng(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestBuildPoints_NormalizedForEveryStrategy(t *testing.T) {
	rng := newRng(1)
	const durationMin, avg = 33.0, 10.0
	targetKm := avg * durationMin / 60

	for _, strategy := range Strategies {
		points := BuildPoints(rng, strategy, durationMin, avg)
		require.Len(t, points, 10, strategy)
		p := Profile{DurationSeconds: durationMin * 60, Points: points}

		assert.InDelta(t, targetKm, SimulateDistance(p, p.DurationSeconds)/1000, 1e-6, strategy)
		for i := 1; i < len(points); i++ {
			assert.Greater(t, points[i].ElapsedSeconds, points[i-1].ElapsedSeconds, strategy)
		}
	}
}

func TestBuildPoints_Shapes(t *testing.T) {
	rng := newRng(2)

	even := BuildPoints(rng, StrategyEven, 10, 12)
	for _, p := range even {
		assert.InDelta(t, 12.0, p.SpeedKmh, 1e-9)
	}

	pos := BuildPoints(rng, StrategyPositiveSplit, 10, 12)
	assert.Greater(t, pos[9].SpeedKmh, pos[0].SpeedKmh)
	// final segment is 18% above the first before the common rescale
	assert.InDelta(t, 1.18, pos[9].SpeedKmh/pos[0].SpeedKmh, 1e-9)

	neg := BuildPoints(rng, StrategyNegativeSplit, 10, 12)
	assert.Less(t, neg[9].SpeedKmh, neg[0].SpeedKmh)

	surge := BuildPoints(rng, StrategyMidSurge, 10, 12)
	assert.InDelta(t, surge[0].SpeedKmh*1.2, surge[3].SpeedKmh, 1e-9)
	assert.InDelta(t, surge[0].SpeedKmh*1.2, surge[5].SpeedKmh, 1e-9)
	assert.InDelta(t, surge[0].SpeedKmh, surge[6].SpeedKmh, 1e-9)
	assert.InDelta(t, surge[0].SpeedKmh, surge[2].SpeedKmh, 1e-9)
}

func TestGenerate(t *testing.T) {
	rng := newRng(3)
	const durationMin, avg = 30.0, 10.0

	profiles := Generate(rng, durationMin, avg, 3)
	require.Len(t, profiles, 3)

	for i, p := range profiles {
		assert.Equal(t, string(rune('A'+i)), p.Name[len(p.Name)-1:])
		assert.InDelta(t, durationMin*60, p.DurationSeconds, durationMin*60*0.025+1e-9)
		assert.InDelta(t, 5.0, p.TargetDistanceKm, 1e-9)
		// every ghost finishes the user's distance at its own finish time
		assert.InDelta(t, 5.0, SimulateDistance(p, p.DurationSeconds)/1000, 1e-6)
		assert.Contains(t, Strategies, p.Strategy)
	}
}

func TestSimulateDistance_PiecewiseConstant(t *testing.T) {
	p := Profile{Points: []Point{{0, 10}, {60, 20}}}

	assert.InDelta(t, 0.0, SimulateDistance(p, 0), 1e-9)
	// the first interval's speed is held for the whole interval, no interpolation
	assert.InDelta(t, 10.0*30/3600*1000, SimulateDistance(p, 30), 1e-9)
	assert.InDelta(t, 10.0*60/3600*1000, SimulateDistance(p, 60), 1e-9)
	// the last speed holds forever
	assert.InDelta(t, (10.0*60+20.0*120)/3600*1000, SimulateDistance(p, 180), 1e-9)

	// before the first breakpoint nothing has been covered
	late := Profile{Points: []Point{{10, 10}}}
	assert.InDelta(t, 0.0, SimulateDistance(late, 5), 1e-9)
}

func TestSimulateDistance_Monotonic(t *testing.T) {
	rng := newRng(4)
	for _, p := range Generate(rng, 20, 11, 10) {
		prev := -1.0
		for ts := 0.0; ts <= p.DurationSeconds*1.2; ts += 7.3 {
			d := SimulateDistance(p, ts)
			assert.GreaterOrEqual(t, d, prev, "%s at %.1f", p.Name, ts)
			prev = d
		}
	}
}

func TestCurrentSpeed_Interpolates(t *testing.T) {
	p := Profile{Points: []Point{{0, 10}, {60, 20}}}

	assert.InDelta(t, 10.0, CurrentSpeed(p, 0), 1e-9)
	assert.InDelta(t, 15.0, CurrentSpeed(p, 30), 1e-9)
	assert.InDelta(t, 20.0, CurrentSpeed(p, 600), 1e-9)
	assert.InDelta(t, 0.0, CurrentSpeed(Profile{}, 10), 1e-9)
}

func TestGapMeters(t *testing.T) {
	p := Profile{Points: []Point{{0, 36}}} // 10 m/s
	assert.InDelta(t, 50.0, GapMeters(p, 10, 150), 1e-9)
	assert.InDelta(t, -20.0, GapMeters(p, 10, 80), 1e-9)
}

func TestTargetProfiles(t *testing.T) {
	targets := []Target{
		{Name: "PB 5k", DistanceKm: 5, Minutes: 25},
		{Name: "PB 10k", DistanceKm: 10, Minutes: 55},
		{Name: "bad", DistanceKm: 1, Minutes: 0},
	}

	profiles := TargetProfiles(targets, 6)
	require.Len(t, profiles, 1)
	assert.Equal(t, "PB 5k", profiles[0].Label())
	require.Len(t, profiles[0].Points, 1)
	assert.InDelta(t, 12.0, profiles[0].Points[0].SpeedKmh, 1e-9)
	assert.InDelta(t, 5000.0, SimulateDistance(profiles[0], 25*60), 1e-6)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Ghost A (±0s)", Profile{Name: "Ghost A", OffsetSeconds: 0.4}.Label())
	assert.Equal(t, "Ghost B (+12s)", Profile{Name: "Ghost B", OffsetSeconds: 11.6}.Label())
	assert.Equal(t, "Ghost C (-30s)", Profile{Name: "Ghost C", OffsetSeconds: -30}.Label())
}
