package ftms

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FTMS_SpeedPresentWhenBitClear(t *testing.T) {
	// flags: bit 0 clear (speed present), bit 2 distance, bit 3 incline, bit 10 elapsed
	buf := []byte{
		0x0C, 0x04,
		0xE8, 0x03, // 10.00 km/h
		0xDC, 0x05, 0x00, // 1500 m
		0x0F, 0x00, 0x00, 0x00, // 1.5 %, ramp angle
		0x3C, 0x00, // 60 s
	}

	r, err := Decode(buf, ProfileFTMS)
	require.NoError(t, err)
	assert.True(t, r.HasSpeed)
	assert.InDelta(t, 10.0, r.SpeedKmh, 1e-9)
	assert.True(t, r.HasDistance)
	assert.InDelta(t, 1.5, r.DistanceKm, 1e-9)
	assert.True(t, r.HasIncline)
	assert.InDelta(t, 1.5, r.InclinePercent, 1e-9)
	assert.True(t, r.HasElapsedTime)
	assert.InDelta(t, 60.0, r.ElapsedSeconds, 1e-9)
	assert.False(t, r.HasHeartRate)
}

func TestDecode_FTMS_SpeedAbsentWhenBitSet(t *testing.T) {
	buf := []byte{0x05, 0x00, 0x10, 0x00, 0x00}

	r, err := Decode(buf, ProfileFTMS)
	require.NoError(t, err)
	assert.False(t, r.HasSpeed)
	assert.True(t, r.HasDistance)
	assert.InDelta(t, 0.016, r.DistanceKm, 1e-9)
}

func TestDecode_Legacy_SpeedPresentWhenBitSet(t *testing.T) {
	// flags: bit 0 set (speed present), bit 10 elapsed as UINT24
	buf := []byte{0x01, 0x04, 0xB0, 0x04, 0x10, 0x27, 0x00}

	r, err := Decode(buf, ProfileLegacy)
	require.NoError(t, err)
	assert.True(t, r.HasSpeed)
	assert.InDelta(t, 12.0, r.SpeedKmh, 1e-9)
	assert.True(t, r.HasElapsedTime)
	assert.InDelta(t, 10000.0, r.ElapsedSeconds, 1e-9)

	// The same bytes read with the other polarity find no speed field
	r, err = Decode([]byte{0x00, 0x00}, ProfileLegacy)
	require.NoError(t, err)
	assert.True(t, r.Empty())
}

func TestDecode_SkipsUnusedFieldsToKeepOffsets(t *testing.T) {
	// speed, average speed, elevation gain, pace, energy, HR, MET, elapsed, remaining, force/power
	flags := uint16(1<<1 | 1<<4 | 1<<5 | 1<<6 | 1<<7 | 1<<8 | 1<<9 | 1<<10 | 1<<11 | 1<<12)
	buf := []byte{byte(flags), byte(flags >> 8)}
	buf = append(buf, 0x20, 0x03)                   // speed 8.00
	buf = append(buf, 0xFF, 0xFF)                   // average speed
	buf = append(buf, 0x01, 0x00, 0x02, 0x00)       // elevation gains
	buf = append(buf, 0x10, 0x01)                   // instantaneous pace
	buf = append(buf, 0x11, 0x01)                   // average pace
	buf = append(buf, 0x01, 0x00, 0x02, 0x00, 0x03) // energy
	buf = append(buf, 0x8C)                         // HR 140
	buf = append(buf, 0x50)                         // MET 8.0
	buf = append(buf, 0x2C, 0x01)                   // elapsed 300
	buf = append(buf, 0x10, 0x0E)                   // remaining
	buf = append(buf, 0x00, 0x00, 0x64, 0x00)       // force, power

	r, err := Decode(buf, ProfileFTMS)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, r.SpeedKmh, 1e-9)
	assert.True(t, r.HasHeartRate)
	assert.Equal(t, 140, r.HeartRateBpm)
	assert.InDelta(t, 300.0, r.ElapsedSeconds, 1e-9)
	assert.False(t, r.HasDistance)
}

func TestDecode_NegativeIncline(t *testing.T) {
	buf := []byte{0x09, 0x00, 0xF6, 0xFF, 0x00, 0x00}

	r, err := Decode(buf, ProfileFTMS)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, r.InclinePercent, 1e-9)
}

func TestDecode_TruncatedFrame(t *testing.T) {
	// distance flagged but only two of three bytes present
	buf := []byte{0x04, 0x00, 0xE8, 0x03, 0x10, 0x00}

	r, err := Decode(buf, ProfileFTMS)
	require.Error(t, err)
	assert.True(t, r.Empty(), "a malformed frame must not leak partial fields")

	var malformed *MalformedFrameError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, FieldDistance, malformed.Field)
	assert.Equal(t, 4, malformed.Offset)

	_, err = Decode([]byte{0x00}, ProfileFTMS)
	require.True(t, errors.As(err, &malformed))
	assert.Contains(t, err.Error(), "too short")
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	full := Reading{
		HasSpeed: true, SpeedKmh: 11.37,
		HasDistance: true, DistanceKm: 4.321,
		HasIncline: true, InclinePercent: -2.5,
		HasElapsedTime: true, ElapsedSeconds: 1234,
		HasHeartRate: true, HeartRateBpm: 151,
	}

	for _, profile := range []Profile{ProfileFTMS, ProfileLegacy} {
		// every subset of the five core fields
		for mask := 0; mask < 32; mask++ {
			r := full
			r.HasSpeed = mask&1 != 0
			r.HasDistance = mask&2 != 0
			r.HasIncline = mask&4 != 0
			r.HasElapsedTime = mask&8 != 0
			r.HasHeartRate = mask&16 != 0
			if profile.Name == ProfileLegacy.Name {
				// legacy frames carry no heart rate field
				r.HasHeartRate = false
			}
			want := clearAbsent(r)

			got, err := Decode(Encode(r, profile), profile)
			require.NoError(t, err, "profile=%s mask=%d", profile.Name, mask)
			assert.Equal(t, want.HasSpeed, got.HasSpeed)
			assert.Equal(t, want.HasDistance, got.HasDistance)
			assert.Equal(t, want.HasIncline, got.HasIncline)
			assert.Equal(t, want.HasElapsedTime, got.HasElapsedTime)
			assert.Equal(t, want.HasHeartRate, got.HasHeartRate)
			assert.InDelta(t, want.SpeedKmh, got.SpeedKmh, 1e-9)
			assert.InDelta(t, want.DistanceKm, got.DistanceKm, 1e-9)
			assert.InDelta(t, want.InclinePercent, got.InclinePercent, 1e-9)
			assert.InDelta(t, want.ElapsedSeconds, got.ElapsedSeconds, 1e-9)
			assert.Equal(t, want.HeartRateBpm, got.HeartRateBpm)
		}
	}
}

func clearAbsent(r Reading) Reading {
	if !r.HasSpeed {
		r.SpeedKmh = 0
	}
	if !r.HasDistance {
		r.DistanceKm = 0
	}
	if !r.HasIncline {
		r.InclinePercent = 0
	}
	if !r.HasElapsedTime {
		r.ElapsedSeconds = 0
	}
	if !r.HasHeartRate {
		r.HeartRateBpm = 0
	}
	return r
}

func TestProfileByName(t *testing.T) {
	p, err := ProfileByName("")
	require.NoError(t, err)
	assert.Equal(t, "ftms", p.Name)

	p, err = ProfileByName("legacy")
	require.NoError(t, err)
	assert.InDelta(t, 1.59, p.SpeedCommandDivisor, 1e-9)

	_, err = ProfileByName("bogus")
	assert.Error(t, err)
}
