package ftms

import (
	"fmt"
	"math"
)

// FieldID identifies one field of the Treadmill Data characteristic
type FieldID int

const (
	FieldSpeed FieldID = iota
	FieldAverageSpeed
	FieldDistance
	FieldIncline
	FieldElevationGain
	FieldInstantaneousPace
	FieldAveragePace
	FieldExpendedEnergy
	FieldHeartRate
	FieldMetabolicEquivalent
	FieldElapsedTime
	FieldRemainingTime
	FieldForceAndPower
)

var fieldNames = map[FieldID]string{
	FieldSpeed:               "speed",
	FieldAverageSpeed:        "average speed",
	FieldDistance:            "total distance",
	FieldIncline:             "inclination",
	FieldElevationGain:       "elevation gain",
	FieldInstantaneousPace:   "instantaneous pace",
	FieldAveragePace:         "average pace",
	FieldExpendedEnergy:      "expended energy",
	FieldHeartRate:           "heart rate",
	FieldMetabolicEquivalent: "metabolic equivalent",
	FieldElapsedTime:         "elapsed time",
	FieldRemainingTime:       "remaining time",
	FieldForceAndPower:       "force on belt and power",
}

func (f FieldID) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// FieldSpec describes where a field lives in a frame: which flag bit selects it,
// whether that bit is inverted and how many bytes the field occupies.
type FieldSpec struct {
	ID               FieldID
	Bit              uint
	PresentWhenClear bool
	Size             int
}

func (s FieldSpec) present(flags uint16) bool {
	set := flags&(1<<s.Bit) != 0
	if s.PresentWhenClear {
		return !set
	}
	return set
}

// Profile is a device dialect: field order, presence polarity and the divisor
// applied to speed before it is sent to the control point.
type Profile struct {
	Name                string
	Fields              []FieldSpec
	SpeedCommandDivisor float64
}

// ProfileFTMS follows FTMS 1.0: bit 0 ("More Data") clear means speed is present.
var ProfileFTMS = Profile{
	Name: "ftms",
	Fields: []FieldSpec{
		{ID: FieldSpeed, Bit: 0, PresentWhenClear: true, Size: 2},
		{ID: FieldAverageSpeed, Bit: 1, Size: 2},
		{ID: FieldDistance, Bit: 2, Size: 3},
		{ID: FieldIncline, Bit: 3, Size: 4}, // inclination + ramp angle setting
		{ID: FieldElevationGain, Bit: 4, Size: 4},
		{ID: FieldInstantaneousPace, Bit: 5, Size: 2},
		{ID: FieldAveragePace, Bit: 6, Size: 2},
		{ID: FieldExpendedEnergy, Bit: 7, Size: 5},
		{ID: FieldHeartRate, Bit: 8, Size: 1},
		{ID: FieldMetabolicEquivalent, Bit: 9, Size: 1},
		{ID: FieldElapsedTime, Bit: 10, Size: 2},
		{ID: FieldRemainingTime, Bit: 11, Size: 2},
		{ID: FieldForceAndPower, Bit: 12, Size: 4},
	},
	SpeedCommandDivisor: 1.0,
}

// ProfileLegacy matches older treadmill firmware: bit 0 set means speed is present,
// only the core fields are sent, elapsed time is 24 bits and the control point
// expects speed in mph.
var ProfileLegacy = Profile{
	Name: "legacy",
	Fields: []FieldSpec{
		{ID: FieldSpeed, Bit: 0, Size: 2},
		{ID: FieldDistance, Bit: 2, Size: 3},
		{ID: FieldIncline, Bit: 3, Size: 2},
		{ID: FieldElapsedTime, Bit: 10, Size: 3},
	},
	SpeedCommandDivisor: 1.59,
}

// ProfileByName returns a built-in profile
func ProfileByName(name string) (Profile, error) {
	switch name {
	case "", ProfileFTMS.Name:
		return ProfileFTMS, nil
	case ProfileLegacy.Name:
		return ProfileLegacy, nil
	default:
		return Profile{}, fmt.Errorf("unknown device profile %q", name)
	}
}

// Reading holds the treadmill fields the session consumes. A field is only
// meaningful when its Has flag is set.
type Reading struct {
	HasSpeed       bool
	HasDistance    bool
	HasIncline     bool
	HasElapsedTime bool
	HasHeartRate   bool

	SpeedKmh       float64 // km/h
	DistanceKm     float64 // km
	InclinePercent float64 // %
	ElapsedSeconds float64 // seconds
	HeartRateBpm   int     // bpm
}

// Empty reports whether the reading carries no field at all
func (r Reading) Empty() bool {
	return !r.HasSpeed && !r.HasDistance && !r.HasIncline && !r.HasElapsedTime && !r.HasHeartRate
}

// MalformedFrameError reports a frame that ends before a flagged field
type MalformedFrameError struct {
	Field  FieldID
	Offset int
	Length int
}

func (e *MalformedFrameError) Error() string {
	if e.Offset < 2 {
		return fmt.Sprintf("treadmill data too short: %d bytes", e.Length)
	}
	return fmt.Sprintf("buffer too short for %s at offset %d (frame is %d bytes)", e.Field, e.Offset, e.Length)
}

// Decode parses a Treadmill Data frame using the given profile.
// A truncated frame yields an empty Reading and a *MalformedFrameError, never a partial one.
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
func Decode(buf []byte, profile Profile) (Reading, error) {
	if len(buf) < 2 {
		return Reading{}, &MalformedFrameError{Length: len(buf)}
	}

	flags := uint16(buf[0]) | (uint16(buf[1]) << 8)
	offset := 2

	var r Reading
	for _, spec := range profile.Fields {
		if !spec.present(flags) {
			continue
		}
		if offset+spec.Size > len(buf) {
			return Reading{}, &MalformedFrameError{Field: spec.ID, Offset: offset, Length: len(buf)}
		}
		field := buf[offset : offset+spec.Size]
		offset += spec.Size

		switch spec.ID {
		case FieldSpeed:
			// UINT16, 0.01 km/h resolution
			r.HasSpeed = true
			r.SpeedKmh = float64(readUint(field[:2])) / 100.0
		case FieldDistance:
			// UINT24, 1 meter resolution
			r.HasDistance = true
			r.DistanceKm = float64(readUint(field)) / 1000.0
		case FieldIncline:
			// SINT16, 0.1 % resolution; any trailing bytes are the ramp angle
			r.HasIncline = true
			r.InclinePercent = float64(int16(readUint(field[:2]))) / 10.0
		case FieldHeartRate:
			r.HasHeartRate = true
			r.HeartRateBpm = int(field[0])
		case FieldElapsedTime:
			r.HasElapsedTime = true
			r.ElapsedSeconds = float64(readUint(field))
		}
	}

	return r, nil
}

// Encode builds a Treadmill Data frame carrying the core fields of r.
// Values are rounded to the resolution of the wire format.
func Encode(r Reading, profile Profile) []byte {
	var flags uint16
	payload := make([]byte, 0, 16)

	for _, spec := range profile.Fields {
		has, raw := encodedValue(r, spec.ID)
		if has != spec.PresentWhenClear {
			flags |= 1 << spec.Bit
		}
		if !has {
			continue
		}
		field := make([]byte, spec.Size)
		putUint(field, raw)
		payload = append(payload, field...)
	}

	return append([]byte{byte(flags), byte(flags >> 8)}, payload...)
}

func encodedValue(r Reading, id FieldID) (bool, uint64) {
	switch id {
	case FieldSpeed:
		return r.HasSpeed, uint64(math.Round(r.SpeedKmh * 100))
	case FieldDistance:
		return r.HasDistance, uint64(math.Round(r.DistanceKm * 1000))
	case FieldIncline:
		return r.HasIncline, uint64(uint16(int16(math.Round(r.InclinePercent * 10))))
	case FieldHeartRate:
		return r.HasHeartRate, uint64(r.HeartRateBpm)
	case FieldElapsedTime:
		return r.HasElapsedTime, uint64(math.Round(r.ElapsedSeconds))
	default:
		return false, 0
	}
}

// readUint reads a little-endian unsigned integer of len(b) bytes
func readUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putUint(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}
