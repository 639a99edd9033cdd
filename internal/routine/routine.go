package routine

import (
	"errors"
	"fmt"
)

// Type fixes the unit of every segment duration in a routine
type Type string

const (
	TypeTime     Type = "time"     // durations in minutes
	TypeDistance Type = "distance" // durations in kilometers
)

// Segment is one leg of a routine
type Segment struct {
	Duration       float64
	TargetSpeedKmh float64
}

// Routine is an ordered, non-empty list of segments
type Routine struct {
	Name     string
	Type     Type
	Segments []Segment
}

var ErrEmptyRoutine = errors.New("routine has no segments")

func (r Routine) Validate() error {
	if r.Type != TypeTime && r.Type != TypeDistance {
		return fmt.Errorf("routine %q: unknown type %q", r.Name, r.Type)
	}
	if len(r.Segments) == 0 {
		return fmt.Errorf("routine %q: %w", r.Name, ErrEmptyRoutine)
	}
	for i, s := range r.Segments {
		if s.Duration <= 0 {
			return fmt.Errorf("routine %q segment %d: duration must be > 0, got %v", r.Name, i, s.Duration)
		}
		if s.TargetSpeedKmh < 0 {
			return fmt.Errorf("routine %q segment %d: negative speed %v", r.Name, i, s.TargetSpeedKmh)
		}
		if r.Type == TypeDistance && s.TargetSpeedKmh == 0 {
			return fmt.Errorf("routine %q segment %d: distance segment needs a speed", r.Name, i)
		}
	}
	return nil
}

// UnitLabel is the unit of segment durations
func (r Routine) UnitLabel() string {
	if r.Type == TypeDistance {
		return "km"
	}
	return "min"
}

// TotalMinutes is the planned duration of the routine
func (r Routine) TotalMinutes() float64 {
	var total float64
	for _, s := range r.Segments {
		if r.Type == TypeDistance {
			total += s.Duration / s.TargetSpeedKmh * 60
		} else {
			total += s.Duration
		}
	}
	return total
}

// TotalDistanceKm is the planned distance of the routine
func (r Routine) TotalDistanceKm() float64 {
	var total float64
	for _, s := range r.Segments {
		if r.Type == TypeDistance {
			total += s.Duration
		} else {
			total += s.TargetSpeedKmh * s.Duration / 60
		}
	}
	return total
}

// AverageSpeedKmh is the planned average speed, 0 for a zero-length routine
func (r Routine) AverageSpeedKmh() float64 {
	minutes := r.TotalMinutes()
	if minutes <= 0 {
		return 0
	}
	return r.TotalDistanceKm() / (minutes / 60)
}
