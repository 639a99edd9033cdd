package routine

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// zwoFile is the subset of the Zwift workout format used for treadmill runs
type zwoFile struct {
	XMLName xml.Name   `xml:"workout_file"`
	Name    string     `xml:"name"`
	Workout zwoWorkout `xml:"workout"`
}

type zwoWorkout struct {
	Steps []zwoStep `xml:",any"`
}

type zwoStep struct {
	XMLName     xml.Name
	Duration    float64 `xml:"Duration,attr"`
	Power       float64 `xml:"Power,attr"`
	PowerLow    float64 `xml:"PowerLow,attr"`
	PowerHigh   float64 `xml:"PowerHigh,attr"`
	Repeat      int     `xml:"Repeat,attr"`
	OnDuration  float64 `xml:"OnDuration,attr"`
	OnPower     float64 `xml:"OnPower,attr"`
	OffDuration float64 `xml:"OffDuration,attr"`
	OffPower    float64 `xml:"OffPower,attr"`
}

// LoadZWO reads every *.zwo file in dir. Power fractions scale thresholdSpeed
// (the speed of a 5 km personal best), so Power="1.0" runs at threshold pace.
func LoadZWO(dir string, thresholdSpeed float64) ([]Routine, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.zwo"))
	if err != nil {
		return nil, fmt.Errorf("list zwo files in %s: %w", dir, err)
	}
	sort.Strings(paths)

	routines := make([]Routine, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		r, err := ParseZWO(raw, fallback, thresholdSpeed)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		routines = append(routines, r)
	}
	return routines, nil
}

// ParseZWO converts a ZWO document into a time routine.
// Ramps run at their average power; FreeRide holds the previous speed.
func ParseZWO(raw []byte, fallbackName string, thresholdSpeed float64) (Routine, error) {
	var file zwoFile
	if err := xml.Unmarshal(raw, &file); err != nil {
		return Routine{}, err
	}

	name := strings.TrimSpace(file.Name)
	if name == "" {
		name = fallbackName
	}
	r := Routine{Name: name, Type: TypeTime}

	lastSpeed := thresholdSpeed
	add := func(seconds, power float64) {
		if seconds <= 0 {
			return
		}
		lastSpeed = power * thresholdSpeed
		r.Segments = append(r.Segments, Segment{Duration: seconds / 60, TargetSpeedKmh: lastSpeed})
	}

	for _, step := range file.Workout.Steps {
		switch step.XMLName.Local {
		case "SteadyState":
			add(step.Duration, step.Power)
		case "Warmup", "Cooldown", "Ramp":
			add(step.Duration, (step.PowerLow+step.PowerHigh)/2)
		case "IntervalsT":
			repeat := max(step.Repeat, 1)
			for i := 0; i < repeat; i++ {
				add(step.OnDuration, step.OnPower)
				add(step.OffDuration, step.OffPower)
			}
		case "FreeRide":
			if step.Duration > 0 {
				r.Segments = append(r.Segments, Segment{Duration: step.Duration / 60, TargetSpeedKmh: lastSpeed})
			}
		}
	}

	if err := r.Validate(); err != nil {
		return Routine{}, err
	}
	return r, nil
}
