package routine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// routineEntry is the object form of a routines file entry
type routineEntry struct {
	Type Type `json:"type"`
	// Relative segments add their speed to the session's initial speed
	Relative bool         `json:"relative"`
	Segments [][2]float64 `json:"segments"`
}

// LoadJSON reads a routines file: a JSON object mapping routine names to either
// a list of [minutes, speed increment] pairs (a time routine relative to
// initialSpeed) or an object {"type", "relative", "segments": [[duration, speed], ...]}.
// Routines are returned sorted by name.
func LoadJSON(path string, initialSpeed float64) ([]Routine, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routines %s: %w", path, err)
	}
	return ParseJSON(raw, initialSpeed)
}

func ParseJSON(raw []byte, initialSpeed float64) ([]Routine, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse routines: %w", err)
	}

	routines := make([]Routine, 0, len(entries))
	for name, msg := range entries {
		r, err := parseEntry(name, msg, initialSpeed)
		if err != nil {
			return nil, err
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		routines = append(routines, r)
	}
	sort.Slice(routines, func(i, j int) bool { return routines[i].Name < routines[j].Name })
	return routines, nil
}

func parseEntry(name string, msg json.RawMessage, initialSpeed float64) (Routine, error) {
	entry := routineEntry{Type: TypeTime, Relative: true}
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &entry.Segments); err != nil {
			return Routine{}, fmt.Errorf("routine %q: %w", name, err)
		}
	} else {
		entry.Relative = false
		if err := json.Unmarshal(trimmed, &entry); err != nil {
			return Routine{}, fmt.Errorf("routine %q: %w", name, err)
		}
	}

	r := Routine{Name: name, Type: entry.Type, Segments: make([]Segment, 0, len(entry.Segments))}
	for _, pair := range entry.Segments {
		speed := pair[1]
		if entry.Relative {
			speed += initialSpeed
		}
		r.Segments = append(r.Segments, Segment{Duration: pair[0], TargetSpeedKmh: speed})
	}
	return r, nil
}

// Find returns the routine called name
func Find(routines []Routine, name string) (Routine, error) {
	for _, r := range routines {
		if r.Name == name {
			return r, nil
		}
	}
	return Routine{}, fmt.Errorf("routine %q not found", name)
}
