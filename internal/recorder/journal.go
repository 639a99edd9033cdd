package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ReadJournal rebuilds an Activity from a journal file. A lap left open by a
// crash is closed at its last point. A torn final line is ignored.
func ReadJournal(path string) (Activity, error) {
	f, err := os.Open(path)
	if err != nil {
		return Activity{}, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var (
		a       Activity
		open    *Lap
		started bool
		lineNo  int
	)
	closeOpen := func() {
		if open == nil {
			return
		}
		if n := len(open.Points); n > 0 {
			open.EndTime = open.Points[n-1].Time
			open.EndDistanceKm = open.Points[n-1].DistanceMeters / 1000
		} else {
			open.EndTime = open.StartTime
			open.EndDistanceKm = open.StartDistanceKm
		}
		a.Laps = append(a.Laps, *open)
		open = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		var rec journalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// only the last line can be torn; anything else is corruption
			if scanner.Scan() {
				return Activity{}, fmt.Errorf("journal line %d: %w", lineNo, err)
			}
			break
		}

		switch rec.Type {
		case recordStart:
			started = true
			a.ID = rec.ID
			a.StartTime = rec.Time
		case recordLapStart:
			closeOpen()
			open = &Lap{StartTime: rec.Time, StartDistanceKm: rec.DistanceKm}
		case recordPoint:
			if open == nil || rec.Point == nil {
				continue
			}
			open.Points = append(open.Points, *rec.Point)
		case recordLapEnd:
			if open == nil {
				continue
			}
			open.EndTime = rec.Time
			open.EndDistanceKm = rec.DistanceKm
			a.Laps = append(a.Laps, *open)
			open = nil
		case recordFinish:
		}
	}
	if err := scanner.Err(); err != nil {
		return Activity{}, fmt.Errorf("read journal: %w", err)
	}
	if !started {
		return Activity{}, errors.New("journal has no start record")
	}
	closeOpen()
	return a, nil
}

// Recover writes a complete TCX file rebuilt from the journal at journalPath
func Recover(journalPath, tcxPath string) (Activity, error) {
	a, err := ReadJournal(journalPath)
	if err != nil {
		return Activity{}, err
	}

	f, err := os.Create(tcxPath)
	if err != nil {
		return Activity{}, fmt.Errorf("create tcx: %w", err)
	}
	if err := WriteTCX(f, a); err != nil {
		f.Close()
		return Activity{}, err
	}
	if err := f.Close(); err != nil {
		return Activity{}, fmt.Errorf("close tcx: %w", err)
	}
	return a, nil
}
