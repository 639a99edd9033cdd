package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrNotStarted     = errors.New("recorder not started")
	ErrAlreadyStarted = errors.New("recorder already started")
	ErrNoOpenLap      = errors.New("no open lap")
	ErrLapAlreadyOpen = errors.New("a lap is already open")
	ErrFinalized      = errors.New("recorder already finalized")
)

// Options configure where a Recorder writes
type Options struct {
	// Dir receives <prefix>_<start>.tcx and its .journal.jsonl. Empty keeps the log in memory only.
	Dir    string
	Prefix string
	// Route, when set, gives every point a position by distance along it
	Route *Route
}

// Recorder persists a session as laps of track points.
//
// Every point is appended to a JSON-lines journal as it arrives; the TCX file
// grows one complete <Lap> at a time and gets its closing tags on Finalize.
// Neither file is ever rewritten, so a crash loses at most the open lap's TCX
// section, which Recover can rebuild from the journal.
type Recorder struct {
	logger *log.Logger
	opts   Options

	mu        sync.Mutex
	started   bool
	finalized bool
	activity  Activity
	open      *Lap
	lastPoint *TrackPoint

	tcxFile     *os.File
	journalFile *os.File
	journal     *json.Encoder
	tcxPath     string
	journalPath string
}

func NewRecorder(logger *log.Logger, opts Options) *Recorder {
	if logger == nil {
		panic("Recorder: logger cannot be nil")
	}
	if opts.Prefix == "" {
		opts.Prefix = "workout"
	}
	return &Recorder{logger: logger, opts: opts}
}

// journalRecord is one line of the journal
type journalRecord struct {
	Type       string      `json:"type"`
	Time       time.Time   `json:"time"`
	ID         string      `json:"id,omitempty"`
	DistanceKm float64     `json:"distance_km,omitempty"`
	Point      *TrackPoint `json:"point,omitempty"`
}

const (
	recordStart    = "start"
	recordLapStart = "lap_start"
	recordPoint    = "point"
	recordLapEnd   = "lap_end"
	recordFinish   = "finish"
)

// Start opens the session log. If the files cannot be created the error is
// returned but the recorder keeps recording in memory.
func (r *Recorder) Start(start time.Time, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return ErrFinalized
	}
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.activity = Activity{ID: id, StartTime: start}

	if r.opts.Dir == "" {
		return nil
	}
	if err := r.openFiles(start); err != nil {
		_ = r.closeFiles()
		r.tcxPath, r.journalPath = "", ""
		r.logger.Printf("Recorder: Recording in memory only: %v", err)
		return err
	}
	r.writeJournal(journalRecord{Type: recordStart, Time: start, ID: id})
	r.logger.Printf("Recorder: Started %s", r.tcxPath)
	return nil
}

func (r *Recorder) openFiles(start time.Time) error {
	if err := os.MkdirAll(r.opts.Dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	base := filepath.Join(r.opts.Dir, fmt.Sprintf("%s_%s", r.opts.Prefix, start.Format("2006-01-02_15-04-05")))
	r.tcxPath = base + ".tcx"
	r.journalPath = base + ".journal.jsonl"

	var err error
	r.journalFile, err = os.OpenFile(r.journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	r.journal = json.NewEncoder(r.journalFile)

	r.tcxFile, err = os.OpenFile(r.tcxPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open tcx: %w", err)
	}
	return writeTCXHeader(r.tcxFile, start)
}

// StartLap opens a lap at the given time and cumulative distance
func (r *Recorder) StartLap(t time.Time, distanceKm float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkWritable(); err != nil {
		return err
	}
	if r.open != nil {
		return ErrLapAlreadyOpen
	}
	r.open = &Lap{StartTime: t, StartDistanceKm: distanceKm}
	r.writeJournal(journalRecord{Type: recordLapStart, Time: t, DistanceKm: distanceKm})
	return nil
}

// Append records a sample inside the open lap
func (r *Recorder) Append(s Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkWritable(); err != nil {
		return err
	}
	if r.open == nil {
		return ErrNoOpenLap
	}

	p := TrackPoint{
		Time:           s.Time,
		DistanceMeters: s.DistanceKm * 1000,
		SpeedMps:       kmhToMps(s.SpeedKmh),
		InclinePercent: s.InclinePercent,
	}
	if s.HasHeartRate {
		p.HeartRateBpm = s.HeartRateBpm
	}
	if r.opts.Route != nil {
		if pos, ok := r.opts.Route.Position(p.DistanceMeters); ok {
			p.Position = &pos
		}
	}
	r.open.Points = append(r.open.Points, p)
	r.lastPoint = &r.open.Points[len(r.open.Points)-1]
	r.writeJournal(journalRecord{Type: recordPoint, Time: s.Time, Point: &p})
	return nil
}

// FinalizeLap closes the open lap and appends it to the TCX file
func (r *Recorder) FinalizeLap(t time.Time, distanceKm float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkWritable(); err != nil {
		return err
	}
	return r.finalizeLap(t, distanceKm)
}

func (r *Recorder) finalizeLap(t time.Time, distanceKm float64) error {
	if r.open == nil {
		return ErrNoOpenLap
	}
	lap := *r.open
	lap.EndTime = t
	lap.EndDistanceKm = distanceKm
	r.open = nil
	r.lastPoint = nil
	r.activity.Laps = append(r.activity.Laps, lap)
	r.writeJournal(journalRecord{Type: recordLapEnd, Time: t, DistanceKm: distanceKm})

	if r.tcxFile == nil {
		return nil
	}
	if err := writeTCXLap(r.tcxFile, lap); err != nil {
		r.logger.Printf("Recorder: %v", err)
		return err
	}
	return nil
}

// Finalize closes any open lap at its last point, writes the closing TCX
// tags and closes both files. Calls after the first are no-ops.
func (r *Recorder) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return ErrNotStarted
	}
	if r.finalized {
		return nil
	}
	r.finalized = true

	var errs []error
	if r.open != nil {
		endTime, endKm := r.open.StartTime, r.open.StartDistanceKm
		if r.lastPoint != nil {
			endTime, endKm = r.lastPoint.Time, r.lastPoint.DistanceMeters/1000
		}
		r.logger.Printf("Recorder: Closing open lap at finalize")
		errs = append(errs, r.finalizeLap(endTime, endKm))
	}

	if r.tcxFile != nil {
		errs = append(errs, writeTCXFooter(r.tcxFile))
	}
	r.writeJournal(journalRecord{Type: recordFinish, Time: r.finishTime()})
	errs = append(errs, r.closeFiles())

	err := errors.Join(errs...)
	if err != nil {
		r.logger.Printf("Recorder: Finalize failed: %v", err)
	} else if r.tcxPath != "" {
		r.logger.Printf("Recorder: TCX file written: %s (%d laps)", r.tcxPath, len(r.activity.Laps))
	}
	return err
}

func (r *Recorder) finishTime() time.Time {
	if n := len(r.activity.Laps); n > 0 {
		return r.activity.Laps[n-1].EndTime
	}
	return r.activity.StartTime
}

func (r *Recorder) checkWritable() error {
	if r.finalized {
		return ErrFinalized
	}
	if !r.started {
		return ErrNotStarted
	}
	return nil
}

// writeJournal is best effort: a failed write is logged and the journal is
// abandoned so the TCX and in-memory log keep going.
func (r *Recorder) writeJournal(rec journalRecord) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Encode(rec); err != nil {
		r.logger.Printf("Recorder: Journal write failed, disabling journal: %v", err)
		_ = r.journalFile.Close()
		r.journalFile = nil
		r.journal = nil
	}
}

func (r *Recorder) closeFiles() error {
	var errs []error
	if r.tcxFile != nil {
		errs = append(errs, r.tcxFile.Close())
		r.tcxFile = nil
	}
	if r.journalFile != nil {
		errs = append(errs, r.journalFile.Close())
		r.journalFile = nil
		r.journal = nil
	}
	return errors.Join(errs...)
}

// Activity returns a copy of the recorded laps
func (r *Recorder) Activity() Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.activity
	a.Laps = append([]Lap(nil), r.activity.Laps...)
	return a
}

// TCXPath is empty when the recorder runs in memory only
func (r *Recorder) TCXPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tcxPath
}

func (r *Recorder) JournalPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.journalPath
}
