package device

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ftms"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/go_func_utils"
)

// ReplayEntry is one frame of a recorded treadmill log
type ReplayEntry struct {
	Timestamp string `json:"timestamp"`
	Raw       string `json:"raw"`
}

// LoadReplayLog reads a JSON array of {timestamp, raw} entries, raw being hex
func LoadReplayLog(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay log: %w", err)
	}
	var entries []ReplayEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse replay log %s: %w", path, err)
	}
	frames := make([][]byte, 0, len(entries))
	for i, e := range entries {
		raw, err := hex.DecodeString(e.Raw)
		if err != nil {
			return nil, fmt.Errorf("replay log %s entry %d: %w", path, i, err)
		}
		frames = append(frames, raw)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("replay log %s has no frames", path)
	}
	return frames, nil
}

// WriteReplayLog stores frames in the format LoadReplayLog reads
func WriteReplayLog(path string, frames []Frame) error {
	entries := make([]ReplayEntry, 0, len(frames))
	for _, f := range frames {
		if f.Source != SourceTreadmill {
			continue
		}
		entries = append(entries, ReplayEntry{
			Timestamp: f.Received.Format("2006-01-02T15:04:05.000000"),
			Raw:       hex.EncodeToString(f.Data),
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Command is a control point command received by a SimulatedDevice
type Command struct {
	Op    byte
	Value float64
}

type SimConfig struct {
	Profile ftms.Profile
	// FrameInterval is the wall time between frames
	FrameInterval time.Duration
	// SecondsPerFrame is how much treadmill time each synthetic frame covers.
	// Values above FrameInterval fast-forward the workout.
	SecondsPerFrame float64
	HeartRate       bool
	// ConnectFailures makes the first n Connect calls fail
	ConnectFailures int
}

// frameSource produces the frames of one tick; ok is false once exhausted
type frameSource interface {
	next(now time.Time) (frames []Frame, ok bool)
}

// SimulatedDevice stands in for a treadmill, either replaying a recorded
// log or synthesizing frames from the commanded speed.
type SimulatedDevice struct {
	config SimConfig
	logger *log.Logger
	source frameSource
	model  *beltModel

	mu        sync.Mutex
	connected bool
	connects  int
	commands  []Command
	sink      *frameSink
	stop      context.CancelFunc
	done      <-chan struct{}
}

var _ Link = (*SimulatedDevice)(nil)

func newSimulated(config SimConfig, logger *log.Logger) *SimulatedDevice {
	if logger == nil {
		panic("SimulatedDevice: logger cannot be nil")
	}
	if config.Profile.Fields == nil {
		config.Profile = ftms.ProfileFTMS
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = time.Second
	}
	if config.SecondsPerFrame <= 0 {
		config.SecondsPerFrame = config.FrameInterval.Seconds()
	}
	return &SimulatedDevice{config: config, logger: logger}
}

// NewSyntheticDevice integrates distance from the commanded speed and
// encodes one Treadmill Data frame per tick.
func NewSyntheticDevice(config SimConfig, logger *log.Logger) *SimulatedDevice {
	s := newSimulated(config, logger)
	s.model = &beltModel{profile: s.config.Profile, step: s.config.SecondsPerFrame, heartRate: s.config.HeartRate}
	s.source = s.model
	return s
}

// NewReplayDevice sends recorded frames one per tick, then goes quiet.
// Commands are accepted and recorded but do not change the frames.
func NewReplayDevice(frames [][]byte, config SimConfig, logger *log.Logger) *SimulatedDevice {
	s := newSimulated(config, logger)
	s.source = &replaySource{frames: frames}
	return s
}

func (s *SimulatedDevice) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connects <= s.config.ConnectFailures {
		return fmt.Errorf("simulated connect failure %d", s.connects)
	}
	s.connected = true
	s.logger.Printf("SimulatedDevice: Connected (%s profile)", s.config.Profile.Name)
	return nil
}

func (s *SimulatedDevice) record(op byte, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return &CommandError{Op: ftms.OpCodeName(op), Err: ErrNotConnected}
	}
	s.commands = append(s.commands, Command{Op: op, Value: value})
	return nil
}

func (s *SimulatedDevice) RequestControl(ctx context.Context) error {
	return s.record(ftms.OpCodeRequestControl, 0)
}

func (s *SimulatedDevice) SetSpeed(ctx context.Context, speedKmh float64) error {
	speedKmh = math.Max(ftms.MinTargetSpeedKmh, math.Min(ftms.MaxTargetSpeedKmh, speedKmh))
	if err := s.record(ftms.OpCodeSetTargetSpeed, speedKmh); err != nil {
		return err
	}
	if s.model != nil {
		s.model.setSpeed(speedKmh)
	}
	return nil
}

func (s *SimulatedDevice) SetIncline(ctx context.Context, inclinePercent float64) error {
	if err := s.record(ftms.OpCodeSetTargetInclination, inclinePercent); err != nil {
		return err
	}
	if s.model != nil {
		s.model.setIncline(inclinePercent)
	}
	return nil
}

func (s *SimulatedDevice) StartOrResume(ctx context.Context) error {
	if err := s.record(ftms.OpCodeStartOrResume, 0); err != nil {
		return err
	}
	if s.model != nil {
		s.model.start()
	}
	return nil
}

// Commands returns the commands received so far, in order
func (s *SimulatedDevice) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.commands)
}

// SpeedCommands returns the speeds of every SetSpeed call, in order
func (s *SimulatedDevice) SpeedCommands() []float64 {
	var speeds []float64
	for _, c := range s.Commands() {
		if c.Op == ftms.OpCodeSetTargetSpeed {
			speeds = append(speeds, c.Value)
		}
	}
	return speeds
}

func (s *SimulatedDevice) StartMonitoring(ctx context.Context, frames chan<- Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if s.stop != nil {
		return errors.New("already monitoring")
	}

	runCtx, cancel := context.WithCancel(ctx)
	sink := &frameSink{frames: frames}
	s.sink = sink
	s.stop = cancel
	s.done = go_func_utils.SafeGoDone(s.logger, func() {
		ticker := time.NewTicker(s.config.FrameInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				out, ok := s.source.next(now)
				if !ok {
					s.logger.Printf("SimulatedDevice: Replay finished")
					return
				}
				for _, f := range out {
					sink.offer(f)
				}
			}
		}
	})
	return nil
}

func (s *SimulatedDevice) StopMonitoring() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	<-done
	return nil
}

func (s *SimulatedDevice) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return 0
	}
	return s.sink.dropped.Load()
}

func (s *SimulatedDevice) Disconnect() error {
	_ = s.StopMonitoring()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

type replaySource struct {
	frames [][]byte
	pos    int
}

func (r *replaySource) next(now time.Time) ([]Frame, bool) {
	if r.pos >= len(r.frames) {
		return nil, false
	}
	f := Frame{Source: SourceTreadmill, Data: r.frames[r.pos], Received: now}
	r.pos++
	return []Frame{f}, true
}

// beltModel is a treadmill that reaches the commanded speed at once
type beltModel struct {
	profile   ftms.Profile
	step      float64
	heartRate bool

	mu         sync.Mutex
	running    bool
	speedKmh   float64
	incline    float64
	distanceKm float64
	elapsedS   float64
	bpm        float64
}

func (m *beltModel) setSpeed(kmh float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speedKmh = kmh
}

func (m *beltModel) setIncline(pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incline = pct
}

func (m *beltModel) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
}

func (m *beltModel) next(now time.Time) ([]Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.elapsedS += m.step
		m.distanceKm += m.speedKmh * m.step / 3600
	}
	reading := ftms.Reading{
		HasSpeed:       true,
		HasDistance:    true,
		HasIncline:     true,
		HasElapsedTime: true,
		SpeedKmh:       m.speedKmh,
		DistanceKm:     m.distanceKm,
		InclinePercent: m.incline,
		ElapsedSeconds: m.elapsedS,
	}
	frames := []Frame{{Source: SourceTreadmill, Data: ftms.Encode(reading, m.profile), Received: now}}

	if m.heartRate {
		// drifts towards a rate that grows with speed
		target := 70 + 7*m.speedKmh
		if m.bpm == 0 {
			m.bpm = 70
		}
		m.bpm += (target - m.bpm) * 0.1
		frames = append(frames, Frame{Source: SourceHeartRate, Data: ftms.EncodeHeartRate(int(math.Round(m.bpm))), Received: now})
	}
	return frames, true
}
