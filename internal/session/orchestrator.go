package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/device"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ftms"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ghost"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/metrics"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/pb"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/playback"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/recorder"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/routine"
)

// Outcome is how a session ended
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeCancelled is the operator ending the workout early
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeAborted is the process shutting down or monitoring failing
	OutcomeAborted Outcome = "aborted"
)

// Result summarizes one session. It is produced exactly once per Run.
type Result struct {
	SessionID       string
	StartTime       time.Time
	EndTime         time.Time
	FinalDistanceKm float64
	Outcome         Outcome
	Laps            int
	// TrackFile is empty when the session log could not be written to disk
	TrackFile string
	Exports   []string
	NewBests  []pb.Effort
}

func (r Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

type Options struct {
	Routine         routine.Routine
	InitialSpeedKmh float64
	InitialIncline  float64

	ConnectAttempts int
	ConnectBackoff  time.Duration
	// Countdown is how long the treadmill counts down after Start/Resume
	Countdown               time.Duration
	PollInterval            time.Duration
	PlaybackShutdownTimeout time.Duration
	// StallTimeout ends the session when no treadmill frame arrives for this long
	StallTimeout time.Duration
	FrameBuffer  int
	Profile      ftms.Profile

	GhostCount int
	// GhostSeed makes ghosts reproducible; 0 seeds from the clock
	GhostSeed uint64
	Targets   []ghost.Target

	Recorder      recorder.Options
	ExportFIT     bool
	ExportParquet bool

	PBStore  *pb.Store
	UpdatePB bool

	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = 6
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.PlaybackShutdownTimeout <= 0 {
		o.PlaybackShutdownTimeout = 5 * time.Second
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = 10 * time.Second
	}
	if o.FrameBuffer <= 0 {
		o.FrameBuffer = 64
	}
	if o.Profile.Fields == nil {
		o.Profile = ftms.ProfileFTMS
	}
	if o.GhostCount < 0 {
		o.GhostCount = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// ErrTelemetryStalled ends a session whose treadmill stopped sending frames
var ErrTelemetryStalled = errors.New("treadmill telemetry stalled")

// sessionLog is the recorder as the orchestrator uses it
type sessionLog interface {
	LapRecorder
	Start(start time.Time, id string) error
	Append(s recorder.Sample) error
	Finalize() error
	Activity() recorder.Activity
	TCXPath() string
}

// Orchestrator runs one treadmill session from connect to summary
type Orchestrator struct {
	link     device.Link
	playback playback.Playback
	opts     Options
	logger   *log.Logger

	exit   *events.Signal
	status *events.CallbackEvent[string]

	newLog func() sessionLog
}

// NewOrchestrator takes ownership of link for the length of Run. playback may be nil.
func NewOrchestrator(link device.Link, pbk playback.Playback, opts Options, logger *log.Logger) *Orchestrator {
	if link == nil {
		panic("Orchestrator: link cannot be nil")
	}
	if logger == nil {
		panic("Orchestrator: logger cannot be nil")
	}
	opts.setDefaults()
	o := &Orchestrator{
		link:     link,
		playback: pbk,
		opts:     opts,
		logger:   logger,
		exit:     events.NewSignal(),
		status:   events.NewCallbackEvent[string](true),
	}
	o.newLog = func() sessionLog { return recorder.NewRecorder(logger, opts.Recorder) }
	return o
}

// Exit is the signal that ends the workout early; any goroutine may raise it
func (o *Orchestrator) Exit() *events.Signal {
	return o.exit
}

// ListenToStatus receives operator messages such as segment changes and errors
func (o *Orchestrator) ListenToStatus(callback func(string)) func() {
	return o.status.Listen(callback)
}

func (o *Orchestrator) report(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	o.logger.Printf("Session: %s", msg)
	o.status.Notify(msg)
}

// run holds everything that lives for one session
type run struct {
	o          *Orchestrator
	feeds      *playback.Feeds
	state      *LiveState
	comparator *ghost.Comparator
	log        sessionLog
	scheduler  *Scheduler
	lastFrame  time.Time
}

// Run connects, drives the routine and returns the summary. Operator
// cancellation is not an error; a cancelled ctx is reported as OutcomeAborted
// together with ctx.Err(), after the log has been finalized.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	opts := o.opts
	if err := opts.Routine.Validate(); err != nil {
		return Result{}, err
	}

	o.report("Connecting to treadmill")
	if err := device.ConnectWithRetry(ctx, o.link, opts.ConnectAttempts, opts.ConnectBackoff, o.logger); err != nil {
		o.report("Treadmill unavailable: %v", err)
		return Result{}, err
	}
	defer func() {
		if err := o.link.Disconnect(); err != nil {
			o.logger.Printf("Session: Disconnect: %v", err)
		}
	}()

	if err := o.link.RequestControl(ctx); err != nil {
		o.report("Could not take control of the treadmill: %v", err)
	}

	r := &run{o: o, feeds: playback.NewFeeds(o.exit)}
	r.feeds.SpeedRatio.Put(1.0)
	r.feeds.SpeedKmh.Put(opts.InitialSpeedKmh)
	r.feeds.DistanceKm.Put(0)

	playCtx, stopPlayback := context.WithCancel(context.Background())
	defer stopPlayback()
	playDone := o.startPlayback(playCtx, r.feeds)

	if err := o.link.StartOrResume(ctx); err != nil {
		o.report("Start/Resume failed: %v", err)
	}
	o.countdown(ctx)

	if err := o.link.SetSpeed(ctx, opts.InitialSpeedKmh); err != nil {
		o.report("Initial speed failed: %v", err)
	}
	if err := o.link.SetIncline(ctx, opts.InitialIncline); err != nil {
		o.report("Initial incline failed: %v", err)
	}

	start := opts.Now()
	result := Result{SessionID: uuid.NewString(), StartTime: start}
	r.state = NewLiveState(start)
	r.comparator = ghost.NewComparator(o.ghosts())

	r.log = o.newLog()
	if err := r.log.Start(start, result.SessionID); err != nil {
		o.report("Session log not written to disk: %v", err)
	}
	var finalizeOnce sync.Once
	finalize := func() {
		finalizeOnce.Do(func() {
			if err := r.log.Finalize(); err != nil {
				o.report("Finalizing session log failed: %v", err)
			}
		})
	}
	defer finalize()

	r.scheduler = NewScheduler(opts.Routine, o.link, r.log, o.exit, o.logger)
	r.scheduler.OnSegment = func(index int, seg routine.Segment) {
		msg := fmt.Sprintf("Segment %d/%d: %.1f km/h for %.2f %s",
			index+1, len(opts.Routine.Segments), seg.TargetSpeedKmh, seg.Duration, opts.Routine.UnitLabel())
		o.report("%s", msg)
		r.feeds.Status.Put(msg)
	}

	outcome, runErr := r.loop(ctx, start)

	end := opts.Now()
	stopPlayback()
	o.awaitPlayback(playDone)
	finalize()

	activity := r.log.Activity()
	result.EndTime = end
	result.FinalDistanceKm = r.state.Snapshot().DistanceKm
	result.Outcome = outcome
	result.Laps = len(activity.Laps)
	result.TrackFile = r.log.TCXPath()
	result.Exports = o.export(activity, result.TrackFile)
	result.NewBests = o.updateBests(activity)

	metrics.SessionsTotal.WithLabelValues(string(outcome)).Inc()
	o.report("Workout %s: %.2f km in %s", outcome, result.FinalDistanceKm, playback.FormatClock(result.Duration().Seconds()))
	return result, runErr
}

func (o *Orchestrator) startPlayback(ctx context.Context, feeds *playback.Feeds) <-chan struct{} {
	if o.playback == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return go_func_utils.SafeGoDone(o.logger, func() {
		if err := o.playback.Run(ctx, feeds); err != nil {
			o.logger.Printf("Session: Playback stopped: %v", err)
		}
	})
}

func (o *Orchestrator) awaitPlayback(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(o.opts.PlaybackShutdownTimeout):
		o.logger.Printf("Session: Playback did not stop within %v", o.opts.PlaybackShutdownTimeout)
	}
}

// countdown waits out the treadmill's own countdown, returning early on exit
func (o *Orchestrator) countdown(ctx context.Context) {
	if o.opts.Countdown <= 0 {
		return
	}
	o.report("Waiting for the treadmill countdown (%v)", o.opts.Countdown)
	select {
	case <-ctx.Done():
	case <-o.exit.Done():
	case <-time.After(o.opts.Countdown):
	}
}

func (o *Orchestrator) ghosts() []ghost.Profile {
	rt := o.opts.Routine
	seed := o.opts.GhostSeed
	if seed == 0 {
		seed = uint64(o.opts.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	var profiles []ghost.Profile
	if o.opts.GhostCount > 0 && rt.AverageSpeedKmh() > 0 {
		profiles = ghost.Generate(rng, rt.TotalMinutes(), rt.AverageSpeedKmh(), o.opts.GhostCount)
	}
	profiles = append(profiles, ghost.TargetProfiles(o.opts.Targets, rt.TotalDistanceKm())...)
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Label()
	}
	o.logger.Printf("Session: Ghosts: %s", strings.Join(names, ", "))
	return profiles
}

// loop is the only place live state changes
func (r *run) loop(ctx context.Context, start time.Time) (Outcome, error) {
	o := r.o
	frames := make(chan device.Frame, o.opts.FrameBuffer)
	monCtx, stopMonitoring := context.WithCancel(ctx)
	defer func() {
		stopMonitoring()
		if err := o.link.StopMonitoring(); err != nil {
			o.logger.Printf("Session: Stop monitoring: %v", err)
		}
	}()

	if err := o.link.StartMonitoring(monCtx, frames); err != nil {
		o.report("Treadmill monitoring failed: %v", err)
		return OutcomeAborted, fmt.Errorf("start monitoring: %w", err)
	}
	if err := r.scheduler.Start(ctx, start, r.state.Snapshot()); err != nil {
		return OutcomeAborted, err
	}

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	r.lastFrame = o.opts.Now()

	for !r.scheduler.State().Terminal() {
		select {
		case <-ctx.Done():
			now := o.opts.Now()
			r.scheduler.Cancel(now, r.state.Tick(now))
			return OutcomeAborted, ctx.Err()
		case f := <-frames:
			r.handleFrame(f)
		case <-ticker.C:
			now := o.opts.Now()
			snap := r.state.Tick(now)
			r.feeds.ElapsedSeconds.Put(snap.ElapsedSeconds)
			if silent := now.Sub(r.lastFrame); silent > o.opts.StallTimeout {
				o.report("No treadmill data for %v, ending the workout", silent.Round(time.Millisecond))
				r.scheduler.Cancel(now, snap)
				return OutcomeAborted, fmt.Errorf("%w: no frame for %v", ErrTelemetryStalled, silent.Round(time.Millisecond))
			}
			r.scheduler.Poll(ctx, now, snap)
		case <-o.exit.Done():
			now := o.opts.Now()
			r.scheduler.Poll(ctx, now, r.state.Tick(now))
		}
	}

	if r.scheduler.State() == StateCancelled {
		return OutcomeCancelled, nil
	}
	return OutcomeCompleted, nil
}

func (r *run) handleFrame(f device.Frame) {
	o := r.o
	source := f.Source.String()
	metrics.FramesReceived.WithLabelValues(source).Inc()
	now := o.opts.Now()

	if f.Source == device.SourceHeartRate {
		bpm, err := ftms.ParseHeartRate(f.Data)
		if err != nil {
			metrics.FramesMalformed.WithLabelValues(source).Inc()
			o.logger.Printf("Session: %v", err)
			return
		}
		r.state.ApplyHeartRate(bpm, now)
		r.feeds.HeartRateBpm.Put(bpm)
		metrics.HeartRateBpm.Set(float64(bpm))
		return
	}

	r.lastFrame = now
	reading, err := ftms.Decode(f.Data, o.opts.Profile)
	if err != nil {
		metrics.FramesMalformed.WithLabelValues(source).Inc()
		o.logger.Printf("Session: Ignoring frame % X: %v", f.Data, err)
		return
	}
	snap := r.state.ApplyReading(reading, now)

	if r.scheduler.State() == StateRunning {
		sample := recorder.Sample{
			Time:           now,
			SpeedKmh:       snap.SpeedKmh,
			DistanceKm:     snap.DistanceKm,
			InclinePercent: snap.InclinePercent,
			HasHeartRate:   snap.HasHeartRate,
			HeartRateBpm:   snap.HeartRateBpm,
		}
		if err := r.log.Append(sample); err != nil {
			o.logger.Printf("Session: Append track point: %v", err)
		} else {
			metrics.TrackPoints.Inc()
		}
	}

	ratio := 1.0
	if o.opts.InitialSpeedKmh > 0 {
		ratio = snap.SpeedKmh / o.opts.InitialSpeedKmh
	}
	r.feeds.SpeedRatio.Put(ratio)
	r.feeds.SpeedKmh.Put(snap.SpeedKmh)
	r.feeds.DistanceKm.Put(snap.DistanceKm)
	r.feeds.ElapsedSeconds.Put(snap.ElapsedSeconds)
	if reading.HasHeartRate {
		r.feeds.HeartRateBpm.Put(snap.HeartRateBpm)
		metrics.HeartRateBpm.Set(float64(snap.HeartRateBpm))
	}
	metrics.SpeedKmh.Set(snap.SpeedKmh)
	metrics.DistanceKm.Set(snap.DistanceKm)

	if gaps, recomputed := r.comparator.Update(snap.ElapsedSeconds, snap.DistanceKm*1000); recomputed {
		metrics.GhostRecomputations.Inc()
		r.feeds.Gaps.Put(gaps)
	}
}

// export writes FIT and Parquet copies next to the TCX file
func (o *Orchestrator) export(activity recorder.Activity, tcxPath string) []string {
	if tcxPath == "" || len(activity.Laps) == 0 {
		return nil
	}
	base := strings.TrimSuffix(tcxPath, ".tcx")
	var written []string
	if o.opts.ExportFIT {
		path := base + ".fit"
		if err := recorder.ExportFIT(activity, path); err != nil {
			o.report("FIT export failed: %v", err)
		} else {
			written = append(written, path)
		}
	}
	if o.opts.ExportParquet {
		path := base + ".parquet"
		if err := recorder.ExportParquet(activity, path); err != nil {
			o.report("Parquet export failed: %v", err)
		} else {
			written = append(written, path)
		}
	}
	return written
}

func (o *Orchestrator) updateBests(activity recorder.Activity) []pb.Effort {
	if !o.opts.UpdatePB || o.opts.PBStore == nil {
		return nil
	}
	improved := o.opts.PBStore.Update(pb.BestEfforts(activity.Points(), pb.StandardDistancesKm))
	if len(improved) == 0 {
		return nil
	}
	for _, e := range improved {
		o.report("New personal best: %g km in %s", e.DistanceKm, playback.FormatClock(e.Duration.Seconds()))
	}
	if err := o.opts.PBStore.Save(); err != nil {
		o.report("Saving personal bests failed: %v", err)
	}
	return improved
}
