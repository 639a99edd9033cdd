package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/bt"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/config"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/device"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/metrics"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/pb"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/playback"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/recorder"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/routine"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/session"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	must("load config", err)

	logger, closeLog := newLogger(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Printf("Main: %v", err)
		fmt.Fprintf(os.Stderr, "treadmill-runner: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

func must(action string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "treadmill-runner: failed to %s: %v\n", action, err)
		os.Exit(1)
	}
}

// newLogger writes to a rotating file. The dashboard owns the terminal, so
// stderr is only teed in headless mode.
func newLogger(cfg config.Config) (*log.Logger, func()) {
	rotating := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}
	var out io.Writer = rotating
	if cfg.Log.Stderr && cfg.Playback.Mode == config.PlaybackModeHeadless {
		out = io.MultiWriter(rotating, os.Stderr)
	}
	return log.New(out, "", log.LstdFlags|log.Lmicroseconds), func() { _ = rotating.Close() }
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	store := pb.Load(cfg.PB.File, logger)

	initialSpeed := cfg.Routine.InitialSpeed
	if initialSpeed <= 0 {
		initialSpeed = pb.ThresholdSpeed(store)
		logger.Printf("Main: Initial speed from 5 km best: %.2f km/h", initialSpeed)
	}

	routines, err := loadRoutines(cfg, initialSpeed, pb.ThresholdSpeed(store), logger)
	if err != nil {
		return err
	}
	chosen, err := chooseRoutine(cfg, routines)
	if err != nil {
		return err
	}
	logger.Printf("Main: Routine %q, %d segments, %.1f min, %.2f km",
		chosen.Name, len(chosen.Segments), chosen.TotalMinutes(), chosen.TotalDistanceKm())

	link, cleanup, err := newLink(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	recOpts := recorder.Options{Dir: cfg.Output.Dir, Prefix: "treadmill"}
	if cfg.Route.GPX != "" {
		route, err := recorder.LoadRoute(cfg.Route.GPX)
		if err != nil {
			logger.Printf("Main: Route ignored: %v", err)
		} else {
			recOpts.Route = route
		}
	}

	if cfg.Metrics.Addr != "" {
		go_func_utils.SafeGo(logger, func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Printf("Main: Metrics server: %v", err)
			}
		})
	}

	opts := session.Options{
		Routine:                 chosen,
		InitialSpeedKmh:         initialSpeed,
		InitialIncline:          cfg.Session.InitialIncline,
		ConnectAttempts:         cfg.Device.ConnectAttempts,
		ConnectBackoff:          cfg.Device.ConnectBackoff,
		Countdown:               cfg.Session.Countdown,
		PollInterval:            cfg.Session.PollInterval,
		PlaybackShutdownTimeout: cfg.Session.PlaybackShutdownTimeout,
		StallTimeout:            cfg.Session.StallTimeout,
		Profile:                 cfg.DeviceProfile(),
		GhostCount:              cfg.Ghosts.Count,
		GhostSeed:               cfg.Ghosts.Seed,
		Targets:                 append(store.Targets(), cfg.GoalTargets()...),
		Recorder:                recOpts,
		ExportFIT:               cfg.Output.FIT,
		ExportParquet:           cfg.Output.Parquet,
		PBStore:                 store,
		UpdatePB:                cfg.PB.Update,
	}
	orchestrator := session.NewOrchestrator(link, newPlayback(cfg, chosen, logger), opts, logger)

	result, err := orchestrator.Run(ctx)
	if result.SessionID != "" {
		printSummary(os.Stdout, result)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadRoutines(cfg config.Config, initialSpeed, thresholdSpeed float64, logger *log.Logger) ([]routine.Routine, error) {
	var all []routine.Routine
	fromJSON, err := routine.LoadJSON(cfg.Routine.File, initialSpeed)
	if err != nil {
		logger.Printf("Main: %v", err)
	}
	all = append(all, fromJSON...)

	if cfg.Routine.ZWODir != "" {
		fromZWO, err := routine.LoadZWO(cfg.Routine.ZWODir, thresholdSpeed)
		if err != nil {
			logger.Printf("Main: %v", err)
		}
		all = append(all, fromZWO...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no routines found in %s or %s", cfg.Routine.File, cfg.Routine.ZWODir)
	}
	return all, nil
}

// chooseRoutine finds routine.name, or lets the operator pick one from a
// list when the dashboard is in use.
func chooseRoutine(cfg config.Config, routines []routine.Routine) (routine.Routine, error) {
	if cfg.Routine.Name != "" {
		return routine.Find(routines, cfg.Routine.Name)
	}
	if cfg.Playback.Mode != config.PlaybackModeTUI {
		names := make([]string, len(routines))
		for i, r := range routines {
			names[i] = r.Name
		}
		return routine.Routine{}, fmt.Errorf("routine.name is required in %s mode, one of: %s",
			cfg.Playback.Mode, strings.Join(names, ", "))
	}
	return pickRoutine(routines)
}

func pickRoutine(routines []routine.Routine) (routine.Routine, error) {
	app := tview.NewApplication()
	selected := -1

	list := tview.NewList().ShowSecondaryText(true)
	for i, r := range routines {
		detail := fmt.Sprintf("%d segments, %.0f min, %.2f km, avg %.1f km/h",
			len(r.Segments), r.TotalMinutes(), r.TotalDistanceKm(), r.AverageSpeedKmh())
		list.AddItem(r.Name, detail, 0, func() {
			selected = i
			app.Stop()
		})
	}
	list.SetBorder(true).SetTitle(" Routines (Enter to start, Esc to quit) ")

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			app.Stop()
			return nil
		}
		return event
	})
	if err := app.SetRoot(list, true).SetFocus(list).Run(); err != nil {
		return routine.Routine{}, fmt.Errorf("routine picker: %w", err)
	}
	if selected < 0 {
		return routine.Routine{}, errors.New("no routine selected")
	}
	return routines[selected], nil
}

// newLink picks the treadmill implementation once; the session only sees device.Link
func newLink(cfg config.Config, logger *log.Logger) (device.Link, func(), error) {
	nothing := func() {}

	if cfg.Device.Mode == config.DeviceModeSimulated {
		sim := device.SimConfig{
			Profile:         cfg.DeviceProfile(),
			FrameInterval:   cfg.Sim.FrameInterval,
			SecondsPerFrame: cfg.Sim.SecondsPerFrame,
			HeartRate:       cfg.Sim.HeartRate,
		}
		if cfg.Sim.ReplayLog == "" {
			return device.NewSyntheticDevice(sim, logger), nothing, nil
		}
		frames, err := device.LoadReplayLog(cfg.Sim.ReplayLog)
		if err != nil {
			return nil, nothing, err
		}
		logger.Printf("Main: Replaying %d frames from %s", len(frames), cfg.Sim.ReplayLog)
		return device.NewReplayDevice(frames, sim, logger), nothing, nil
	}

	manager := bt.NewBTManager(bluetooth.DefaultAdapter, logger, cfg.Device.ScanWindow)
	if err := manager.Enable(); err != nil {
		return nil, nothing, fmt.Errorf("enable BLE stack: %w", err)
	}
	link := device.NewRealDevice(manager, device.RealConfig{
		Name:            cfg.Device.Name,
		Address:         cfg.Device.Address,
		HRAddress:       cfg.Device.HRAddress,
		ScanWindow:      cfg.Device.ScanWindow,
		ResponseTimeout: cfg.Device.ResponseTimeout,
		Profile:         cfg.DeviceProfile(),
	}, logger)
	return link, manager.Shutdown, nil
}

func newPlayback(cfg config.Config, r routine.Routine, logger *log.Logger) playback.Playback {
	var members []playback.Playback
	switch cfg.Playback.Mode {
	case config.PlaybackModeTUI:
		members = append(members, playback.NewDashboard(logger, tview.NewApplication(), r.Name))
	default:
		members = append(members, playback.NewHeadless(logger, cfg.Playback.HeadlessInterval))
	}
	if cfg.Live.Addr != "" {
		members = append(members, playback.NewLiveFeed(logger, cfg.Live.Addr, 0))
	}
	if len(members) == 1 {
		return members[0]
	}
	return playback.NewGroup(logger, members...)
}

func printSummary(w io.Writer, res session.Result) {
	fmt.Fprintf(w, "Workout %s\n", res.Outcome)
	fmt.Fprintf(w, "  Duration: %s\n", playback.FormatClock(res.Duration().Seconds()))
	fmt.Fprintf(w, "  Distance: %.2f km\n", res.FinalDistanceKm)
	if hours := res.Duration().Hours(); hours > 0 && res.FinalDistanceKm > 0 {
		fmt.Fprintf(w, "  Avg pace: %s\n", playback.FormatPace(res.FinalDistanceKm/hours))
	}
	if res.TrackFile != "" {
		fmt.Fprintf(w, "  Track:    %s\n", res.TrackFile)
	}
	for _, path := range res.Exports {
		fmt.Fprintf(w, "  Export:   %s\n", filepath.Base(path))
	}
	for _, e := range res.NewBests {
		fmt.Fprintf(w, "  New best: %g km in %s\n", e.DistanceKm, playback.FormatClock(e.Duration.Seconds()))
	}
}
