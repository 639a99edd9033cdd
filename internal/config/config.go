package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ftms"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ghost"
)

const EnvPrefix = "TREADMILL"

const (
	DeviceModeSimulated = "simulated"
	DeviceModeBLE       = "ble"

	PlaybackModeTUI      = "tui"
	PlaybackModeHeadless = "headless"
)

type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Sim      SimConfig      `mapstructure:"sim"`
	Routine  RoutineConfig  `mapstructure:"routine"`
	Session  SessionConfig  `mapstructure:"session"`
	Ghosts   GhostsConfig   `mapstructure:"ghosts"`
	Output   OutputConfig   `mapstructure:"output"`
	Route    RouteConfig    `mapstructure:"route"`
	PB       PBConfig       `mapstructure:"pb"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Live     ListenConfig   `mapstructure:"live"`
	Metrics  ListenConfig   `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type DeviceConfig struct {
	Mode            string        `mapstructure:"mode"`
	Name            string        `mapstructure:"name"`
	Address         string        `mapstructure:"address"`
	HRAddress       string        `mapstructure:"hr_address"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
	ScanWindow      time.Duration `mapstructure:"scan_window"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	Profile         string        `mapstructure:"profile"`
}

type SimConfig struct {
	// ReplayLog switches the simulator from synthetic frames to a recorded log
	ReplayLog       string        `mapstructure:"replay_log"`
	FrameInterval   time.Duration `mapstructure:"frame_interval"`
	SecondsPerFrame float64       `mapstructure:"seconds_per_frame"`
	HeartRate       bool          `mapstructure:"heart_rate"`
}

type RoutineConfig struct {
	File   string `mapstructure:"file"`
	ZWODir string `mapstructure:"zwo_dir"`
	Name   string `mapstructure:"name"`
	// InitialSpeed of 0 means the threshold speed derived from the 5 km best
	InitialSpeed float64 `mapstructure:"initial_speed"`
}

type SessionConfig struct {
	InitialIncline          float64       `mapstructure:"initial_incline"`
	Countdown               time.Duration `mapstructure:"countdown"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	PlaybackShutdownTimeout time.Duration `mapstructure:"playback_shutdown_timeout"`
	// StallTimeout ends the workout when the treadmill goes quiet
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
}

type Goal struct {
	DistanceKm float64 `mapstructure:"distance_km"`
	Minutes    float64 `mapstructure:"minutes"`
}

type GhostsConfig struct {
	Count int `mapstructure:"count"`
	// Seed of 0 seeds from the clock
	Seed  uint64 `mapstructure:"seed"`
	Goals []Goal `mapstructure:"goals"`
}

type OutputConfig struct {
	Dir     string `mapstructure:"dir"`
	FIT     bool   `mapstructure:"fit"`
	Parquet bool   `mapstructure:"parquet"`
}

type RouteConfig struct {
	GPX string `mapstructure:"gpx"`
}

type PBConfig struct {
	File   string `mapstructure:"file"`
	Update bool   `mapstructure:"update"`
}

type PlaybackConfig struct {
	Mode             string        `mapstructure:"mode"`
	HeadlessInterval time.Duration `mapstructure:"headless_interval"`
}

// ListenConfig is an HTTP listen address; empty disables the endpoint
type ListenConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Stderr     bool   `mapstructure:"stderr"`
}

var defaults = map[string]any{
	"device.mode":             DeviceModeSimulated,
	"device.connect_attempts": 6,
	"device.connect_backoff":  "2s",
	"device.scan_window":      "10s",
	"device.response_timeout": "1s",
	"device.profile":          ftms.ProfileFTMS.Name,

	"sim.frame_interval":    "1s",
	"sim.seconds_per_frame": 1.0,
	"sim.heart_rate":        true,

	"routine.file":          "routines.json",
	"routine.zwo_dir":       "routines",
	"routine.initial_speed": 0.0,

	"session.initial_incline":           1.0,
	"session.countdown":                 "5s",
	"session.poll_interval":             "200ms",
	"session.playback_shutdown_timeout": "5s",
	"session.stall_timeout":             "10s",

	"ghosts.count": 3,
	"ghosts.seed":  0,

	"output.dir":     "TCX",
	"output.fit":     true,
	"output.parquet": false,

	"pb.file":   "user_config.json",
	"pb.update": true,

	"playback.mode":              PlaybackModeTUI,
	"playback.headless_interval": "5s",

	"log.file":         "treadmill-runner.log",
	"log.max_size_mb":  10,
	"log.max_backups":  3,
	"log.max_age_days": 28,
	"log.stderr":       false,
}

// Flags defines the command line. Flag names are the config keys.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("treadmill-runner", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "YAML config file")
	fs.String("device.mode", DeviceModeSimulated, "treadmill to drive: simulated or ble")
	fs.String("device.name", "", "BLE local name of the treadmill")
	fs.String("device.address", "", "BLE address of the treadmill")
	fs.String("device.hr_address", "", "BLE address of a heart rate strap")
	fs.String("device.profile", ftms.ProfileFTMS.Name, "telemetry layout: ftms or legacy")
	fs.String("sim.replay_log", "", "replay a recorded JSON frame log instead of synthetic frames")
	fs.Float64("sim.seconds_per_frame", 1, "treadmill seconds covered by each simulated frame")
	fs.StringP("routine.name", "r", "", "routine to run")
	fs.Float64("routine.initial_speed", 0, "initial speed in km/h (0 = from 5 km best)")
	fs.Int("ghosts.count", 3, "number of generated ghosts")
	fs.String("output.dir", "TCX", "directory for session files")
	fs.String("route.gpx", "", "GPX route to map belt distance onto")
	fs.String("playback.mode", PlaybackModeTUI, "tui or headless")
	fs.String("live.addr", "", "serve the live websocket feed on this address")
	fs.String("metrics.addr", "", "serve Prometheus metrics on this address")
	fs.Bool("log.stderr", false, "also log to stderr")
	return fs
}

// Load resolves flags, an optional config file, TREADMILL_* environment
// variables and defaults, in that order of precedence.
func Load(args []string) (Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Device.Mode {
	case DeviceModeSimulated, DeviceModeBLE:
	default:
		errs = append(errs, fmt.Errorf("device.mode: unknown mode %q", c.Device.Mode))
	}
	switch c.Playback.Mode {
	case PlaybackModeTUI, PlaybackModeHeadless:
	default:
		errs = append(errs, fmt.Errorf("playback.mode: unknown mode %q", c.Playback.Mode))
	}
	if _, err := ftms.ProfileByName(c.Device.Profile); err != nil {
		errs = append(errs, fmt.Errorf("device.profile: %w", err))
	}
	if c.Device.ConnectAttempts <= 0 {
		errs = append(errs, errors.New("device.connect_attempts must be positive"))
	}

	positive := map[string]time.Duration{
		"device.scan_window":                c.Device.ScanWindow,
		"device.response_timeout":           c.Device.ResponseTimeout,
		"sim.frame_interval":                c.Sim.FrameInterval,
		"session.poll_interval":             c.Session.PollInterval,
		"session.playback_shutdown_timeout": c.Session.PlaybackShutdownTimeout,
		"session.stall_timeout":             c.Session.StallTimeout,
		"playback.headless_interval":        c.Playback.HeadlessInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", key, d))
		}
	}
	if c.Device.ConnectBackoff < 0 || c.Session.Countdown < 0 {
		errs = append(errs, errors.New("device.connect_backoff and session.countdown cannot be negative"))
	}
	if c.Sim.SecondsPerFrame <= 0 {
		errs = append(errs, errors.New("sim.seconds_per_frame must be positive"))
	}
	if c.Routine.InitialSpeed < 0 {
		errs = append(errs, errors.New("routine.initial_speed cannot be negative"))
	}
	if c.Ghosts.Count < 0 {
		errs = append(errs, errors.New("ghosts.count cannot be negative"))
	}
	for i, g := range c.Ghosts.Goals {
		if g.DistanceKm <= 0 || g.Minutes <= 0 {
			errs = append(errs, fmt.Errorf("ghosts.goals[%d]: distance_km and minutes must be positive", i))
		}
	}
	return errors.Join(errs...)
}

// DeviceProfile is the telemetry layout named by device.profile
func (c Config) DeviceProfile() ftms.Profile {
	p, err := ftms.ProfileByName(c.Device.Profile)
	if err != nil {
		return ftms.ProfileFTMS
	}
	return p
}

// GoalTargets turns the configured goals into flat ghost targets
func (c Config) GoalTargets() []ghost.Target {
	targets := make([]ghost.Target, 0, len(c.Ghosts.Goals))
	for _, g := range c.Ghosts.Goals {
		targets = append(targets, ghost.Target{
			Name:       fmt.Sprintf("Goal %gk", g.DistanceKm),
			DistanceKm: g.DistanceKm,
			Minutes:    g.Minutes,
		})
	}
	return targets
}
