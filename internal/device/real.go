package device

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/bt"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ftms"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/metrics"
)

type RealConfig struct {
	// Name or Address pick a specific treadmill; with neither, the first
	// device advertising the Fitness Machine service is used.
	Name    string
	Address string
	// HRAddress is an optional heart rate strap
	HRAddress       string
	ScanWindow      time.Duration
	ResponseTimeout time.Duration
	Profile         ftms.Profile
}

// RealDevice drives an FTMS treadmill through a bt.Manager
type RealDevice struct {
	manager bt.Manager
	config  RealConfig
	logger  *log.Logger

	mu        sync.Mutex
	treadmill bt.Device
	strap     bt.Device
	features  []byte
	sink      *frameSink

	// one control point command in flight at a time
	cmdMu     sync.Mutex
	responses chan ftms.ControlResponse
}

var _ Link = (*RealDevice)(nil)

func NewRealDevice(manager bt.Manager, config RealConfig, logger *log.Logger) *RealDevice {
	if manager == nil {
		panic("RealDevice: manager cannot be nil")
	}
	if logger == nil {
		panic("RealDevice: logger cannot be nil")
	}
	if config.ScanWindow <= 0 {
		config.ScanWindow = 10 * time.Second
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = time.Second
	}
	if config.Profile.Fields == nil {
		config.Profile = ftms.ProfileFTMS
	}
	return &RealDevice{
		manager:   manager,
		config:    config,
		logger:    logger,
		responses: make(chan ftms.ControlResponse, 4),
	}
}

func (r *RealDevice) matchTreadmill(d bt.Device) bool {
	switch {
	case r.config.Address != "":
		return strings.EqualFold(d.GetAddressString(), r.config.Address)
	case r.config.Name != "":
		return strings.EqualFold(d.GetLocalName(), r.config.Name)
	default:
		return d.HasServiceUUID(ftms.ServiceUUIDFTMS)
	}
}

func (r *RealDevice) scanFilter() []string {
	if r.config.Address != "" || r.config.Name != "" {
		return nil
	}
	return []string{ftms.ServiceUUIDFTMS}
}

// find scans for one device and connects to it
func (r *RealDevice) find(ctx context.Context, filter []string, match func(bt.Device) bool) (bt.Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, r.config.ScanWindow)
	defer cancel()

	d, err := bt.FindDevice(scanCtx, r.manager, filter, match)
	if err != nil {
		return nil, err
	}
	r.logger.Printf("RealDevice: Found %s (%s)", d.GetLocalName(), d.GetAddressString())

	if !d.IsConnected() {
		if err := r.manager.Connect(d); err != nil {
			return nil, err
		}
		if err := d.WaitForConnection(r.config.ScanWindow); err != nil {
			return nil, fmt.Errorf("connection timeout: %w", err)
		}
	}
	return d, nil
}

func (r *RealDevice) Connect(ctx context.Context) error {
	d, err := r.find(ctx, r.scanFilter(), r.matchTreadmill)
	if err != nil {
		return fmt.Errorf("connect treadmill: %w", err)
	}

	if err := d.EnableNotifications(ftms.ServiceUUIDFTMS, ftms.CharUUIDFTMSControlPoint, r.onControlResponse); err != nil {
		_ = r.manager.Disconnect(d)
		return fmt.Errorf("enable control point indications: %w", err)
	}

	features, err := d.ReadCharacteristic(ftms.ServiceUUIDFTMS, ftms.CharUUIDFTMSFeature)
	if err != nil {
		r.logger.Printf("RealDevice: Could not read FTMS features: %v", err)
	} else {
		r.logger.Printf("RealDevice: FTMS features % X", features)
	}

	r.mu.Lock()
	r.treadmill = d
	r.features = features
	r.mu.Unlock()
	r.logger.Printf("RealDevice: Connected to %s", d.GetLocalName())

	if r.config.HRAddress != "" {
		r.connectStrap(ctx)
	}
	return nil
}

// connectStrap is best effort: a session runs fine without heart rate
func (r *RealDevice) connectStrap(ctx context.Context) {
	match := func(d bt.Device) bool {
		return strings.EqualFold(d.GetAddressString(), r.config.HRAddress)
	}
	d, err := r.find(ctx, nil, match)
	if err != nil {
		r.logger.Printf("RealDevice: Heart rate strap %s unavailable: %v", r.config.HRAddress, err)
		return
	}
	r.mu.Lock()
	r.strap = d
	r.mu.Unlock()
	r.logger.Printf("RealDevice: Heart rate strap %s connected", r.config.HRAddress)
}

// Features returns the raw Fitness Machine Feature value read on connect
func (r *RealDevice) Features() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.features)
}

func (r *RealDevice) onControlResponse(buf []byte) {
	resp, err := ftms.ParseControlResponse(buf)
	if err != nil {
		r.logger.Printf("RealDevice: %v", err)
		return
	}
	select {
	case r.responses <- resp:
	default:
		r.logger.Printf("RealDevice: Dropping unclaimed control point response %s", resp)
	}
}

func (r *RealDevice) RequestControl(ctx context.Context) error {
	return r.command(ctx, ftms.EncodeRequestControl())
}

func (r *RealDevice) SetSpeed(ctx context.Context, speedKmh float64) error {
	return r.command(ctx, ftms.EncodeSetTargetSpeed(speedKmh, r.config.Profile))
}

func (r *RealDevice) SetIncline(ctx context.Context, inclinePercent float64) error {
	return r.command(ctx, ftms.EncodeSetTargetIncline(inclinePercent))
}

func (r *RealDevice) StartOrResume(ctx context.Context) error {
	return r.command(ctx, ftms.EncodeStartOrResume())
}

// command writes to the control point and waits for the matching indication.
// A treadmill that stays silent is logged and tolerated, many firmwares never answer.
func (r *RealDevice) command(ctx context.Context, payload []byte) error {
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	op := ftms.OpCodeName(payload[0])
	r.mu.Lock()
	d := r.treadmill
	r.mu.Unlock()
	if d == nil {
		return &CommandError{Op: op, Err: ErrNotConnected}
	}

	// responses to earlier timed-out commands are stale now
	for len(r.responses) > 0 {
		<-r.responses
	}

	if err := d.WriteCharacteristic(ftms.ServiceUUIDFTMS, ftms.CharUUIDFTMSControlPoint, payload); err != nil {
		metrics.CommandFailures.WithLabelValues(op).Inc()
		return &CommandError{Op: op, Err: err}
	}

	timer := time.NewTimer(r.config.ResponseTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return &CommandError{Op: op, Err: ctx.Err()}
		case <-timer.C:
			r.logger.Printf("RealDevice: No response to %s within %v", op, r.config.ResponseTimeout)
			return nil
		case resp := <-r.responses:
			if resp.RequestOpCode != payload[0] {
				r.logger.Printf("RealDevice: Ignoring response for another command: %s", resp)
				continue
			}
			if !resp.Succeeded() {
				metrics.CommandFailures.WithLabelValues(op).Inc()
				return &CommandError{
					Op:     op,
					Result: resp.ResultCode,
					Err:    fmt.Errorf("%w: %s", ErrRejected, ftms.ResultName(resp.ResultCode)),
				}
			}
			r.logger.Printf("RealDevice: %s", resp)
			return nil
		}
	}
}

func (r *RealDevice) StartMonitoring(ctx context.Context, frames chan<- Frame) error {
	r.mu.Lock()
	d, strap := r.treadmill, r.strap
	sink := &frameSink{frames: frames}
	r.sink = sink
	r.mu.Unlock()
	if d == nil {
		return ErrNotConnected
	}

	forward := func(source Source) func([]byte) {
		return func(buf []byte) {
			if ctx.Err() != nil {
				return
			}
			// the stack reuses buf after the callback returns
			sink.offer(Frame{Source: source, Data: slices.Clone(buf), Received: time.Now()})
		}
	}

	if err := d.EnableNotifications(ftms.ServiceUUIDFTMS, ftms.CharUUIDTreadmillData, forward(SourceTreadmill)); err != nil {
		return fmt.Errorf("enable treadmill data notifications: %w", err)
	}
	if strap != nil {
		if err := strap.EnableNotifications(ftms.ServiceUUIDHeartRate, ftms.CharUUIDHeartRateMeasurement, forward(SourceHeartRate)); err != nil {
			r.logger.Printf("RealDevice: Heart rate notifications unavailable: %v", err)
		}
	}
	r.logger.Printf("RealDevice: Monitoring started")
	return nil
}

func (r *RealDevice) StopMonitoring() error {
	r.mu.Lock()
	d, strap := r.treadmill, r.strap
	r.mu.Unlock()
	if d == nil {
		return nil
	}
	err := d.DisableNotifications(ftms.ServiceUUIDFTMS, ftms.CharUUIDTreadmillData)
	if strap != nil {
		_ = strap.DisableNotifications(ftms.ServiceUUIDHeartRate, ftms.CharUUIDHeartRateMeasurement)
	}
	r.logger.Printf("RealDevice: Monitoring stopped")
	return err
}

// Dropped counts frames discarded because the consumer was behind
func (r *RealDevice) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sink == nil {
		return 0
	}
	return r.sink.dropped.Load()
}

func (r *RealDevice) Disconnect() error {
	r.mu.Lock()
	d, strap := r.treadmill, r.strap
	r.treadmill, r.strap = nil, nil
	r.mu.Unlock()

	var firstErr error
	for _, dev := range []bt.Device{d, strap} {
		if dev == nil {
			continue
		}
		if err := r.manager.Disconnect(dev); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disconnect %s: %w", dev.GetAddressString(), err)
		}
	}
	return firstErr
}
