package bt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/go_func_utils"

	"tinygo.org/x/bluetooth"
)

// Manager owns the adapter: scanning, connecting and the set of devices seen
type Manager interface {
	Enable() error
	StartScan(serviceUuidFilter []string)
	StopScan() error
	GetScanDevices() []Device
	// ListenToDeviceList receives the recently scanned devices about once a second
	ListenToDeviceList(ch chan []Device) func()
	Connect(device Device) error
	Disconnect(device Device) error
	Shutdown()
}

var _ Manager = (*BTManager)(nil)

type BTManager struct {
	adapter     *bluetooth.Adapter
	scanTimeout time.Duration
	logger      *log.Logger

	mu                sync.RWMutex
	devicesByAddress  map[string]*deviceImpl
	scanning          bool
	scanContext       context.Context
	scanContextCancel context.CancelFunc

	scanDeviceListEvent *events.ChannelEvent[[]Device]

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

func NewBTManager(adapter *bluetooth.Adapter, logger *log.Logger, scanTimeout time.Duration) *BTManager {
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	if scanTimeout <= 0 {
		scanTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BTManager{
		adapter:             adapter,
		scanTimeout:         scanTimeout,
		logger:              logger,
		devicesByAddress:    make(map[string]*deviceImpl),
		scanDeviceListEvent: events.NewChannelEvent[[]Device](true),
		ctx:                 ctx,
		cancel:              cancel,
	}
}

func (m *BTManager) device(address bluetooth.Address) *deviceImpl {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := address.String()
	d, ok := m.devicesByAddress[key]
	if !ok {
		d = newDeviceImpl(m.logger, address, m.scanTimeout)
		m.devicesByAddress[key] = d
	}
	return d
}

func (m *BTManager) lookup(device Device) (*deviceImpl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devicesByAddress[device.GetAddressString()]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", device.GetAddressString())
	}
	return d, nil
}

func (m *BTManager) Enable() error {
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		d := m.device(device.Address)
		if connected {
			m.logger.Printf("BTManager: Device connected: %s", device.Address.String())
			d.setConnected(&device)
		} else {
			m.logger.Printf("BTManager: Device disconnected: %s", device.Address.String())
			d.setConnected(nil)
		}
	})
	return m.adapter.Enable()
}

// StartScan scans until StopScan or Shutdown. A non-empty filter keeps only
// devices advertising one of the given service UUIDs.
func (m *BTManager) StartScan(serviceUuidFilter []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filterSet := make(map[string]struct{}, len(serviceUuidFilter))
	for _, f := range serviceUuidFilter {
		filterSet[f] = struct{}{}
	}
	m.logger.Printf("BTManager: Starting scan, filter %v", serviceUuidFilter)

	if m.scanning && m.scanContextCancel != nil {
		m.logger.Printf("BTManager: Restarting scan already in progress")
		m.scanContextCancel()
	}
	m.scanning = true
	m.scanContext, m.scanContextCancel = context.WithCancel(m.ctx)
	scanCtx := m.scanContext

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if scanCtx.Err() != nil {
				return
			}
			if len(filterSet) > 0 && !advertisesAny(result, filterSet) {
				return
			}
			d := m.device(result.Address)
			if d.recordScan(result, time.Now()) {
				name := result.LocalName()
				if name == "" {
					name = "Unknown"
				}
				m.logger.Printf("BTManager: Found device: %s (%s) [RSSI: %d]", name, result.Address.String(), result.RSSI)
			}
		})
		if err != nil {
			m.logger.Printf("BTManager: Scan error: %v", err)
		}
	})

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-scanCtx.Done():
				return
			case <-ticker.C:
				m.dropStaleDevices()
				m.scanDeviceListEvent.Notify(m.GetScanDevices())
			}
		}
	})
}

func advertisesAny(result bluetooth.ScanResult, filterSet map[string]struct{}) bool {
	for _, uuid := range result.ServiceUUIDs() {
		if _, ok := filterSet[uuid.String()]; ok {
			return true
		}
	}
	return false
}

func (m *BTManager) dropStaleDevices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for addr, d := range m.devicesByAddress {
		if d.IsConnected() || now.Sub(d.lastSeen()) <= m.scanTimeout {
			continue
		}
		delete(m.devicesByAddress, addr)
		m.logger.Printf("BTManager: Device timeout: %s (not seen for %v)", addr, m.scanTimeout)
	}
}

func (m *BTManager) StopScan() error {
	m.mu.Lock()
	if !m.scanning {
		m.mu.Unlock()
		return nil
	}
	m.scanning = false
	if m.scanContextCancel != nil {
		m.scanContextCancel()
		m.scanContextCancel = nil
	}
	m.mu.Unlock()

	// outside the lock: the scan callback takes mu and the adapter waits for it
	return m.adapter.StopScan()
}

func (m *BTManager) GetScanDevices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	result := make([]Device, 0, len(m.devicesByAddress))
	for _, d := range m.devicesByAddress {
		if d.isRecentlyScanned(now) {
			result = append(result, d)
		}
	}
	return result
}

func (m *BTManager) ListenToDeviceList(ch chan []Device) func() {
	return m.scanDeviceListEvent.Listen(ch)
}

// Connect starts a connection. Completion is reported through the connect
// handler, so callers follow up with Device.WaitForConnection.
func (m *BTManager) Connect(device Device) error {
	d, err := m.lookup(device)
	if err != nil {
		return err
	}
	m.logger.Printf("BTManager: Connecting to %s", d.GetAddressString())
	d.setState(Connecting)
	if _, err := m.adapter.Connect(d.address, bluetooth.ConnectionParams{}); err != nil {
		d.setState(Disconnected)
		return fmt.Errorf("connect %s: %w", d.GetAddressString(), err)
	}
	return nil
}

func (m *BTManager) Disconnect(device Device) error {
	d, err := m.lookup(device)
	if err != nil {
		return err
	}
	if d.getState() == Disconnected {
		return nil
	}
	inner := d.getConnectedDevice()
	if inner == nil {
		return nil
	}
	m.logger.Printf("BTManager: Disconnecting from %s", d.GetAddressString())
	return inner.Disconnect()
}

// Shutdown disconnects everything, stops scanning and waits for the
// manager's goroutines
func (m *BTManager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.logger.Println("BTManager: Shutting down")
		m.mu.RLock()
		var connected []*deviceImpl
		for _, d := range m.devicesByAddress {
			if d.IsConnected() {
				connected = append(connected, d)
			}
		}
		m.mu.RUnlock()

		for _, d := range connected {
			if err := m.Disconnect(d); err != nil {
				m.logger.Printf("BTManager: Error disconnecting %s: %v", d.GetAddressString(), err)
			}
		}
		if err := m.StopScan(); err != nil {
			m.logger.Printf("BTManager: Error stopping scan: %v", err)
		}
		m.cancel()
		m.wg.Wait()
		m.logger.Println("BTManager: Shutdown complete")
	})
}

// FindDevice scans until a device satisfying match shows up or ctx ends.
// The scan is stopped before returning.
func FindDevice(ctx context.Context, m Manager, serviceUuidFilter []string, match func(Device) bool) (Device, error) {
	ch := make(chan []Device, 1)
	unlisten := m.ListenToDeviceList(ch)
	defer unlisten()

	m.StartScan(serviceUuidFilter)
	defer func() { _ = m.StopScan() }()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no matching device found: %w", ctx.Err())
		case devices := <-ch:
			for _, d := range devices {
				if match(d) {
					return d, nil
				}
			}
		}
	}
}
