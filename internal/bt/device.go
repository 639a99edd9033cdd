package bt

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/safe_map"
	"tinygo.org/x/bluetooth"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Connecting:
		return "Connecting"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Device is a peripheral seen by a scan. Characteristic access requires a
// connection.
type Device interface {
	GetAddressString() string
	GetLocalName() string
	GetScanRSSI() (int16, error)
	HasServiceUUID(uuid string) bool
	IsConnected() bool
	WaitForConnection(timeout time.Duration) error
	EnableNotifications(serviceUuid string, characteristicUuid string, callback func(buf []byte)) error
	DisableNotifications(serviceUuid string, characteristicUuid string) error
	ReadCharacteristic(serviceUuid string, characteristicUuid string) ([]byte, error)
	WriteCharacteristic(serviceUuid string, characteristicUuid string, data []byte) error
}

type deviceImpl struct {
	address      bluetooth.Address
	scanTimeout  time.Duration
	logger       *log.Logger
	serviceUuids []string

	mu              sync.Mutex
	scanLastSeen    time.Time
	scanResult      *bluetooth.ScanResult
	connectedDevice *bluetooth.Device
	state           State

	// serializes discovery and characteristic operations
	bleMu                  sync.Mutex
	allServicesDiscovered  bool
	serviceByUuid          *safe_map.SafeMap[string, *bluetooth.DeviceService]
	characteristicByUuid   *safe_map.SafeMap[string, *bluetooth.DeviceCharacteristic]
	serviceCharsDiscovered *safe_map.SafeMap[string, bool]
}

var _ Device = (*deviceImpl)(nil)

func newDeviceImpl(logger *log.Logger, address bluetooth.Address, scanTimeout time.Duration) *deviceImpl {
	if logger == nil {
		panic("BTDevice: logger cannot be nil")
	}
	if scanTimeout <= 0 {
		panic("BTDevice: scanTimeout must be > 0")
	}
	return &deviceImpl{
		logger:                 logger,
		address:                address,
		scanTimeout:            scanTimeout,
		scanLastSeen:           time.Unix(0, 0),
		state:                  Disconnected,
		serviceByUuid:          safe_map.NewSafeMap[string, *bluetooth.DeviceService](),
		characteristicByUuid:   safe_map.NewSafeMap[string, *bluetooth.DeviceCharacteristic](),
		serviceCharsDiscovered: safe_map.NewSafeMap[string, bool](),
	}
}

func (d *deviceImpl) GetAddressString() string {
	return d.address.String()
}

func (d *deviceImpl) GetLocalName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scanResult != nil {
		if name := d.scanResult.LocalName(); name != "" {
			return name
		}
	}
	return "Unknown"
}

func (d *deviceImpl) GetScanRSSI() (int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scanResult == nil {
		return 0, errors.New("no rssi available")
	}
	return d.scanResult.RSSI, nil
}

func (d *deviceImpl) HasServiceUUID(uuid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Contains(d.serviceUuids, uuid)
}

func (d *deviceImpl) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectedDevice != nil
}

func (d *deviceImpl) isRecentlyScanned(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanResult != nil && now.Sub(d.scanLastSeen) <= d.scanTimeout
}

func (d *deviceImpl) lastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanLastSeen
}

// recordScan stores the advertisement and reports whether the device is new
func (d *deviceImpl) recordScan(result bluetooth.ScanResult, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	isNew := d.scanResult == nil
	d.scanResult = &result
	d.scanLastSeen = now
	if isNew {
		for _, uuid := range result.ServiceUUIDs() {
			d.serviceUuids = append(d.serviceUuids, uuid.String())
		}
	}
	return isNew
}

func (d *deviceImpl) setConnected(device *bluetooth.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectedDevice = device
	if device != nil {
		d.state = Connected
	} else {
		d.state = Disconnected
	}
}

func (d *deviceImpl) setState(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
}

func (d *deviceImpl) getState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *deviceImpl) getConnectedDevice() *bluetooth.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectedDevice
}

// WaitForConnection polls until the connect handler reports the link up
func (d *deviceImpl) WaitForConnection(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		if d.IsConnected() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("timeout after %v waiting for connection to %s", timeout, d.GetAddressString())
		}
	}
}

func (d *deviceImpl) EnableNotifications(serviceUuidStr, characteristicUuidStr string, callback func(buf []byte)) error {
	d.bleMu.Lock()
	defer d.bleMu.Unlock()

	d.logger.Printf("BTDevice: EnableNotifications service=%s char=%s", serviceUuidStr, characteristicUuidStr)
	characteristic, err := d.characteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return err
	}
	if err := characteristic.EnableNotifications(callback); err != nil {
		return fmt.Errorf("enable notifications on %s: %w", characteristicUuidStr, err)
	}
	return nil
}

func (d *deviceImpl) DisableNotifications(serviceUuidStr, characteristicUuidStr string) error {
	d.bleMu.Lock()
	defer d.bleMu.Unlock()

	characteristic, err := d.characteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return err
	}
	// a nil callback unsubscribes
	if err := characteristic.EnableNotifications(nil); err != nil {
		return fmt.Errorf("disable notifications on %s: %w", characteristicUuidStr, err)
	}
	return nil
}

func (d *deviceImpl) ReadCharacteristic(serviceUuidStr, characteristicUuidStr string) ([]byte, error) {
	d.bleMu.Lock()
	defer d.bleMu.Unlock()

	characteristic, err := d.characteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, err := characteristic.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", characteristicUuidStr, err)
	}
	return buf[:n], nil
}

func (d *deviceImpl) WriteCharacteristic(serviceUuidStr, characteristicUuidStr string, data []byte) error {
	d.bleMu.Lock()
	defer d.bleMu.Unlock()

	characteristic, err := d.characteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return err
	}
	if err := writeRequest(characteristic, data); err != nil {
		return fmt.Errorf("write %s: %w", characteristicUuidStr, err)
	}
	return nil
}

// characteristic must be called with bleMu held
func (d *deviceImpl) characteristic(serviceUuidStr, characteristicUuidStr string) (*bluetooth.DeviceCharacteristic, error) {
	serviceUuid, err := bluetooth.ParseUUID(serviceUuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUuidStr, err)
	}
	charUuid, err := bluetooth.ParseUUID(characteristicUuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", characteristicUuidStr, err)
	}
	return d.getDeviceCharacteristic(serviceUuid, charUuid)
}

func (d *deviceImpl) getDeviceService(serviceUuid bluetooth.UUID) (*bluetooth.DeviceService, error) {
	connected := d.getConnectedDevice()
	if connected == nil {
		return nil, errors.New("no connected device")
	}

	key := serviceUuid.String()
	if service, ok := d.serviceByUuid.Load(key); ok {
		return service, nil
	}

	// Discover every service in one go: discovering them one at a time
	// interrupts services already in use.
	if !d.allServicesDiscovered {
		services, err := connected.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("discover services: %w", err)
		}
		for i := range services {
			svc := &services[i]
			d.serviceByUuid.Store(svc.UUID().String(), svc)
		}
		d.allServicesDiscovered = true
		d.logger.Printf("BTDevice: Discovered %d services on %s", len(services), d.GetAddressString())
	}

	service, ok := d.serviceByUuid.Load(key)
	if !ok {
		return nil, fmt.Errorf("service %s not found on device", key)
	}
	return service, nil
}

func (d *deviceImpl) getDeviceCharacteristic(serviceUuid, charUuid bluetooth.UUID) (*bluetooth.DeviceCharacteristic, error) {
	serviceKey := serviceUuid.String()
	key := serviceKey + "_" + charUuid.String()

	if characteristic, ok := d.characteristicByUuid.Load(key); ok {
		return characteristic, nil
	}

	if discovered, _ := d.serviceCharsDiscovered.Load(serviceKey); !discovered {
		service, err := d.getDeviceService(serviceUuid)
		if err != nil {
			return nil, err
		}
		chars, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discover characteristics of %s: %w", serviceKey, err)
		}
		for i := range chars {
			c := &chars[i]
			d.characteristicByUuid.Store(serviceKey+"_"+c.UUID().String(), c)
		}
		d.serviceCharsDiscovered.Store(serviceKey, true)
	}

	characteristic, ok := d.characteristicByUuid.Load(key)
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found in service %s", charUuid.String(), serviceKey)
	}
	return characteristic, nil
}
