package bt

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/events"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/ftms"
	"github.com/lowaak/smart-trainer/treadmill-runner/internal/go_func_utils"
)

// WrittenValue records a value written to a mock characteristic
type WrittenValue struct {
	Timestamp          time.Time
	ServiceUUID        string
	CharacteristicUUID string
	Data               []byte
	DataHex            string
}

type MockDeviceConfig struct {
	Address      string
	LocalName    string
	ServiceUUIDs []string
}

// MockDevice is an in-process peripheral. Writes to the FTMS control point
// are answered with a control point indication, like a real treadmill.
type MockDevice struct {
	logger       *log.Logger
	address      string
	localName    string
	serviceUUIDs []string

	mu        sync.Mutex
	connected bool
	callbacks map[string]func([]byte)
	writes    []WrittenValue
	results   map[byte]byte
	silent    map[byte]bool
	reads     map[string][]byte
}

var _ Device = (*MockDevice)(nil)

func NewMockDevice(logger *log.Logger, config MockDeviceConfig) *MockDevice {
	if logger == nil {
		panic("MockDevice: logger cannot be nil")
	}
	return &MockDevice{
		logger:       logger,
		address:      config.Address,
		localName:    config.LocalName,
		serviceUUIDs: config.ServiceUUIDs,
		callbacks:    make(map[string]func([]byte)),
		results:      make(map[byte]byte),
		silent:       make(map[byte]bool),
		reads:        make(map[string][]byte),
	}
}

func charKey(serviceUuid, characteristicUuid string) string {
	return serviceUuid + "_" + characteristicUuid
}

// SetResult makes the mock answer opCode with result instead of success
func (m *MockDevice) SetResult(opCode, result byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[opCode] = result
}

// Silence makes the mock never answer opCode
func (m *MockDevice) Silence(opCode byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent[opCode] = true
}

// SetReadValue sets what ReadCharacteristic returns for a characteristic
func (m *MockDevice) SetReadValue(serviceUuid, characteristicUuid string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[charKey(serviceUuid, characteristicUuid)] = data
}

// Notify delivers data to the subscriber of a characteristic, if any
func (m *MockDevice) Notify(serviceUuid, characteristicUuid string, data []byte) bool {
	m.mu.Lock()
	callback := m.callbacks[charKey(serviceUuid, characteristicUuid)]
	m.mu.Unlock()
	if callback == nil {
		return false
	}
	callback(data)
	return true
}

// Writes returns every value written so far
func (m *MockDevice) Writes() []WrittenValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.writes)
}

func (m *MockDevice) setConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
	if !connected {
		clear(m.callbacks)
	}
}

func (m *MockDevice) GetAddressString() string {
	return m.address
}

func (m *MockDevice) GetLocalName() string {
	return m.localName
}

func (m *MockDevice) GetScanRSSI() (int16, error) {
	return -50, nil
}

func (m *MockDevice) HasServiceUUID(uuid string) bool {
	return slices.Contains(m.serviceUUIDs, uuid)
}

func (m *MockDevice) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockDevice) WaitForConnection(timeout time.Duration) error {
	if !m.IsConnected() {
		return fmt.Errorf("mock device %s is not connected", m.address)
	}
	return nil
}

func (m *MockDevice) EnableNotifications(serviceUuid, characteristicUuid string, callback func(buf []byte)) error {
	if !m.HasServiceUUID(serviceUuid) {
		return fmt.Errorf("service not supported by this device: %s", serviceUuid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock device %s is not connected", m.address)
	}
	m.callbacks[charKey(serviceUuid, characteristicUuid)] = callback
	m.logger.Printf("MockDevice [%s]: Notifications enabled for %s", m.localName, characteristicUuid)
	return nil
}

func (m *MockDevice) DisableNotifications(serviceUuid, characteristicUuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, charKey(serviceUuid, characteristicUuid))
	return nil
}

func (m *MockDevice) ReadCharacteristic(serviceUuid, characteristicUuid string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.reads[charKey(serviceUuid, characteristicUuid)]
	if !ok {
		return nil, fmt.Errorf("unknown service/characteristic: %s/%s", serviceUuid, characteristicUuid)
	}
	return slices.Clone(data), nil
}

func (m *MockDevice) WriteCharacteristic(serviceUuid, characteristicUuid string, data []byte) error {
	if !m.HasServiceUUID(serviceUuid) {
		return fmt.Errorf("service not supported by this device: %s", serviceUuid)
	}

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("mock device %s is not connected", m.address)
	}
	m.writes = append(m.writes, WrittenValue{
		Timestamp:          time.Now(),
		ServiceUUID:        serviceUuid,
		CharacteristicUUID: characteristicUuid,
		Data:               slices.Clone(data),
		DataHex:            hex.EncodeToString(data),
	})
	isControl := serviceUuid == ftms.ServiceUUIDFTMS && characteristicUuid == ftms.CharUUIDFTMSControlPoint
	var respond func([]byte)
	var response []byte
	if isControl && len(data) > 0 && !m.silent[data[0]] {
		result, ok := m.results[data[0]]
		if !ok {
			result = ftms.ResultSuccess
		}
		respond = m.callbacks[charKey(serviceUuid, characteristicUuid)]
		response = []byte{ftms.OpCodeResponseCode, data[0], result}
	}
	m.mu.Unlock()

	if isControl && len(data) > 0 {
		m.logger.Printf("MockDevice [%s]: Control point write %s", m.localName, ftms.OpCodeName(data[0]))
	}
	if respond != nil {
		respond(response)
	}
	return nil
}

// MockManager "scans" a fixed set of mock devices
type MockManager struct {
	logger  *log.Logger
	devices []*MockDevice

	mu       sync.Mutex
	scanning bool
	scanStop context.CancelFunc

	scanDeviceListEvent *events.ChannelEvent[[]Device]
	wg                  sync.WaitGroup
}

var _ Manager = (*MockManager)(nil)

func NewMockManager(logger *log.Logger, devices ...*MockDevice) *MockManager {
	if logger == nil {
		panic("MockManager: logger cannot be nil")
	}
	return &MockManager{
		logger:              logger,
		devices:             devices,
		scanDeviceListEvent: events.NewChannelEvent[[]Device](false),
	}
}

func (m *MockManager) Enable() error {
	return nil
}

func (m *MockManager) visible(filter []string) []Device {
	var out []Device
	for _, d := range m.devices {
		if len(filter) == 0 || slices.ContainsFunc(filter, d.HasServiceUUID) {
			out = append(out, d)
		}
	}
	return out
}

func (m *MockManager) StartScan(serviceUuidFilter []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanStop != nil {
		m.scanStop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.scanning = true
	m.scanStop = cancel

	found := m.visible(serviceUuidFilter)
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		m.scanDeviceListEvent.Notify(found)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.scanDeviceListEvent.Notify(found)
			}
		}
	})
}

func (m *MockManager) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanning = false
	if m.scanStop != nil {
		m.scanStop()
		m.scanStop = nil
	}
	return nil
}

func (m *MockManager) GetScanDevices() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.scanning {
		return nil
	}
	return m.visible(nil)
}

func (m *MockManager) ListenToDeviceList(ch chan []Device) func() {
	return m.scanDeviceListEvent.Listen(ch)
}

func (m *MockManager) find(device Device) (*MockDevice, error) {
	for _, d := range m.devices {
		if d.address == device.GetAddressString() {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown device: %s", device.GetAddressString())
}

func (m *MockManager) Connect(device Device) error {
	d, err := m.find(device)
	if err != nil {
		return err
	}
	d.setConnected(true)
	m.logger.Printf("MockManager: Connected to %s", d.address)
	return nil
}

func (m *MockManager) Disconnect(device Device) error {
	d, err := m.find(device)
	if err != nil {
		return err
	}
	d.setConnected(false)
	m.logger.Printf("MockManager: Disconnected from %s", d.address)
	return nil
}

func (m *MockManager) Shutdown() {
	_ = m.StopScan()
	m.wg.Wait()
	for _, d := range m.devices {
		d.setConnected(false)
	}
}
