package ecuconnect

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/ecuconnect/pkg/pdu"
	"github.com/roffe/ecuconnect/pkg/session"
	"github.com/roffe/ecuconnect/transport"
)

const (
	openInfoTimeout   = 2 * time.Second
	requestTimeout    = 1 * time.Second
	dialRetryAttempts = 3
)

// Manager is the process-wide device and channel registry. Every entry
// point takes its mutex first; per-channel RX queues have their own locks
// so blocked readers do not stall the registry.
type Manager struct {
	mu              sync.Mutex
	devices         map[uint32]*Device
	channelToDevice map[uint32]uint32
	// One counter feeds both ID spaces, keeping them disjoint.
	nextID uint32

	errMu     sync.Mutex
	lastError string

	// Debug enables wire logging on newly opened sessions.
	Debug bool
}

var (
	managerOnce sync.Once
	manager     *Manager
)

// Get returns the process-wide manager, creating it on first use.
func Get() *Manager {
	managerOnce.Do(func() {
		manager = NewManager()
	})
	return manager
}

// NewManager creates an empty registry. Tests use this to avoid sharing
// the process-wide instance.
func NewManager() *Manager {
	return &Manager{
		devices:         make(map[uint32]*Device),
		channelToDevice: make(map[uint32]uint32),
		nextID:          1,
	}
}

// LastError returns the text of the most recent failure.
func (m *Manager) LastError() string {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastError
}

// SetLastError overrides the last-error text; the ABI shim uses this for
// faults it catches itself.
func (m *Manager) SetLastError(text string) {
	m.errMu.Lock()
	m.lastError = text
	m.errMu.Unlock()
}

func (m *Manager) setLastError(format string, args ...interface{}) {
	m.errMu.Lock()
	m.lastError = fmt.Sprintf(format, args...)
	m.errMu.Unlock()
}

// fail records the failure text and returns the sentinel.
func (m *Manager) fail(sentinel error, format string, args ...interface{}) error {
	m.setLastError(format, args...)
	return sentinel
}

func (m *Manager) device(deviceID uint32) *Device {
	return m.devices[deviceID]
}

func (m *Manager) channel(channelID uint32) *Channel {
	deviceID, ok := m.channelToDevice[channelID]
	if !ok {
		return nil
	}
	dev := m.devices[deviceID]
	if dev == nil {
		return nil
	}
	return dev.channels[channelID]
}

// OpenDevice resolves the connection string, connects the transport,
// verifies the link by fetching the device info and registers the device.
func (m *Manager) OpenDevice(name string) (uint32, error) {
	ep := transport.ParseConnectionString(name)
	t, err := transport.New(ep)
	if err != nil {
		return 0, m.fail(ErrFailed, "failed to create transport: %v", err)
	}
	return m.OpenDeviceWithTransport(name, t)
}

// OpenDeviceWithTransport opens a device over an already constructed
// transport; the bench tooling and tests use this to supply their own.
func (m *Manager) OpenDeviceWithTransport(name string, t transport.Transport) (uint32, error) {
	s := session.New(t)
	s.Debug = m.Debug

	err := retry.Do(s.Connect,
		retry.Attempts(dialRetryAttempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return 0, m.fail(ErrDeviceNotConnected, "failed to connect: %v", err)
	}

	info, err := s.GetDeviceInfo(openInfoTimeout)
	if err != nil {
		s.Disconnect()
		return 0, m.fail(ErrDeviceNotConnected, "failed to get device info: %v", err)
	}
	log.Printf("opened %s %s (fw %s)", info.Vendor, info.Model, info.Firmware)

	m.mu.Lock()
	defer m.mu.Unlock()
	dev := &Device{
		ConnectionString: name,
		Transport:        t,
		Session:          s,
		Info:             info,
		channels:         make(map[uint32]*Channel),
	}
	dev.ID = m.nextID
	m.nextID++
	m.devices[dev.ID] = dev
	return dev.ID, nil
}

// CloseDevice closes all channels, stops polling and disconnects.
func (m *Manager) CloseDevice(deviceID uint32) error {
	m.mu.Lock()
	dev := m.device(deviceID)
	if dev == nil {
		m.mu.Unlock()
		return m.fail(ErrInvalidDeviceID, "invalid device ID %d", deviceID)
	}

	stop := dev.stopPolling
	done := dev.pollingDone
	dev.stopPolling = nil
	dev.pollingDone = nil
	m.mu.Unlock()

	// The poller takes the manager mutex, so stop it lock-free first.
	if stop != nil {
		close(stop)
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for channelID, ch := range dev.channels {
		if dev.Session.IsConnected() {
			dev.Session.CloseChannel(ch.Handle, requestTimeout)
		}
		delete(m.channelToDevice, channelID)
	}
	dev.Session.Disconnect()
	delete(m.devices, deviceID)
	return nil
}

// Connect opens a logical channel on a device. The adapter supports one
// active channel at a time; the channel itself always runs the raw CAN
// protocol, higher framing is layered host-side.
func (m *Manager) Connect(deviceID, protocolID, flags, baudrate uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev := m.device(deviceID)
	if dev == nil {
		return 0, m.fail(ErrInvalidDeviceID, "invalid device ID %d", deviceID)
	}
	if len(dev.channels) > 0 {
		return 0, m.fail(ErrChannelInUse, "only one active channel supported per device")
	}
	if protocolID != CAN {
		return 0, m.fail(ErrInvalidProtocolID, "protocol %#02x not supported, only CAN", protocolID)
	}
	if baudrate == 0 {
		return 0, m.fail(ErrInvalidBaudrate, "invalid baudrate 0")
	}

	handle, err := dev.Session.OpenChannel(pdu.ProtocolRaw, baudrate, 0, 0, requestTimeout)
	if err != nil {
		return 0, m.translate(err, "failed to open channel")
	}

	ch := newChannel(m.nextID, deviceID)
	m.nextID++
	ch.ProtocolID = protocolID
	ch.Flags = flags
	ch.Baudrate = baudrate
	ch.DataRate = baudrate
	ch.Handle = handle

	dev.channels[ch.ID] = ch
	m.channelToDevice[ch.ID] = deviceID

	if dev.stopPolling == nil {
		dev.stopPolling = make(chan struct{})
		dev.pollingDone = make(chan struct{})
		go m.poll(deviceID, dev.stopPolling, dev.pollingDone)
	}
	return ch.ID, nil
}

// Disconnect closes a logical channel, stopping its periodic messages and
// the device's polling goroutine.
func (m *Manager) Disconnect(channelID uint32) error {
	m.mu.Lock()
	deviceID, ok := m.channelToDevice[channelID]
	if !ok {
		m.mu.Unlock()
		return m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	dev := m.device(deviceID)
	ch := dev.channels[channelID]

	stop := dev.stopPolling
	done := dev.pollingDone
	dev.stopPolling = nil
	dev.pollingDone = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if dev.Session.IsConnected() {
		dev.Session.CloseChannel(ch.Handle, requestTimeout)
		for _, adapterHandle := range ch.periodic {
			dev.Session.EndPeriodicMessage(adapterHandle, requestTimeout)
		}
	}
	delete(dev.channels, channelID)
	delete(m.channelToDevice, channelID)
	return nil
}

// ReadVersion reports firmware, DLL and API version strings, refreshing
// the cached device info when the adapter answers.
func (m *Manager) ReadVersion(deviceID uint32) (firmware, dll, api string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev := m.device(deviceID)
	if dev == nil {
		return "", "", "", m.fail(ErrInvalidDeviceID, "invalid device ID %d", deviceID)
	}
	if info, err := dev.Session.GetDeviceInfo(requestTimeout); err == nil {
		dev.Info = info
	}
	return dev.Info.Firmware, "1.0.0", "04.04", nil
}

// translate maps session-level failures onto the J2534 error set and
// records the failure text.
func (m *Manager) translate(err error, context string) error {
	m.setLastError("%s: %v", context, err)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrTimeout):
		return ErrTimeout
	case errors.Is(err, session.ErrNotConnected):
		return ErrDeviceNotConnected
	default:
		return ErrFailed
	}
}
