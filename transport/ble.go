//go:build ble
// +build ble

package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

var bleAdapter = bluetooth.DefaultAdapter

func init() {
	newBLE = func(address string) Transport {
		return NewBLE(address)
	}
}

// BLE GATT UUIDs of the adapter's wire service.
var (
	bleServiceUUID = bluetooth.New16BitUUID(0xFFF1)
	bleTxCharUUID  = bluetooth.New16BitUUID(0xFFF2)
	bleRxCharUUID  = bluetooth.New16BitUUID(0xFFF3)
)

const bleScanTimeout = 10 * time.Second

// BLE talks to an adapter over Bluetooth Low Energy. Writes go to the TX
// characteristic without response; inbound data arrives via notifications
// on the RX characteristic and is buffered until Receive drains it.
type BLE struct {
	address string

	mu        sync.Mutex
	device    bluetooth.Device
	tx        bluetooth.DeviceCharacteristic
	connected bool

	notify chan []byte
}

// NewBLE prepares a BLE transport. The address is a device name or a MAC
// in XX:XX:XX:XX:XX:XX form.
func NewBLE(address string) *BLE {
	return &BLE{
		address: address,
		notify:  make(chan []byte, 256),
	}
}

// Connect scans for the device, connects and wires up the GATT pipes.
func (b *BLE) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	if err := bleAdapter.Enable(); err != nil {
		return fmt.Errorf("enable BLE adapter: %w", err)
	}

	result, err := b.scan()
	if err != nil {
		return err
	}

	device, err := bleAdapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", b.address, err)
	}

	svcs, err := device.DiscoverServices([]bluetooth.UUID{bleServiceUUID})
	if err != nil || len(svcs) == 0 {
		device.Disconnect()
		return fmt.Errorf("discover wire service: %w", err)
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{bleTxCharUUID, bleRxCharUUID})
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("discover characteristics: %w", err)
	}

	var haveTx, haveRx bool
	for _, char := range chars {
		switch char.String() {
		case bleTxCharUUID.String():
			b.tx = char
			haveTx = true
		case bleRxCharUUID.String():
			if err := char.EnableNotifications(b.onNotify); err != nil {
				device.Disconnect()
				return fmt.Errorf("enable notifications: %w", err)
			}
			haveRx = true
		}
	}
	if !haveTx || !haveRx {
		device.Disconnect()
		return errors.New("device is missing the wire characteristics")
	}

	b.device = device
	b.connected = true
	return nil
}

func (b *BLE) scan() (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	wantMAC := strings.Count(b.address, ":") == 5
	start := time.Now()

	err := bleAdapter.Scan(func(adapter *bluetooth.Adapter, device bluetooth.ScanResult) {
		if time.Since(start) > bleScanTimeout {
			adapter.StopScan()
			return
		}
		match := false
		if wantMAC {
			match = strings.EqualFold(device.Address.String(), b.address)
		} else {
			match = device.LocalName() == b.address
		}
		if match {
			adapter.StopScan()
			found <- device
		}
	})
	if err != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("scan: %w", err)
	}

	select {
	case result := <-found:
		return result, nil
	default:
		return bluetooth.ScanResult{}, fmt.Errorf("device %q not found", b.address)
	}
}

func (b *BLE) onNotify(buf []byte) {
	data := append([]byte(nil), buf...)
	select {
	case b.notify <- data:
	default:
		// Queue full; drop the oldest chunk to keep the stream moving.
		select {
		case <-b.notify:
		default:
		}
		b.notify <- data
	}
}

// Disconnect drops the GATT connection.
func (b *BLE) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		b.device.Disconnect()
		b.connected = false
	}
}

// IsConnected reports the connection state.
func (b *BLE) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Send writes data to the TX characteristic without response, chunked to
// the usual 244-byte ATT payload.
func (b *BLE) Send(data []byte) (int, error) {
	b.mu.Lock()
	connected := b.connected
	tx := b.tx
	b.mu.Unlock()
	if !connected {
		return 0, errors.New("not connected")
	}

	const chunkSize = 244
	total := 0
	for len(data) > 0 {
		chunk := data
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}
		n, err := tx.WriteWithoutResponse(chunk)
		total += n
		if err != nil {
			return total, fmt.Errorf("send: %w", err)
		}
		data = data[len(chunk):]
	}
	return total, nil
}

// Receive returns buffered notification data, waiting up to timeout.
func (b *BLE) Receive(timeout time.Duration) ([]byte, error) {
	if !b.IsConnected() {
		return nil, errors.New("not connected")
	}
	select {
	case data := <-b.notify:
		// Drain whatever else has queued up without blocking.
		for {
			select {
			case more := <-b.notify:
				data = append(data, more...)
			default:
				return data, nil
			}
		}
	case <-time.After(timeout):
		return nil, nil
	}
}
