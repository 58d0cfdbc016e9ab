package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const defaultSerialBaudrate = 921600

// Serial talks to an adapter attached through a USB serial bridge.
// The address is "port" or "port@baud", e.g. "/dev/ttyUSB0@2000000".
type Serial struct {
	portName string
	baudrate int

	mu   sync.Mutex
	port serial.Port
}

// NewSerial prepares a serial transport.
func NewSerial(address string) *Serial {
	s := &Serial{portName: address, baudrate: defaultSerialBaudrate}
	if at := strings.LastIndex(address, "@"); at > 0 {
		if baud, err := strconv.Atoi(address[at+1:]); err == nil && baud > 0 {
			s.portName = address[:at]
			s.baudrate = baud
		}
	}
	return s
}

// Connect opens the port in 8N1 mode.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	mode := &serial.Mode{
		BaudRate: s.baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.portName, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.portName, err)
	}
	port.ResetInputBuffer()
	s.port = port
	return nil
}

// Disconnect closes the port.
func (s *Serial) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
}

// IsConnected reports whether the port is open.
func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Send writes data to the port.
func (s *Serial) Send(data []byte) (int, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return 0, errors.New("not connected")
	}
	n, err := port.Write(data)
	if err != nil {
		return n, fmt.Errorf("send: %w", err)
	}
	return n, nil
}

// Receive reads whatever arrives within timeout.
func (s *Serial) Receive(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil, errors.New("not connected")
	}

	port.SetReadTimeout(timeout)
	buf := make([]byte, 4096)
	n, err := port.Read(buf)
	if err != nil {
		s.Disconnect()
		return nil, fmt.Errorf("receive: %w", err)
	}
	return buf[:n], nil
}
