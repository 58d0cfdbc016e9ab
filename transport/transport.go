// Package transport provides the byte transports connecting the host to an
// ECUconnect adapter: TCP, BLE GATT (build tag ble) and a serial bridge.
//
// A Transport moves opaque byte buffers; framing happens a layer up. One
// Receive may return a partial PDU or several PDUs, callers must buffer.
package transport

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTCPAddress is where an ECUconnect adapter listens out of the box.
	DefaultTCPAddress = "192.168.42.42:129"
	// DefaultConnectTimeout bounds transport connection establishment.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultReceiveTimeout is the per-receive timeout unless overridden.
	DefaultReceiveTimeout = 1 * time.Second
)

// Transport is the port the session layer talks through.
type Transport interface {
	// Connect establishes the link.
	Connect() error
	// Disconnect tears the link down. Safe to call repeatedly.
	Disconnect()
	// IsConnected reports link state.
	IsConnected() bool
	// Send writes the buffer, returning the number of bytes written.
	Send(data []byte) (int, error)
	// Receive waits up to timeout for data. A timeout returns an empty
	// buffer and a nil error; a remote close returns an error once and
	// leaves the transport disconnected.
	Receive(timeout time.Duration) ([]byte, error)
}

// Kind enumerates the transport implementations.
type Kind int

const (
	KindTCP Kind = iota
	KindBLE
	KindSerial
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindBLE:
		return "ble"
	case KindSerial:
		return "serial"
	default:
		return "unknown"
	}
}

// Endpoint is a parsed connection string.
type Endpoint struct {
	Kind Kind
	// Address is host[:port] for TCP, a device name or MAC for BLE, a
	// port name for serial.
	Address string
}

// ParseConnectionString resolves a Pass-Thru device name into an endpoint.
//
//	""                     -> TCP default address
//	"TCP:host[:port]"      -> TCP
//	"BLE:name or MAC"      -> BLE
//	"serial:port"          -> serial bridge
//	"192.168.4.1:129"      -> TCP (dotted, digits/dots/colons only)
//	anything else          -> BLE device name
func ParseConnectionString(name string) Endpoint {
	if name == "" {
		return Endpoint{Kind: KindTCP, Address: DefaultTCPAddress}
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "tcp:"):
		addr := name[4:]
		if addr == "" {
			addr = DefaultTCPAddress
		}
		return Endpoint{Kind: KindTCP, Address: withDefaultPort(addr)}
	case strings.HasPrefix(lower, "ble:"):
		return Endpoint{Kind: KindBLE, Address: name[4:]}
	case strings.HasPrefix(lower, "serial:"):
		return Endpoint{Kind: KindSerial, Address: name[7:]}
	}
	if looksLikeHostAddress(name) {
		return Endpoint{Kind: KindTCP, Address: withDefaultPort(name)}
	}
	return Endpoint{Kind: KindBLE, Address: name}
}

// looksLikeHostAddress reports whether name is a dotted numeric host, e.g.
// "192.168.4.1" or "10.0.0.2:129".
func looksLikeHostAddress(name string) bool {
	hasDot := false
	for _, r := range name {
		switch {
		case r == '.':
			hasDot = true
		case r >= '0' && r <= '9', r == ':':
		default:
			return false
		}
	}
	return hasDot
}

func withDefaultPort(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}
	return addr + ":129"
}

// New builds the transport for an endpoint.
func New(ep Endpoint) (Transport, error) {
	switch ep.Kind {
	case KindTCP:
		return NewTCP(ep.Address), nil
	case KindBLE:
		if newBLE == nil {
			return nil, fmt.Errorf("BLE support not compiled in (build with -tags ble)")
		}
		return newBLE(ep.Address), nil
	case KindSerial:
		return NewSerial(ep.Address), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %d", ep.Kind)
	}
}

// newBLE is installed by the ble build-tagged file.
var newBLE func(address string) Transport
