package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// TCP connects to an adapter over a stream socket.
type TCP struct {
	address string

	mu   sync.Mutex
	conn net.Conn
}

// NewTCP prepares a TCP transport for host[:port].
func NewTCP(address string) *TCP {
	return &TCP{address: address}
}

// Connect dials the adapter with the default connect timeout and disables
// Nagle for low latency.
func (t *TCP) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: DefaultConnectTimeout}
	conn, err := d.Dial("tcp", t.address)
	if err != nil {
		return fmt.Errorf("connect %s: %w", t.address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	t.conn = conn
	return nil
}

// Disconnect closes the socket.
func (t *TCP) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// IsConnected reports whether the socket is open.
func (t *TCP) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send writes data to the socket.
func (t *TCP) Send(data []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, errors.New("not connected")
	}
	n, err := conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("send: %w", err)
	}
	return n, nil
}

// Receive reads whatever is available within timeout. Timeouts are not
// errors; a closed peer disconnects the transport and reports once.
func (t *TCP) Receive(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, errors.New("not connected")
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, nil
		}
		t.Disconnect()
		return nil, fmt.Errorf("receive: %w", err)
	}
	return buf[:n], nil
}
