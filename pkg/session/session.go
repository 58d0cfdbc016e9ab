// Package session implements the request/response layer of the adapter
// protocol: it serializes PDUs onto a transport, waits for the matching
// typed reply and funnels asynchronous Received frames into a FIFO.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roffe/ecuconnect/pkg/pdu"
	"github.com/roffe/ecuconnect/transport"
)

// pollQuantum bounds cancellation latency of the synchronous receive loop.
const pollQuantum = 50 * time.Millisecond

// ErrTimeout is returned when no matching response arrives in time.
var ErrTimeout = errors.New("response timeout")

// ErrNotConnected is returned for operations on a closed transport.
var ErrNotConnected = errors.New("not connected")

// AdapterError is a negative PDU from the adapter.
type AdapterError struct {
	Type pdu.Type
}

func (e *AdapterError) Error() string {
	return pdu.PDU{Type: e.Type}.ErrorMessage()
}

// Session owns one transport and guarantees at most one in-flight request.
// PDUs are dispatched in exact byte-arrival order: Received frames go to
// the frame FIFO, the awaited response fills the single response slot, and
// anything else (like a late Ok after a timeout) is dropped.
type Session struct {
	mu   sync.Mutex
	cond *sync.Cond

	transport transport.Transport
	buffer    []byte
	frames    []pdu.CANFrame

	expectedSet bool
	expected    pdu.Type
	captured    *pdu.PDU

	asyncMode bool
	pumpStop  chan struct{}

	// Debug dumps every PDU crossing the wire.
	Debug bool
}

// New wraps a transport in a session.
func New(t transport.Transport) *Session {
	s := &Session{transport: t}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Connect establishes the transport link.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return errors.New("no transport configured")
	}
	return s.transport.Connect()
}

// Disconnect tears the link down and clears all buffered state. An
// in-flight synchronous request ends at its next transport read: with that
// read's error where the transport reports the closed link, otherwise at
// its timeout.
func (s *Session) Disconnect() {
	s.SetAsyncMode(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport != nil {
		s.transport.Disconnect()
	}
	s.buffer = nil
	s.frames = nil
	s.cond.Broadcast()
}

// IsConnected reports the transport link state.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil && s.transport.IsConnected()
}

// SetAsyncMode toggles the background pumper. With it on, a goroutine
// reads the transport and dispatches PDUs; SendAndReceive waits on the
// response slot instead of polling the wire itself.
func (s *Session) SetAsyncMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled == s.asyncMode {
		return
	}
	s.asyncMode = enabled
	if enabled {
		s.pumpStop = make(chan struct{})
		go s.pump(s.pumpStop)
	} else if s.pumpStop != nil {
		close(s.pumpStop)
		s.pumpStop = nil
	}
}

func (s *Session) pump(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		data, err := s.transport.Receive(pollQuantum)
		if err != nil {
			time.Sleep(pollQuantum)
			continue
		}
		if len(data) == 0 {
			continue
		}
		s.mu.Lock()
		s.feedLocked(data)
		s.mu.Unlock()
	}
}

// SendAndReceive transmits one PDU and waits up to timeout for a reply of
// the expected type or a negative PDU. Concurrent callers are serialized
// on the response slot.
func (s *Session) SendAndReceive(p pdu.PDU, expected pdu.Type, timeout time.Duration) (pdu.PDU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.expectedSet {
		s.cond.Wait()
	}
	if s.transport == nil || !s.transport.IsConnected() {
		return pdu.PDU{}, ErrNotConnected
	}

	if s.Debug {
		log.Printf("session out: %s", p)
	}
	if _, err := s.transport.Send(p.Serialize()); err != nil {
		return pdu.PDU{}, fmt.Errorf("send: %w", err)
	}

	s.expectedSet = true
	s.expected = expected
	s.captured = nil
	defer func() {
		s.expectedSet = false
		s.captured = nil
		s.cond.Broadcast()
	}()

	deadline := time.Now().Add(timeout)
	if s.asyncMode {
		waker := time.AfterFunc(timeout, s.cond.Broadcast)
		defer waker.Stop()
		for s.captured == nil && time.Now().Before(deadline) {
			s.cond.Wait()
		}
	} else {
		for s.captured == nil && time.Now().Before(deadline) {
			quantum := pollQuantum
			if remaining := time.Until(deadline); remaining < quantum {
				quantum = remaining
			}
			s.mu.Unlock()
			data, err := s.transport.Receive(quantum)
			s.mu.Lock()
			if err != nil {
				return pdu.PDU{}, fmt.Errorf("receive: %w", err)
			}
			if len(data) > 0 {
				s.feedLocked(data)
			}
		}
	}

	if s.captured == nil {
		return pdu.PDU{}, ErrTimeout
	}
	resp := *s.captured
	if resp.IsError() {
		return resp, &AdapterError{Type: resp.Type}
	}
	return resp, nil
}

// ReceiveMessages drains the asynchronous frame FIFO. In synchronous mode
// it performs one transport read first; in async mode the pumper feeds the
// FIFO and this call waits up to timeout for something to arrive.
func (s *Session) ReceiveMessages(timeout time.Duration) ([]pdu.CANFrame, error) {
	s.mu.Lock()
	if s.asyncMode {
		defer s.mu.Unlock()
		waker := time.AfterFunc(timeout, s.cond.Broadcast)
		defer waker.Stop()
		deadline := time.Now().Add(timeout)
		for len(s.frames) == 0 && time.Now().Before(deadline) {
			s.cond.Wait()
		}
		out := s.frames
		s.frames = nil
		return out, nil
	}

	t := s.transport
	s.mu.Unlock()
	if t == nil || !t.IsConnected() {
		return nil, ErrNotConnected
	}
	data, err := t.Receive(timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data) > 0 {
		s.feedLocked(data)
	}
	out := s.frames
	s.frames = nil
	if err != nil {
		return out, fmt.Errorf("receive: %w", err)
	}
	return out, nil
}

// feedLocked runs received bytes through the PDU parser and dispatches
// every complete PDU. Callers hold s.mu.
func (s *Session) feedLocked(data []byte) {
	s.buffer = append(s.buffer, data...)
	for len(s.buffer) > 0 {
		p, n := pdu.Parse(s.buffer)
		if n == 0 {
			return
		}
		if n < 0 {
			s.buffer = s.buffer[-n:]
			continue
		}
		s.buffer = s.buffer[n:]
		s.dispatchLocked(p)
	}
}

func (s *Session) dispatchLocked(p pdu.PDU) {
	if s.Debug {
		log.Printf("session in: %s", p)
	}
	switch {
	case p.Type == pdu.TypeReceived || p.Type == pdu.TypeReceivedCompressed:
		frame, err := p.ReceivedFrame()
		if err != nil {
			log.Printf("session: dropping bad received frame: %v", err)
			return
		}
		s.frames = append(s.frames, frame)
		s.cond.Broadcast()

	case s.expectedSet && (p.Type == s.expected || p.IsError() || acceptableAlternative(s.expected, p.Type)):
		captured := p
		s.captured = &captured
		s.cond.Broadcast()

	default:
		// Unsolicited response, e.g. an Ok for a fire-and-forget send or a
		// reply that arrived after its request timed out.
	}
}

// acceptableAlternative covers firmware variants that acknowledge
// endPeriodicMessage with a plain Ok instead of PeriodicMessageEnded.
func acceptableAlternative(expected, got pdu.Type) bool {
	return expected == pdu.TypePeriodicMessageEnded && got == pdu.TypeOk
}
