package ecuconnect

import (
	"time"

	"github.com/roffe/ecuconnect/pkg/pdu"
	"github.com/roffe/ecuconnect/pkg/session"
	"github.com/roffe/ecuconnect/transport"
)

// Device is one open adapter: its transport+session pair, the cached info
// snapshot, its channels and the polling goroutine handle.
type Device struct {
	ID               uint32
	ConnectionString string

	Transport transport.Transport
	Session   *session.Session

	Info pdu.DeviceInfo

	channels map[uint32]*Channel

	stopPolling chan struct{}
	pollingDone chan struct{}
}

// pollInterval is how long one receive pass waits for adapter data, which
// also bounds how quickly the poller observes its stop flag.
const pollInterval = 100 * time.Millisecond

// poll runs as the device's polling goroutine: it pulls received frames
// from the session and fans them into the channel RX queues.
func (m *Manager) poll(deviceID uint32, stop chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		m.mu.Lock()
		dev := m.devices[deviceID]
		m.mu.Unlock()
		if dev == nil {
			return
		}
		if !dev.Session.IsConnected() {
			time.Sleep(pollInterval)
			continue
		}

		frames, err := dev.Session.ReceiveMessages(pollInterval)
		if err != nil {
			time.Sleep(pollInterval)
			continue
		}
		if len(frames) == 0 {
			continue
		}

		m.mu.Lock()
		dev = m.devices[deviceID]
		if dev == nil {
			m.mu.Unlock()
			return
		}
		for _, frame := range frames {
			for _, ch := range dev.channels {
				m.deliver(ch, frame)
			}
		}
		m.mu.Unlock()
	}
}

// deliver filters one received frame and queues it as a Pass-Thru message.
// Callers hold the manager mutex.
func (m *Manager) deliver(ch *Channel, frame pdu.CANFrame) {
	if !ch.passesFilters(frame.ID, frame.Data) {
		return
	}

	var msg PassThruMsg
	msg.ProtocolID = ch.ProtocolID
	msg.Timestamp = uint32(frame.Timestamp)
	data := make([]byte, 0, 4+len(frame.Data))
	data = append(data, byte(frame.ID>>24), byte(frame.ID>>16), byte(frame.ID>>8), byte(frame.ID))
	data = append(data, frame.Data...)
	msg.SetData(data)
	if frame.ID > 0x7FF {
		msg.RxStatus |= CAN_29BIT_ID
	}

	ch.pushRx(msg)
}
