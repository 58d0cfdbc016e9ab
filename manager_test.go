package ecuconnect

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roffe/ecuconnect/pkg/pdu"
)

// simAdapter is an in-memory transport that behaves like an ECUconnect
// adapter: it parses command PDUs off the host stream and answers them.
type simAdapter struct {
	mu         sync.Mutex
	connected  bool
	stream     []byte
	commands   []pdu.PDU
	nextHandle uint8
	nextPeriodic uint8

	rx chan []byte
}

func newSimAdapter() *simAdapter {
	return &simAdapter{
		nextHandle:   1,
		nextPeriodic: 1,
		rx:           make(chan []byte, 256),
	}
}

func (a *simAdapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *simAdapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
}

func (a *simAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *simAdapter) Send(data []byte) (int, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return 0, errors.New("not connected")
	}
	a.stream = append(a.stream, data...)
	var replies []pdu.PDU
	for len(a.stream) > 0 {
		p, n := pdu.Parse(a.stream)
		if n == 0 {
			break
		}
		if n < 0 {
			a.stream = a.stream[-n:]
			continue
		}
		a.stream = a.stream[n:]
		a.commands = append(a.commands, p)
		if reply, ok := a.handle(p); ok {
			replies = append(replies, reply)
		}
	}
	a.mu.Unlock()

	for _, r := range replies {
		a.rx <- r.Serialize()
	}
	return len(data), nil
}

func (a *simAdapter) handle(p pdu.PDU) (pdu.PDU, bool) {
	switch p.Type {
	case pdu.TypePing:
		return pdu.Pong(p.Payload), true
	case pdu.TypeRequestInfo:
		return pdu.Info(pdu.DeviceInfo{
			Vendor:   "ECUconnect",
			Model:    "EC100",
			Hardware: "rev C",
			Serial:   "0042",
			Firmware: "2.1.0",
		}), true
	case pdu.TypeReadVoltage:
		return pdu.Voltage(12500), true
	case pdu.TypeOpenChannel, pdu.TypeOpenFDChannel:
		h := a.nextHandle
		a.nextHandle++
		return pdu.ChannelOpened(h), true
	case pdu.TypeCloseChannel:
		return pdu.ChannelClosed(p.ChannelHandle()), true
	case pdu.TypeSetArbitration:
		return pdu.Ok(), true
	case pdu.TypeSend:
		return pdu.Ok(), true
	case pdu.TypeStartPeriodicMessage:
		h := a.nextPeriodic
		a.nextPeriodic++
		return pdu.PeriodicMessageStarted(h), true
	case pdu.TypeEndPeriodicMessage:
		return pdu.PeriodicMessageEnded(p.ChannelHandle()), true
	}
	return pdu.PDU{}, false
}

func (a *simAdapter) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case data := <-a.rx:
		return data, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

// injectFrame delivers an asynchronous Received indication to the host.
func (a *simAdapter) injectFrame(handle uint8, id uint32, ext uint8, data []byte) {
	a.rx <- pdu.Received(handle, id, ext, data).Serialize()
}

// commandTypes returns the types of all commands seen, for wire-order
// assertions.
func (a *simAdapter) commandTypes() []pdu.Type {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []pdu.Type
	for _, c := range a.commands {
		out = append(out, c.Type)
	}
	return out
}

func (a *simAdapter) commandsOf(t pdu.Type) []pdu.PDU {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []pdu.PDU
	for _, c := range a.commands {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func openTestDevice(t *testing.T) (*Manager, *simAdapter, uint32, uint32) {
	t.Helper()
	m := NewManager()
	sim := newSimAdapter()

	deviceID, err := m.OpenDeviceWithTransport("", sim)
	if err != nil {
		t.Fatalf("OpenDevice: %v (%s)", err, m.LastError())
	}
	channelID, err := m.Connect(deviceID, CAN, 0, 500000)
	if err != nil {
		t.Fatalf("Connect: %v (%s)", err, m.LastError())
	}
	t.Cleanup(func() { m.CloseDevice(deviceID) })
	return m, sim, deviceID, channelID
}

func canMsg(id uint32, payload []byte) PassThruMsg {
	var msg PassThruMsg
	msg.ProtocolID = CAN
	data := []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	msg.SetData(append(data, payload...))
	return msg
}

func TestOpenDeviceCachesInfo(t *testing.T) {
	m := NewManager()
	sim := newSimAdapter()
	deviceID, err := m.OpenDeviceWithTransport("", sim)
	if err != nil {
		t.Fatal(err)
	}
	defer m.CloseDevice(deviceID)

	fw, dll, api, err := m.ReadVersion(deviceID)
	if err != nil {
		t.Fatal(err)
	}
	if fw != "2.1.0" || dll != "1.0.0" || api != "04.04" {
		t.Errorf("versions = %q %q %q", fw, dll, api)
	}
}

func TestConnectValidation(t *testing.T) {
	m := NewManager()
	sim := newSimAdapter()
	deviceID, _ := m.OpenDeviceWithTransport("", sim)
	defer m.CloseDevice(deviceID)

	if _, err := m.Connect(deviceID, ISO9141, 0, 10400); !errors.Is(err, ErrInvalidProtocolID) {
		t.Errorf("non-CAN protocol: %v", err)
	}
	if _, err := m.Connect(deviceID, CAN, 0, 0); !errors.Is(err, ErrInvalidBaudrate) {
		t.Errorf("zero baudrate: %v", err)
	}
	if _, err := m.Connect(deviceID, CAN, 0, 500000); err != nil {
		t.Fatalf("first channel: %v", err)
	}
	if _, err := m.Connect(deviceID, CAN, 0, 500000); !errors.Is(err, ErrChannelInUse) {
		t.Errorf("second channel: %v", err)
	}
}

func TestIDsAreUniqueAcrossSpaces(t *testing.T) {
	m := NewManager()
	sim := newSimAdapter()
	deviceID, _ := m.OpenDeviceWithTransport("", sim)
	defer m.CloseDevice(deviceID)
	channelID, err := m.Connect(deviceID, CAN, 0, 500000)
	if err != nil {
		t.Fatal(err)
	}
	if deviceID == channelID {
		t.Errorf("device and channel share ID %d", deviceID)
	}
}

func TestWriteMsgsBatching(t *testing.T) {
	m, sim, _, channelID := openTestDevice(t)

	msgs := []PassThruMsg{
		canMsg(0x7E0, []byte{0x01}),
		canMsg(0x7E0, []byte{0x02}),
		canMsg(0x7E0, []byte{0x03}),
		canMsg(0x7E8, []byte{0x04}),
		canMsg(0x7E8, []byte{0x05}),
	}
	sent, err := m.WriteMsgs(channelID, msgs, time.Second)
	if err != nil {
		t.Fatalf("WriteMsgs: %v (%s)", err, m.LastError())
	}
	if sent != 5 {
		t.Errorf("sent = %d, want 5", sent)
	}

	// Wire order: SetArbitration(7E0), Send(batch 3), SetArbitration(7E8),
	// Send(batch 2). The open-channel command comes first.
	var relevant []pdu.Type
	for _, typ := range sim.commandTypes() {
		if typ == pdu.TypeSetArbitration || typ == pdu.TypeSend {
			relevant = append(relevant, typ)
		}
	}
	want := []pdu.Type{pdu.TypeSetArbitration, pdu.TypeSend, pdu.TypeSetArbitration, pdu.TypeSend}
	if len(relevant) != len(want) {
		t.Fatalf("wire sequence = %v, want %v", relevant, want)
	}
	for i := range want {
		if relevant[i] != want[i] {
			t.Fatalf("wire sequence = %v, want %v", relevant, want)
		}
	}

	arbs := sim.commandsOf(pdu.TypeSetArbitration)
	arb0, _ := pdu.ParseArbitration(arbs[0].Payload[1:])
	arb1, _ := pdu.ParseArbitration(arbs[1].Payload[1:])
	if arb0.Request != 0x7E0 || arb1.Request != 0x7E8 {
		t.Errorf("arbitrations = %X, %X", arb0.Request, arb1.Request)
	}

	sends := sim.commandsOf(pdu.TypeSend)
	// First batch: handle ‖ 3 × {len ‖ data}.
	want0 := []byte{0x01, 0x01, 0x01, 0x01, 0x02, 0x01, 0x03}
	if !bytes.Equal(sends[0].Payload, want0) {
		t.Errorf("batch 1 payload = % X, want % X", sends[0].Payload, want0)
	}
}

func TestWriteMsgsArbitrationSuppression(t *testing.T) {
	m, sim, _, channelID := openTestDevice(t)

	msgs := []PassThruMsg{canMsg(0x7E0, []byte{0x01})}
	if _, err := m.WriteMsgs(channelID, msgs, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := m.WriteMsgs(channelID, msgs, time.Second); err != nil {
		t.Fatal(err)
	}

	if got := len(sim.commandsOf(pdu.TypeSetArbitration)); got != 1 {
		t.Errorf("SetArbitration issued %d times, want 1 (suppressed)", got)
	}
	if got := len(sim.commandsOf(pdu.TypeSend)); got != 2 {
		t.Errorf("Send issued %d times, want 2", got)
	}
}

func TestWriteMsgsProtocolMismatch(t *testing.T) {
	m, _, _, channelID := openTestDevice(t)

	msg := canMsg(0x7E0, []byte{0x01})
	msg.ProtocolID = ISO15765
	if _, err := m.WriteMsgs(channelID, []PassThruMsg{msg}, time.Second); !errors.Is(err, ErrMsgProtocolID) {
		t.Errorf("err = %v, want ErrMsgProtocolID", err)
	}
}

func TestReadMsgsDeliversFrames(t *testing.T) {
	m, sim, _, channelID := openTestDevice(t)

	sim.injectFrame(1, 0x7E8, 0, []byte{0x02, 0x41, 0x0C})

	msgs, err := m.ReadMsgs(channelID, 4, time.Second)
	if err != nil {
		t.Fatalf("ReadMsgs: %v (%s)", err, m.LastError())
	}
	if len(msgs) != 1 {
		t.Fatalf("msgs = %d, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.ProtocolID != CAN {
		t.Errorf("ProtocolID = %d", msg.ProtocolID)
	}
	if msg.DataSize != 7 {
		t.Errorf("DataSize = %d, want 7", msg.DataSize)
	}
	wantData := []byte{0x00, 0x00, 0x07, 0xE8, 0x02, 0x41, 0x0C}
	if !bytes.Equal(msg.DataBytes(), wantData) {
		t.Errorf("data = % X, want % X", msg.DataBytes(), wantData)
	}
	if msg.RxStatus&CAN_29BIT_ID != 0 {
		t.Error("11-bit frame flagged as 29-bit")
	}
}

func TestReadMsgs29BitFlag(t *testing.T) {
	m, sim, _, channelID := openTestDevice(t)

	sim.injectFrame(1, 0x18DAF110, 1, []byte{0x01})
	msgs, err := m.ReadMsgs(channelID, 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].RxStatus&CAN_29BIT_ID == 0 {
		t.Error("29-bit frame not flagged")
	}
}

func TestReadMsgsTimeoutAndEmpty(t *testing.T) {
	m, _, _, channelID := openTestDevice(t)

	if _, err := m.ReadMsgs(channelID, 1, 50*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("with timeout: %v, want ErrTimeout", err)
	}
	if _, err := m.ReadMsgs(channelID, 1, 0); !errors.Is(err, ErrBufferEmpty) {
		t.Errorf("without timeout: %v, want ErrBufferEmpty", err)
	}
}

func TestFiltersDropAndPass(t *testing.T) {
	m, sim, _, channelID := openTestDevice(t)

	mask := canMsg(0xFFFFFFFF, nil)
	pattern := canMsg(0x7E8, nil)
	filterID, err := m.StartMsgFilter(channelID, PASS_FILTER, &mask, &pattern, nil)
	if err != nil {
		t.Fatalf("StartMsgFilter: %v (%s)", err, m.LastError())
	}

	sim.injectFrame(1, 0x7E8, 0, []byte{0x01}) // passes
	sim.injectFrame(1, 0x123, 0, []byte{0x02}) // filtered out
	sim.injectFrame(1, 0x7E8, 0, []byte{0x03}) // passes

	deadline := time.Now().Add(2 * time.Second)
	var got []PassThruMsg
	for len(got) < 2 && time.Now().Before(deadline) {
		msgs, _ := m.ReadMsgs(channelID, 4, 100*time.Millisecond)
		got = append(got, msgs...)
	}
	if len(got) != 2 {
		t.Fatalf("received %d messages, want 2", len(got))
	}
	if got[0].Data[4] != 0x01 || got[1].Data[4] != 0x03 {
		t.Errorf("wrong frames passed the filter")
	}

	if err := m.StopMsgFilter(channelID, filterID); err != nil {
		t.Errorf("StopMsgFilter: %v", err)
	}
}

func TestLoopback(t *testing.T) {
	m, _, _, channelID := openTestDevice(t)

	if err := m.SetConfig(channelID, []SConfig{{Parameter: LOOPBACK, Value: 1}}); err != nil {
		t.Fatal(err)
	}

	msgs := []PassThruMsg{canMsg(0x7E0, []byte{0xAB})}
	if _, err := m.WriteMsgs(channelID, msgs, time.Second); err != nil {
		t.Fatal(err)
	}

	got, err := m.ReadMsgs(channelID, 1, time.Second)
	if err != nil {
		t.Fatalf("loopback entry missing: %v", err)
	}
	if got[0].RxStatus&TX_MSG_TYPE == 0 {
		t.Error("loopback entry lacks TX_MSG_TYPE")
	}
	if !bytes.Equal(got[0].DataBytes(), msgs[0].DataBytes()) {
		t.Error("loopback data mismatch")
	}
}

func TestIoctlVoltageAndClears(t *testing.T) {
	m, sim, deviceID, channelID := openTestDevice(t)

	var millivolts uint32
	if err := m.Ioctl(deviceID, READ_VBATT, nil, &millivolts); err != nil {
		t.Fatalf("READ_VBATT: %v", err)
	}
	if millivolts != 12500 {
		t.Errorf("voltage = %d, want 12500", millivolts)
	}

	// Channel ID also resolves for the device-level ioctl.
	if err := m.Ioctl(channelID, READ_PROG_VOLTAGE, nil, &millivolts); err != nil {
		t.Errorf("READ_PROG_VOLTAGE via channel: %v", err)
	}

	sim.injectFrame(1, 0x100, 0, []byte{0x01})
	time.Sleep(300 * time.Millisecond)
	if err := m.Ioctl(channelID, CLEAR_RX_BUFFER, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadMsgs(channelID, 1, 0); !errors.Is(err, ErrBufferEmpty) {
		t.Errorf("queue not cleared: %v", err)
	}

	if err := m.Ioctl(channelID, 0x77, nil, nil); !errors.Is(err, ErrInvalidIoctlID) {
		t.Errorf("unknown ioctl: %v", err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	m, _, _, channelID := openTestDevice(t)

	if err := m.SetConfig(channelID, []SConfig{
		{Parameter: DATA_RATE, Value: 250000},
		{Parameter: LOOPBACK, Value: 1},
		{Parameter: 0x9999, Value: 7}, // unknown, silently ignored
	}); err != nil {
		t.Fatal(err)
	}

	params := []SConfig{{Parameter: DATA_RATE}, {Parameter: LOOPBACK}}
	if err := m.GetConfig(channelID, params); err != nil {
		t.Fatal(err)
	}
	if params[0].Value != 250000 || params[1].Value != 1 {
		t.Errorf("config = %+v", params)
	}
}

func TestPeriodicMessages(t *testing.T) {
	m, sim, _, channelID := openTestDevice(t)

	msg := canMsg(0x7DF, []byte{0x02, 0x01, 0x00})
	msgID, err := m.StartPeriodicMsg(channelID, &msg, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("StartPeriodicMsg: %v (%s)", err, m.LastError())
	}

	starts := sim.commandsOf(pdu.TypeStartPeriodicMessage)
	if len(starts) != 1 {
		t.Fatalf("StartPeriodicMessage PDUs = %d", len(starts))
	}
	// interval byte = min(200/10, 255) = 20
	if starts[0].Payload[0] != 20 {
		t.Errorf("interval byte = %d, want 20", starts[0].Payload[0])
	}
	arb, _ := pdu.ParseArbitration(starts[0].Payload[1:])
	if arb.Request != 0x7DF || arb.ReplyMask != 0xFFFFFFFF {
		t.Errorf("periodic arbitration = %+v", arb)
	}

	if err := m.StopPeriodicMsg(channelID, msgID); err != nil {
		t.Errorf("StopPeriodicMsg: %v", err)
	}
	if err := m.StopPeriodicMsg(channelID, msgID); !errors.Is(err, ErrInvalidMsgID) {
		t.Errorf("double stop: %v", err)
	}
}

func TestLastError(t *testing.T) {
	m := NewManager()
	if _, err := m.Connect(42, CAN, 0, 500000); !errors.Is(err, ErrInvalidDeviceID) {
		t.Fatalf("err = %v", err)
	}
	if m.LastError() == "" {
		t.Error("last error not recorded")
	}
}
