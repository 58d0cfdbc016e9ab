package isotp

// Behavior selects how the transceiver reacts to protocol violations.
type Behavior int

const (
	// BehaviorDefensive resets and retries on unexpected frames, matching
	// ECUs in the field that emit frames out of turn.
	BehaviorDefensive Behavior = iota
	// BehaviorStrict surfaces every violation to the caller.
	BehaviorStrict
)

// Mode selects the addressing scheme.
type Mode int

const (
	// ModeStandard uses the full 8-byte CAN payload.
	ModeStandard Mode = iota
	// ModeExtended reserves one byte for the address extension.
	ModeExtended
)

type state int

const (
	stateIdle state = iota
	stateSending
	stateReceiving
)

// Transceiver is the ISO 15765-2 protocol machine for classic CAN.
// It enforces no timings; pace frames with the separation times it returns.
type Transceiver struct {
	behavior          Behavior
	width             int
	blockSize         uint8
	rxSeparationMicros uint16
	txSeparationMicros uint16

	state              state
	sendingPayload     []byte
	sendingSequence    uint8
	receivingPayload   []byte
	receivingSequence  uint8
	receivingPending    int
	receivingUnconfirmed int
}

// New creates a classic-CAN transceiver. Separation times are in µs.
func New(behavior Behavior, mode Mode, blockSize uint8, rxSeparationMicros, txSeparationMicros uint16) *Transceiver {
	width := standardFrameWidth
	if mode == ModeExtended {
		width = extendedFrameWidth
	}
	return &Transceiver{
		behavior:           behavior,
		width:              width,
		blockSize:          blockSize,
		rxSeparationMicros: rxSeparationMicros,
		txSeparationMicros: txSeparationMicros,
	}
}

// Idle reports whether the machine is between transfers.
func (t *Transceiver) Idle() bool {
	return t.state == stateIdle
}

// WritePDU submits an application PDU for transmission. Payloads shorter
// than the frame width go out as a single frame; longer ones start the
// segmented transfer.
func (t *Transceiver) WritePDU(data []byte) Action {
	if len(data) > MaxTransferSize {
		return violation("exceeding maximum transfer size")
	}
	if t.state != stateIdle {
		return violation("state machine not idle")
	}
	if len(data) < t.width {
		return writeFrames(0, singleFrame(data, t.width))
	}
	frame := firstFrame(uint16(len(data)), data, t.width)
	t.state = stateSending
	t.sendingPayload = append([]byte(nil), data[t.width-2:]...)
	t.sendingSequence = 1
	return writeFrames(0, frame)
}

// DidReceiveFrame feeds one inbound CAN frame through the state machine.
func (t *Transceiver) DidReceiveFrame(data []byte) Action {
	if len(data) != t.width {
		// Allow unpadded flow control, which some ECUs send.
		if !(len(data) == 3 && data[0] >= 0x30 && data[0] <= 0x32) {
			return violation("incoming frame does not match configured width")
		}
	}

	var action Action
	if t.state == stateSending {
		action = t.parseFlowControlFrame(data)
	} else {
		action = t.parseDataFrame(data)
	}
	if t.behavior == BehaviorStrict {
		return action
	}
	if action.Kind == ActionProtocolViolation {
		// Reset and retry the frame as data; a second failure is silently
		// ignored so a stray frame cannot wedge the machine.
		t.reset()
		action = t.parseDataFrame(data)
		if action.Kind == ActionProtocolViolation {
			return waitForMore()
		}
	}
	return action
}

func (t *Transceiver) parseFlowControlFrame(data []byte) Action {
	frame := Frame(data)
	if frame.FrameType() != FrameFlowControl {
		return violation("unexpected frame type while sending, expected flow control")
	}

	switch frame.FlowStatus() {
	case FlowClearToSend:
		unconfirmed := int(frame.BlockSize())
		if unconfirmed == 0 {
			unconfirmed = maxUnconfirmedFrames
		}
		separation := frame.SeparationMicros()
		if t.txSeparationMicros > separation {
			separation = t.txSeparationMicros
		}
		var frames []Frame
		for i := 0; i < unconfirmed; i++ {
			chunk := t.width - 1
			if len(t.sendingPayload) < chunk {
				chunk = len(t.sendingPayload)
			}
			frames = append(frames, consecutiveFrame(t.sendingSequence, t.sendingPayload, chunk, t.width))
			t.sendingPayload = t.sendingPayload[chunk:]
			if len(t.sendingPayload) == 0 {
				t.reset()
				break
			}
			t.sendingSequence = (t.sendingSequence + 1) & 0x0F
		}
		return writeFrames(separation, frames...)

	case FlowWait:
		return waitForMore()

	case FlowOverflow:
		return violation("received flow control with status overflow")

	default:
		return violation("received flow control with invalid status")
	}
}

func (t *Transceiver) parseDataFrame(data []byte) Action {
	frame := Frame(data)
	switch frame.FrameType() {
	case FrameSingle:
		if t.state != stateIdle {
			return violation("received single frame while not idle")
		}
		length := int(frame.SingleLength())
		if length == 0 {
			return violation("received single frame with zero length")
		}
		if length > len(data)-1 {
			return violation("received single frame with length exceeding payload")
		}
		if length > t.width-1 {
			return violation("received single frame with length exceeding frame width")
		}
		return process(append([]byte(nil), data[1:1+length]...))

	case FrameFirst:
		if t.state != stateIdle {
			return violation("received first frame while not idle")
		}
		length := int(frame.FirstLength())
		if length < t.width {
			return violation("received first frame with length below frame width")
		}
		t.receivingPayload = append([]byte(nil), data[2:]...)
		t.receivingPending = length - (t.width - 2)
		t.receivingUnconfirmed = int(t.blockSize)
		if t.receivingUnconfirmed == 0 {
			t.receivingUnconfirmed = maxUnconfirmedFrames
		}
		t.state = stateReceiving
		t.receivingSequence = 1
		return writeFrames(0, flowControlFrame(FlowClearToSend, t.blockSize, t.rxSeparationMicros, t.width))

	case FrameConsecutive:
		if t.state != stateReceiving {
			return violation("received consecutive frame while not receiving")
		}
		if frame.SequenceNumber() != t.receivingSequence {
			return violation("received consecutive frame with unexpected sequence number")
		}
		t.receivingSequence = (t.receivingSequence + 1) & 0x0F

		length := t.width - 1
		if t.receivingPending < length {
			length = t.receivingPending
		}
		t.receivingPayload = append(t.receivingPayload, data[1:1+length]...)
		t.receivingPending -= length
		if t.receivingPending == 0 {
			action := process(t.receivingPayload)
			t.reset()
			return action
		}

		t.receivingUnconfirmed--
		if t.receivingUnconfirmed > 0 {
			return waitForMore()
		}
		t.receivingUnconfirmed = int(t.blockSize)
		if t.receivingUnconfirmed == 0 {
			t.receivingUnconfirmed = maxUnconfirmedFrames
		}
		return writeFrames(0, flowControlFrame(FlowClearToSend, t.blockSize, t.rxSeparationMicros, t.width))

	default:
		return violation("unexpected frame type, expected single, first or consecutive")
	}
}

func (t *Transceiver) reset() {
	t.state = stateIdle
	t.sendingPayload = nil
	t.sendingSequence = 0
	t.receivingPayload = nil
	t.receivingSequence = 0
	t.receivingPending = 0
	t.receivingUnconfirmed = 0
}
