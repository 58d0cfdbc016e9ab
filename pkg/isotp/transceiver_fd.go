package isotp

// CAN-FD DLC handling. Frames may only be 1-8, 12, 16, 20, 24, 32, 48 or
// 64 bytes long; emitted frames use the smallest valid length that fits.

const (
	maxFDStandardFrameWidth = 64
	maxFDExtendedFrameWidth = 63
)

// ValidFDLength reports whether length is a legal CAN-FD frame length.
func ValidFDLength(length int) bool {
	switch length {
	case 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64:
		return true
	default:
		return false
	}
}

// NextValidFDLength rounds length up to the next legal CAN-FD frame length.
func NextValidFDLength(length int) int {
	switch {
	case length <= 8:
		return length
	case length <= 12:
		return 12
	case length <= 16:
		return 16
	case length <= 20:
		return 20
	case length <= 24:
		return 24
	case length <= 32:
		return 32
	case length <= 48:
		return 48
	default:
		return 64
	}
}

func validFDFrameWidth(width int, extended bool) bool {
	if extended {
		return width <= maxFDExtendedFrameWidth && ValidFDLength(width+1)
	}
	return width <= maxFDStandardFrameWidth && ValidFDLength(width)
}

func nextValidFDFrameWidth(required int, extended bool) int {
	if extended {
		return NextValidFDLength(required+1) - 1
	}
	return NextValidFDLength(required)
}

// singleFramePayloadCapacityFD is the data capacity of an SF at the given
// width: the escape form spends a second PCI byte on the length.
func singleFramePayloadCapacityFD(width int) int {
	if width > standardFrameWidth {
		return width - 2
	}
	return width - 1
}

// TransceiverFD is the ISO 15765-2 protocol machine for CAN-FD channels.
// It enforces DLC validity and transmits with dynamic frame widths.
type TransceiverFD struct {
	behavior           Behavior
	mode               Mode
	maxFrameWidth      int
	blockSize          uint8
	rxSeparationMicros uint16
	txSeparationMicros uint16

	state                state
	sendingPayload       []byte
	sendingOffset        int
	sendingSequence      uint8
	receivingPayload     []byte
	receivingSequence    uint8
	receivingPending      int
	receivingUnconfirmed  int
}

// NewFD creates a CAN-FD transceiver. frameWidth caps the emitted frame
// width; 0 selects the maximum for the mode (64, or 63 extended).
func NewFD(behavior Behavior, mode Mode, blockSize uint8, rxSeparationMicros, txSeparationMicros uint16, frameWidth int) *TransceiverFD {
	return &TransceiverFD{
		behavior:           behavior,
		mode:               mode,
		maxFrameWidth:      resolveMaxFrameWidth(mode, frameWidth),
		blockSize:          blockSize,
		rxSeparationMicros: rxSeparationMicros,
		txSeparationMicros: txSeparationMicros,
	}
}

func resolveMaxFrameWidth(mode Mode, requested int) int {
	extended := mode == ModeExtended
	minWidth, maxWidth := standardFrameWidth, maxFDStandardFrameWidth
	if extended {
		minWidth, maxWidth = extendedFrameWidth, maxFDExtendedFrameWidth
	}
	if requested == 0 {
		return maxWidth
	}
	clamped := requested
	if clamped < minWidth {
		clamped = minWidth
	}
	if clamped > maxWidth {
		clamped = maxWidth
	}
	if !validFDFrameWidth(clamped, extended) {
		clamped = nextValidFDFrameWidth(clamped, extended)
	}
	if clamped > maxWidth {
		clamped = maxWidth
	}
	return clamped
}

// Idle reports whether the machine is between transfers.
func (t *TransceiverFD) Idle() bool {
	return t.state == stateIdle
}

func (t *TransceiverFD) dynamicWidthFor(required int) int {
	width := nextValidFDFrameWidth(required, t.mode == ModeExtended)
	if width > t.maxFrameWidth {
		width = t.maxFrameWidth
	}
	return width
}

func (t *TransceiverFD) singleFrame(data []byte) Frame {
	if len(data) <= 7 {
		width := t.dynamicWidthFor(len(data) + 1)
		out := make([]byte, 0, width)
		out = append(out, byte(FrameSingle)|byte(len(data)))
		out = append(out, data...)
		return pad(out, width)
	}
	// Escape form: PCI byte 0x00, length in the second byte.
	width := t.dynamicWidthFor(len(data) + 2)
	out := make([]byte, 0, width)
	out = append(out, byte(FrameSingle), byte(len(data)))
	out = append(out, data...)
	return pad(out, width)
}

func (t *TransceiverFD) firstFrame(pduLength uint16, data []byte, count int) Frame {
	width := t.dynamicWidthFor(count + 2)
	out := make([]byte, 0, width)
	out = append(out, byte(FrameFirst)|byte(pduLength>>8), byte(pduLength))
	out = append(out, data[:count]...)
	return pad(out, width)
}

func (t *TransceiverFD) consecutiveFrame(sequenceNumber uint8, data []byte, count int) Frame {
	width := t.dynamicWidthFor(count + 1)
	out := make([]byte, 0, width)
	out = append(out, byte(FrameConsecutive)|sequenceNumber&0x0F)
	out = append(out, data[:count]...)
	return pad(out, width)
}

func (t *TransceiverFD) flowControlFrame() Frame {
	width := t.dynamicWidthFor(3)
	out := make([]byte, 0, width)
	out = append(out, byte(FrameFlowControl)|byte(FlowClearToSend), t.blockSize, encodeSeparationMicros(t.rxSeparationMicros))
	return pad(out, width)
}

// WritePDU submits an application PDU for transmission.
func (t *TransceiverFD) WritePDU(data []byte) Action {
	if len(data) > MaxTransferSize {
		return violation("exceeding maximum transfer size")
	}
	if t.state != stateIdle {
		return violation("state machine not idle")
	}
	if len(data) <= singleFramePayloadCapacityFD(t.maxFrameWidth) {
		return writeFrames(0, t.singleFrame(data))
	}
	count := t.maxFrameWidth - 2
	if len(data) < count {
		count = len(data)
	}
	frame := t.firstFrame(uint16(len(data)), data, count)
	t.state = stateSending
	t.sendingPayload = append([]byte(nil), data...)
	t.sendingOffset = count
	t.sendingSequence = 1
	return writeFrames(0, frame)
}

// DidReceiveFrame feeds one inbound CAN-FD frame through the state machine.
func (t *TransceiverFD) DidReceiveFrame(data []byte) Action {
	if len(data) == 0 {
		return violation("incoming frame is empty")
	}
	if len(data) > t.maxFrameWidth {
		return violation("incoming frame exceeds configured width")
	}
	if !validFDFrameWidth(len(data), t.mode == ModeExtended) {
		return violation("incoming frame uses invalid CAN-FD length")
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
		t.reset()
		action = t.parseDataFrame(data)
		if action.Kind == ActionProtocolViolation {
			return waitForMore()
		}
	}
	return action
}

func (t *TransceiverFD) parseFlowControlFrame(data []byte) Action {
	if len(data) < 3 {
		return violation("received flow control shorter than 3 bytes")
	}
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
			remaining := len(t.sendingPayload) - t.sendingOffset
			if remaining == 0 {
				t.reset()
				break
			}
			chunk := t.maxFrameWidth - 1
			if remaining < chunk {
				chunk = remaining
			}
			frames = append(frames, t.consecutiveFrame(t.sendingSequence, t.sendingPayload[t.sendingOffset:], chunk))
			t.sendingOffset += chunk
			if t.sendingOffset >= len(t.sendingPayload) {
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

func (t *TransceiverFD) parseDataFrame(data []byte) Action {
	frame := Frame(data)
	switch frame.FrameType() {
	case FrameSingle:
		if t.state != stateIdle {
			return violation("received single frame while not idle")
		}
		headerSize := 1
		length := int(frame.SingleLength())
		if len(data) > standardFrameWidth {
			if data[0]&0x0F != 0 || len(data) < 2 {
				return violation("received single frame with invalid CAN-FD PCI")
			}
			headerSize = 2
			length = int(data[1])
		}
		if length == 0 {
			return violation("received single frame with zero length")
		}
		if length > len(data)-headerSize {
			return violation("received single frame with length exceeding payload")
		}
		if length > singleFramePayloadCapacityFD(len(data)) {
			return violation("received single frame with invalid length for frame width")
		}
		return process(append([]byte(nil), data[headerSize:headerSize+length]...))

	case FrameFirst:
		if t.state != stateIdle {
			return violation("received first frame while not idle")
		}
		if len(data) < 3 {
			return violation("received first frame shorter than 3 bytes")
		}
		length := int(frame.FirstLength())
		firstPayload := len(data) - 2
		if length <= firstPayload {
			return violation("received first frame with length not exceeding its payload")
		}
		t.receivingPayload = append([]byte(nil), data[2:]...)
		t.receivingPending = length - firstPayload
		t.receivingUnconfirmed = int(t.blockSize)
		if t.receivingUnconfirmed == 0 {
			t.receivingUnconfirmed = maxUnconfirmedFrames
		}
		t.state = stateReceiving
		t.receivingSequence = 1
		return writeFrames(0, t.flowControlFrame())

	case FrameConsecutive:
		if t.state != stateReceiving {
			return violation("received consecutive frame while not receiving")
		}
		if len(data) < 2 {
			return violation("received consecutive frame shorter than 2 bytes")
		}
		if frame.SequenceNumber() != t.receivingSequence {
			return violation("received consecutive frame with unexpected sequence number")
		}
		t.receivingSequence = (t.receivingSequence + 1) & 0x0F

		length := len(data) - 1
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
		return writeFrames(0, t.flowControlFrame())

	default:
		return violation("unexpected frame type, expected single, first or consecutive")
	}
}

func (t *TransceiverFD) reset() {
	t.state = stateIdle
	t.sendingPayload = nil
	t.sendingOffset = 0
	t.sendingSequence = 0
	t.receivingPayload = nil
	t.receivingSequence = 0
	t.receivingPending = 0
	t.receivingUnconfirmed = 0
}
