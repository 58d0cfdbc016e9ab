package kline

// ActionKind tags the transceiver's reaction to a fed frame.
type ActionKind int

const (
	// ActionProcess delivers the merged payload.
	ActionProcess ActionKind = iota
	// ActionWaitForMore buffered the frame and expects another.
	ActionWaitForMore
	// ActionProtocolViolation reports a malformed or out-of-order frame.
	ActionProtocolViolation
)

// Action is the transceiver output.
type Action struct {
	Kind   ActionKind
	Data   []byte
	Reason string
}

// Transceiver merges chained K-Line frames into one payload. In KWP mode
// it strips repeated service/PID bytes and, when a chain is detected,
// the per-frame sequence numbers.
//
// Sequence detection is retroactive: only when a second frame arrives with
// byte[2] == 0x02 after a first frame whose byte[2] was 0x01 does the
// transceiver enter sequence mode and drop the buffered 0x01. A lone frame
// whose third byte happens to be 0x01 keeps it as payload data.
type Transceiver struct {
	expectedTarget byte
	expectedSource byte
	expectedLength int
	mode           ProtocolMode

	baseService             byte
	basePID                 byte
	haveBase                bool
	firstFrameHadPotentialSeq bool
	sequenceMode            bool
	expectedSeq             byte
	buffer                  []byte
}

// NewKWP creates a KWP2000 merge transceiver. Zero values disable the
// target/source/length expectations.
func NewKWP(expectedTarget, expectedSource byte, expectedLength int) *Transceiver {
	return &Transceiver{
		expectedTarget: expectedTarget,
		expectedSource: expectedSource,
		expectedLength: expectedLength,
		mode:           ModeKWP,
	}
}

// NewISO9141 creates an ISO 9141-2 merge transceiver.
func NewISO9141(expectedTarget, expectedSource byte, expectedLength int) *Transceiver {
	return &Transceiver{
		expectedTarget: expectedTarget,
		expectedSource: expectedSource,
		expectedLength: expectedLength,
		mode:           ModeISO9141,
	}
}

// SetExpectedLength arms automatic finalization at the given merged size.
func (t *Transceiver) SetExpectedLength(length int) {
	t.expectedLength = length
}

// Reset clears all merge state.
func (t *Transceiver) Reset() {
	t.baseService = 0
	t.basePID = 0
	t.haveBase = false
	t.firstFrameHadPotentialSeq = false
	t.sequenceMode = false
	t.expectedSeq = 0
	t.buffer = nil
}

// Feed consumes one frame.
func (t *Transceiver) Feed(frameBytes []byte) Action {
	if len(frameBytes) == 0 {
		return t.violation("incoming frame is empty")
	}

	frame := Frame{Bytes: frameBytes, Mode: t.mode}
	if !frame.SizeValid() {
		if t.mode == ModeKWP {
			return t.violation("frame size does not match length in format byte")
		}
		return t.violation("frame size invalid for ISO 9141 mode")
	}
	if !frame.ChecksumValid() {
		return t.violation("checksum invalid")
	}
	if t.expectedTarget != 0 && frame.Target() != t.expectedTarget {
		return t.violation("unexpected target address")
	}
	if t.expectedSource != 0 && frame.Source() != t.expectedSource {
		return t.violation("unexpected source address")
	}

	payload := frame.Payload()

	if t.mode == ModeISO9141 {
		t.buffer = append(t.buffer, payload...)
		if t.expectedLength > 0 && len(t.buffer) >= t.expectedLength {
			return t.finalize()
		}
		return Action{Kind: ActionWaitForMore}
	}

	switch {
	case !t.haveBase && len(payload) >= 2:
		// First frame: record service+PID and buffer everything.
		t.baseService = payload[0]
		t.basePID = payload[1]
		t.haveBase = true
		t.firstFrameHadPotentialSeq = len(payload) >= 3 && payload[2] == 0x01
		t.buffer = append(t.buffer, payload...)

	case t.haveBase:
		if len(payload) >= 2 && (payload[0] != t.baseService || payload[1] != t.basePID) {
			return t.violation("base service/PID mismatch")
		}

		switch {
		case !t.sequenceMode && t.firstFrameHadPotentialSeq && len(payload) >= 3 && payload[2] == 0x02:
			// Confirmed chain: drop the 0x01 buffered from the first frame
			// and track sequence numbers from here on.
			if len(t.buffer) > 2 && t.buffer[2] == 0x01 {
				t.buffer = append(t.buffer[:2], t.buffer[3:]...)
			}
			t.sequenceMode = true
			t.expectedSeq = 0x03
			t.buffer = append(t.buffer, payload[3:]...)

		case t.sequenceMode:
			if len(payload) >= 3 {
				if payload[2] != t.expectedSeq {
					return t.violation("sequence number mismatch")
				}
				t.expectedSeq = payload[2] + 1
				t.buffer = append(t.buffer, payload[3:]...)
			} else {
				t.buffer = append(t.buffer, tail(payload, 2)...)
			}

		default:
			// Not a chain; byte[2] is ordinary data.
			t.buffer = append(t.buffer, tail(payload, 2)...)
		}

	default:
		t.buffer = append(t.buffer, payload...)
	}

	if t.expectedLength > 0 && len(t.buffer) >= t.expectedLength {
		return t.finalize()
	}
	return Action{Kind: ActionWaitForMore}
}

// Finalize closes an open transfer and returns the merged payload.
func (t *Transceiver) Finalize() Action {
	if len(t.buffer) == 0 {
		return Action{Kind: ActionWaitForMore}
	}
	return t.finalize()
}

func (t *Transceiver) finalize() Action {
	action := Action{Kind: ActionProcess, Data: t.buffer}
	t.buffer = nil
	t.Reset()
	return action
}

func (t *Transceiver) violation(reason string) Action {
	t.Reset()
	return Action{Kind: ActionProtocolViolation, Reason: reason}
}

func tail(b []byte, from int) []byte {
	if len(b) <= from {
		return nil
	}
	return b[from:]
}
