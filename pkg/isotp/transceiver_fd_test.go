package isotp

import (
	"bytes"
	"testing"
)

func TestFDSingleFrameEscape(t *testing.T) {
	trx := NewFD(BehaviorStrict, ModeStandard, 0, 0, 0, 0)
	payload := bytes.Repeat([]byte{0xA5}, 20)

	action := trx.WritePDU(payload)
	if action.Kind != ActionWriteFrames || len(action.Frames) != 1 {
		t.Fatalf("unexpected action: %+v", action)
	}
	frame := action.Frames[0]
	if len(frame) != 24 {
		t.Fatalf("frame length = %d, want 24", len(frame))
	}
	if frame[0] != 0x00 || frame[1] != 0x14 {
		t.Errorf("PCI = %02X %02X, want 00 14", frame[0], frame[1])
	}
	if !bytes.Equal(frame[2:22], payload) {
		t.Errorf("payload mismatch")
	}
	if frame[22] != Padding || frame[23] != Padding {
		t.Errorf("trailing bytes = %02X %02X, want padding", frame[22], frame[23])
	}
}

func TestFDSingleFrameShort(t *testing.T) {
	trx := NewFD(BehaviorStrict, ModeStandard, 0, 0, 0, 0)
	action := trx.WritePDU([]byte{0x3E, 0x00})
	frame := action.Frames[0]
	if frame[0] != 0x02 {
		t.Errorf("PCI = %02X, want 02", frame[0])
	}
	if len(frame) != 3 {
		t.Errorf("frame length = %d, want 3", len(frame))
	}
}

func TestFDInvalidInboundLength(t *testing.T) {
	trx := NewFD(BehaviorStrict, ModeStandard, 0, 0, 0, 0)
	for _, length := range []int{9, 10, 11, 13, 15, 21, 33, 63} {
		frame := make([]byte, length)
		frame[0] = 0x02
		frame[1] = 0x3E
		action := trx.DidReceiveFrame(frame)
		if action.Kind != ActionProtocolViolation {
			t.Errorf("length %d: action %v, want ProtocolViolation", length, action.Kind)
		}
	}
}

func TestFDValidLengths(t *testing.T) {
	valid := []int{1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}
	for _, l := range valid {
		if !ValidFDLength(l) {
			t.Errorf("ValidFDLength(%d) = false", l)
		}
	}
	if ValidFDLength(9) || ValidFDLength(65) {
		t.Error("invalid length accepted")
	}
	if got := NextValidFDLength(22); got != 24 {
		t.Errorf("NextValidFDLength(22) = %d, want 24", got)
	}
	if got := NextValidFDLength(33); got != 48 {
		t.Errorf("NextValidFDLength(33) = %d, want 48", got)
	}
}

func TestFDSegmentedTransfer(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	sender := NewFD(BehaviorStrict, ModeStandard, 0, 0, 0, 0)
	receiver := NewFD(BehaviorStrict, ModeStandard, 0, 0, 0, 0)

	action := sender.WritePDU(payload)
	if action.Kind != ActionWriteFrames {
		t.Fatalf("WritePDU action = %v", action.Kind)
	}
	first := action.Frames[0]
	if len(first) != 64 {
		t.Fatalf("first frame length = %d, want 64", len(first))
	}

	act := receiver.DidReceiveFrame(first)
	if act.Kind != ActionWriteFrames || act.Frames[0].FrameType() != FrameFlowControl {
		t.Fatalf("receiver did not answer with FC: %+v", act)
	}

	act = sender.DidReceiveFrame(act.Frames[0])
	if act.Kind != ActionWriteFrames {
		t.Fatalf("sender burst action = %v", act.Kind)
	}

	var delivered []byte
	for _, f := range act.Frames {
		ract := receiver.DidReceiveFrame(f)
		switch ract.Kind {
		case ActionProcess:
			delivered = ract.Data
		case ActionWaitForMore:
		default:
			t.Fatalf("receiver action %v (%s)", ract.Kind, ract.Reason)
		}
	}

	if !bytes.Equal(delivered, payload) {
		t.Fatalf("delivered %d bytes, want %d", len(delivered), len(payload))
	}
	if !sender.Idle() || !receiver.Idle() {
		t.Error("machines not idle after transfer")
	}
}

func TestFDMaxFrameWidthCapsDLC(t *testing.T) {
	trx := NewFD(BehaviorStrict, ModeStandard, 0, 0, 0, 16)
	payload := make([]byte, 100)
	action := trx.WritePDU(payload)
	if action.Kind != ActionWriteFrames {
		t.Fatalf("WritePDU action = %v", action.Kind)
	}
	if len(action.Frames[0]) != 16 {
		t.Errorf("first frame length = %d, want 16", len(action.Frames[0]))
	}

	action = trx.DidReceiveFrame([]byte{0x30, 0x00, 0x00})
	for i, f := range action.Frames {
		if len(f) > 16 {
			t.Errorf("CF%d length = %d, exceeds cap 16", i, len(f))
		}
	}
}

func TestFDDefensiveRecovery(t *testing.T) {
	trx := NewFD(BehaviorDefensive, ModeStandard, 0, 0, 0, 0)
	trx.DidReceiveFrame([]byte{0x10, 0x20, 1, 2, 3, 4, 5, 6})

	// Stray single frame mid-receive is reparsed as a fresh transfer.
	action := trx.DidReceiveFrame([]byte{0x02, 0x3E, 0x00, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA})
	if action.Kind != ActionProcess {
		t.Fatalf("action = %v (%s), want Process", action.Kind, action.Reason)
	}
	if !bytes.Equal(action.Data, []byte{0x3E, 0x00}) {
		t.Errorf("data = % X", action.Data)
	}
}
