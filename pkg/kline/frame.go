// Package kline implements K-Line (KWP2000 and ISO 9141-2) frame handling:
// checksums, frame construction, stream splitting and a merge transceiver
// for chained multi-frame responses.
package kline

// ProtocolMode selects the wire encoding.
type ProtocolMode int

const (
	// ModeKWP is KWP2000: fmt ‖ target ‖ source ‖ payload ‖ checksum, with
	// the payload length in the low nibble of the format byte.
	ModeKWP ProtocolMode = iota
	// ModeISO9141 is ISO 9141-2: target ‖ source ‖ tester ‖ payload ‖
	// checksum, with no encoded length.
	ModeISO9141
)

const headerSize = 3

// Checksum computes the additive 8-bit checksum used by both modes.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Frame wraps one K-Line frame for inspection.
type Frame struct {
	Bytes []byte
	Mode  ProtocolMode
}

// ChecksumValid verifies the trailing checksum byte.
func (f Frame) ChecksumValid() bool {
	if len(f.Bytes) < 4 {
		return false
	}
	return Checksum(f.Bytes[:len(f.Bytes)-1]) == f.Bytes[len(f.Bytes)-1]
}

// PayloadLength returns the number of payload bytes.
func (f Frame) PayloadLength() int {
	if f.Mode == ModeKWP {
		if len(f.Bytes) == 0 {
			return 0
		}
		return int(f.Bytes[0] & 0x0F)
	}
	if len(f.Bytes) <= headerSize {
		return 0
	}
	return len(f.Bytes) - headerSize - 1
}

// SizeValid checks the frame length against the mode's expectations.
func (f Frame) SizeValid() bool {
	if f.Mode == ModeKWP {
		return len(f.Bytes) == headerSize+f.PayloadLength()+1
	}
	return len(f.Bytes) >= headerSize+1
}

// Target returns the target address byte.
func (f Frame) Target() byte {
	idx := 0
	if f.Mode == ModeKWP {
		idx = 1
	}
	if len(f.Bytes) <= idx {
		return 0
	}
	return f.Bytes[idx]
}

// Source returns the source address byte.
func (f Frame) Source() byte {
	idx := 1
	if f.Mode == ModeKWP {
		idx = 2
	}
	if len(f.Bytes) <= idx {
		return 0
	}
	return f.Bytes[idx]
}

// Payload returns the payload bytes, without the checksum.
func (f Frame) Payload() []byte {
	if len(f.Bytes) <= headerSize {
		return nil
	}
	end := headerSize + f.PayloadLength()
	if end > len(f.Bytes) {
		end = len(f.Bytes)
	}
	return f.Bytes[headerSize:end]
}

// MakeKWPFrame builds one KWP2000 frame. The format prefix occupies the
// high nibble; the payload length (max 15) lands in the low nibble.
func MakeKWPFrame(target, source byte, payload []byte, formatPrefix byte) []byte {
	frame := make([]byte, 0, headerSize+len(payload)+1)
	frame = append(frame, formatPrefix|byte(len(payload)&0x0F), target, source)
	frame = append(frame, payload...)
	return append(frame, Checksum(frame))
}

// MakeISO9141Frame builds one ISO 9141-2 frame.
func MakeISO9141Frame(target, source, tester byte, payload []byte) []byte {
	frame := make([]byte, 0, headerSize+len(payload)+1)
	frame = append(frame, target, source, tester)
	frame = append(frame, payload...)
	return append(frame, Checksum(frame))
}

// MakeKWPFrames chunks a long payload (service ‖ pid ‖ data) into a frame
// sequence with sequence numbers inserted at payload[2], starting at 0x01.
// Payloads of at most 15 bytes go out as a single frame.
func MakeKWPFrames(target, source byte, payload []byte, formatPrefix byte, maxDataPerFrame int) [][]byte {
	if len(payload) <= 0x0F {
		return [][]byte{MakeKWPFrame(target, source, payload, formatPrefix)}
	}
	if len(payload) < 2 {
		return nil
	}
	if maxDataPerFrame <= 0 {
		maxDataPerFrame = 4
	}

	service, pid := payload[0], payload[1]
	data := payload[2:]
	var frames [][]byte
	seq := byte(0x01)
	for offset := 0; offset < len(data); {
		take := maxDataPerFrame
		if len(data)-offset < take {
			take = len(data) - offset
		}
		chunk := make([]byte, 0, 3+take)
		chunk = append(chunk, service, pid, seq)
		chunk = append(chunk, data[offset:offset+take]...)
		frames = append(frames, MakeKWPFrame(target, source, chunk, formatPrefix))
		offset += take
		seq++
	}
	return frames
}

// SplitFrames cuts a contiguous buffer into individual frames. KWP frames
// are delimited by the length nibble; ISO 9141 does not encode length, so
// the whole buffer is treated as one frame.
func SplitFrames(buffer []byte, mode ProtocolMode) [][]byte {
	if len(buffer) < 4 {
		return nil
	}
	if mode != ModeKWP {
		return [][]byte{buffer}
	}
	var frames [][]byte
	for index := 0; index+4 <= len(buffer); {
		payloadLen := int(buffer[index] & 0x0F)
		frameLen := headerSize + payloadLen + 1
		if index+frameLen > len(buffer) {
			break
		}
		frames = append(frames, buffer[index:index+frameLen])
		index += frameLen
	}
	return frames
}
