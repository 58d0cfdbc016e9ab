package pdu

// ArbitrationSize is the serialized size of an Arbitration.
const ArbitrationSize = 14

// Arbitration describes a CAN request/reply address pair.
type Arbitration struct {
	// Request (or source) identifier.
	Request uint32
	// RequestExtension for CAN extended addressing.
	RequestExtension uint8
	// ReplyPattern (or destination) identifier.
	ReplyPattern uint32
	// ReplyMask applied to incoming identifiers. 0 passes everything.
	ReplyMask uint32
	// ReplyExtension for CAN extended addressing.
	ReplyExtension uint8
}

// Serialize renders the arbitration as its 14 wire bytes.
func (a Arbitration) Serialize() []byte {
	out := make([]byte, 0, ArbitrationSize)
	return a.appendTo(out)
}

func (a Arbitration) appendTo(b []byte) []byte {
	b = appendUint32(b, a.Request)
	b = append(b, a.RequestExtension)
	b = appendUint32(b, a.ReplyPattern)
	b = appendUint32(b, a.ReplyMask)
	return append(b, a.ReplyExtension)
}

// ParseArbitration decodes 14 wire bytes into an Arbitration.
func ParseArbitration(b []byte) (Arbitration, bool) {
	if len(b) < ArbitrationSize {
		return Arbitration{}, false
	}
	return Arbitration{
		Request:          readUint32(b),
		RequestExtension: b[4],
		ReplyPattern:     readUint32(b[5:]),
		ReplyMask:        readUint32(b[9:]),
		ReplyExtension:   b[13],
	}, true
}
