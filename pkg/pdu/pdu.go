// Package pdu implements the framed byte protocol spoken by ECUconnect
// adapters.
//
// A PDU on the wire is a fixed four byte header followed by an optional
// payload:
//
//	[ ATT:0x1F | TYP:uint8 | LEN:uint16 | <payload> ]
//
// All multi-byte values are big-endian. The maximum payload length is
// 0xFFFF, so the largest possible PDU is 0x10003 bytes.
package pdu

import (
	"fmt"
	"strings"
)

const (
	// Sync is the attention byte leading every frame.
	Sync = 0x1F
	// HeaderSize is the fixed wire header length.
	HeaderSize = 4
	// MaxPayload is the largest payload a single PDU can carry.
	MaxPayload = 0xFFFF
	// MaxBatchSize caps the payload bytes of one batched Send.
	MaxBatchSize = 16384
)

// Type is the PDU type tag.
type Type uint8

const (
	// Commands (tester -> adapter)
	TypePing                 Type = 0x10
	TypeRequestInfo          Type = 0x11
	TypeReadVoltage          Type = 0x12
	TypeOpenChannel          Type = 0x30
	TypeCloseChannel         Type = 0x31
	TypeOpenFDChannel        Type = 0x32
	TypeSend                 Type = 0x33
	TypeSetArbitration       Type = 0x34
	TypeStartPeriodicMessage Type = 0x35
	TypeEndPeriodicMessage   Type = 0x36
	TypeSendCompressed       Type = 0x37
	TypePrepareForUpdate     Type = 0x40
	TypeSendUpdateData       Type = 0x41
	TypeCommitUpdate         Type = 0x42
	TypeReset                Type = 0x43
	TypeRpcCall              Type = 0x50
	TypeRpcSendBinary        Type = 0x51

	// Positive replies (adapter -> tester)
	TypeOk                     Type = 0x80
	TypePong                   Type = 0x90
	TypeInfo                   Type = 0x91
	TypeVoltage                Type = 0x92
	TypeChannelOpened          Type = 0xB0
	TypeChannelClosed          Type = 0xB1
	TypeReceived               Type = 0xB2
	TypeReceivedCompressed     Type = 0xB3
	TypePeriodicMessageStarted Type = 0xB5
	TypePeriodicMessageEnded   Type = 0xB6
	TypeUpdateStartedSendData  Type = 0xC0
	TypeUpdateDataReceived     Type = 0xC1
	TypeUpdateCompleted        Type = 0xC2
	TypeRpcResponse            Type = 0xD0
	TypeRpcBinary              Type = 0xD1

	// Negative replies
	TypeErrorUnspecified     Type = 0xE0
	TypeErrorHardware        Type = 0xE1
	TypeErrorInvalidChannel  Type = 0xE2
	TypeErrorInvalidPeriodic Type = 0xE3
	TypeErrorNoResponse      Type = 0xE4
	TypeErrorInvalidRPC      Type = 0xE5
	TypeErrorInvalidCommand  Type = 0xEF
)

// ChannelProtocol selects the framing of a logical adapter channel.
type ChannelProtocol uint8

const (
	// ProtocolRaw carries raw CAN frames, max 8 bytes.
	ProtocolRaw ChannelProtocol = 0x00
	// ProtocolISOTP carries ISO 15765-2 frames, max 4095 bytes.
	ProtocolISOTP ChannelProtocol = 0x01
	// ProtocolKLine carries ISO 9141 / KWP2000 frames.
	ProtocolKLine ChannelProtocol = 0x02
	// ProtocolRawFD carries raw CAN-FD frames, max 64 bytes.
	ProtocolRawFD ChannelProtocol = 0x03
	// ProtocolISOTPFD carries ISO 15765-2 over CAN-FD.
	ProtocolISOTPFD ChannelProtocol = 0x04
	// ProtocolRawWithFC carries raw CAN with automatic flow control.
	ProtocolRawWithFC ChannelProtocol = 0x05
	// ProtocolENET carries ethernet frames.
	ProtocolENET ChannelProtocol = 0x06
)

// PDU is one protocol data unit on the adapter wire.
type PDU struct {
	Type    Type
	Payload []byte
}

// New builds a PDU. Payloads longer than MaxPayload are truncated.
func New(t Type, payload []byte) PDU {
	if len(payload) > MaxPayload {
		payload = payload[:MaxPayload]
	}
	return PDU{Type: t, Payload: payload}
}

// Serialize renders the PDU in wire format.
func (p PDU) Serialize() []byte {
	out := make([]byte, 0, HeaderSize+len(p.Payload))
	out = append(out, Sync, byte(p.Type))
	out = appendUint16(out, uint16(len(p.Payload)))
	return append(out, p.Payload...)
}

// Parse scans buf for one PDU.
//
//	n > 0: a complete PDU was decoded, consuming n bytes.
//	n == 0: more data is needed, leave the buffer alone.
//	n < 0: the leading -n bytes are garbage and should be discarded,
//	       then Parse called again.
func Parse(buf []byte) (PDU, int) {
	if len(buf) == 0 {
		return PDU{}, 0
	}
	if buf[0] != Sync {
		// Resync: drop everything up to the next attention byte.
		for i := 1; i < len(buf); i++ {
			if buf[i] == Sync {
				return PDU{}, -i
			}
		}
		return PDU{}, -len(buf)
	}
	if len(buf) < HeaderSize {
		return PDU{}, 0
	}
	length := int(readUint16(buf[2:]))
	if len(buf) < HeaderSize+length {
		return PDU{}, 0
	}
	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:HeaderSize+length])
	return PDU{Type: Type(buf[1]), Payload: payload}, HeaderSize + length
}

// IsError reports whether the PDU is a negative reply.
func (p PDU) IsError() bool {
	return p.Type >= 0xE0 && p.Type <= 0xEF
}

// ErrorMessage returns the fixed text for a negative reply tag.
func (p PDU) ErrorMessage() string {
	switch p.Type {
	case TypeErrorUnspecified:
		return "unspecified error"
	case TypeErrorHardware:
		return "hardware error"
	case TypeErrorInvalidChannel:
		return "invalid channel"
	case TypeErrorInvalidPeriodic:
		return "invalid periodic message"
	case TypeErrorNoResponse:
		return "no response"
	case TypeErrorInvalidRPC:
		return "invalid RPC"
	case TypeErrorInvalidCommand:
		return "invalid command"
	default:
		return "unknown error"
	}
}

func (p PDU) String() string {
	var out strings.Builder
	fmt.Fprintf(&out, "%02X || %d ||", uint8(p.Type), len(p.Payload))
	for _, b := range p.Payload {
		fmt.Fprintf(&out, " %02X", b)
	}
	return out.String()
}
