package pdu

import (
	"fmt"
	"strings"
	"time"
)

// Constructors and accessors for adapter -> tester PDUs. The constructors
// exist so that tests (and the test-bench adapter) can speak both sides of
// the wire.

// DeviceInfo is the newline-separated identification blob of an adapter.
type DeviceInfo struct {
	Vendor   string
	Model    string
	Hardware string
	Serial   string
	Firmware string
}

// CANFrame is one inbound CAN data indication.
type CANFrame struct {
	Channel   uint8
	ID        uint32
	Extension uint8
	Data      []byte
	// Timestamp is the local wall-clock time in µs since the Unix epoch,
	// stamped at decode; it is not monotonic.
	Timestamp uint64
}

// Ok builds a generic positive reply.
func Ok() PDU {
	return New(TypeOk, nil)
}

// Pong echoes a ping payload.
func Pong(payload []byte) PDU {
	return New(TypePong, payload)
}

// Info renders a DeviceInfo reply.
func Info(info DeviceInfo) PDU {
	payload := strings.Join([]string{info.Vendor, info.Model, info.Hardware, info.Serial, info.Firmware}, "\n")
	return New(TypeInfo, []byte(payload))
}

// Voltage reports the battery voltage in millivolts.
func Voltage(millivolts uint16) PDU {
	return New(TypeVoltage, appendUint16(nil, millivolts))
}

// ChannelOpened acknowledges openChannel with the new handle.
func ChannelOpened(handle uint8) PDU {
	return New(TypeChannelOpened, []byte{handle})
}

// ChannelClosed acknowledges closeChannel.
func ChannelClosed(handle uint8) PDU {
	return New(TypeChannelClosed, []byte{handle})
}

// Received builds a data indication for a channel.
func Received(handle uint8, id uint32, extension uint8, data []byte) PDU {
	payload := make([]byte, 0, 6+len(data))
	payload = append(payload, handle)
	payload = appendUint32(payload, id)
	payload = append(payload, extension)
	return New(TypeReceived, append(payload, data...))
}

// ReceivedCompressed builds a data indication with an LZ4 payload.
func ReceivedCompressed(handle uint8, id uint32, extension uint8, data []byte) (PDU, error) {
	compressed, err := compress(data)
	if err != nil {
		return PDU{}, err
	}
	payload := make([]byte, 0, 8+len(compressed))
	payload = append(payload, handle)
	payload = appendUint32(payload, id)
	payload = append(payload, extension)
	payload = appendUint16(payload, uint16(len(data)))
	return New(TypeReceivedCompressed, append(payload, compressed...)), nil
}

// PeriodicMessageStarted acknowledges startPeriodicMessage with its handle.
func PeriodicMessageStarted(handle uint8) PDU {
	return New(TypePeriodicMessageStarted, []byte{handle})
}

// PeriodicMessageEnded acknowledges endPeriodicMessage.
func PeriodicMessageEnded(handle uint8) PDU {
	return New(TypePeriodicMessageEnded, []byte{handle})
}

// ChannelHandle returns the handle byte of PDUs that lead with one.
func (p PDU) ChannelHandle() uint8 {
	if len(p.Payload) == 0 {
		return 0
	}
	return p.Payload[0]
}

// VoltageMillivolts decodes a Voltage reply.
func (p PDU) VoltageMillivolts() uint16 {
	if len(p.Payload) < 2 {
		return 0
	}
	return readUint16(p.Payload)
}

// DeviceInfo decodes an Info reply.
func (p PDU) DeviceInfo() DeviceInfo {
	var info DeviceInfo
	parts := strings.SplitN(string(p.Payload), "\n", 5)
	fields := []*string{&info.Vendor, &info.Model, &info.Hardware, &info.Serial, &info.Firmware}
	for i, part := range parts {
		*fields[i] = strings.TrimSuffix(part, "\r")
	}
	return info
}

// ReceivedFrame decodes a Received or ReceivedCompressed PDU into a
// CANFrame, inflating the payload when necessary.
func (p PDU) ReceivedFrame() (CANFrame, error) {
	if len(p.Payload) < 6 {
		return CANFrame{}, fmt.Errorf("received PDU too short: %d bytes", len(p.Payload))
	}
	frame := CANFrame{
		Channel:   p.Payload[0],
		ID:        readUint32(p.Payload[1:]),
		Extension: p.Payload[5],
		Timestamp: uint64(time.Now().UnixMicro()),
	}
	switch p.Type {
	case TypeReceived:
		frame.Data = append([]byte(nil), p.Payload[6:]...)
	case TypeReceivedCompressed:
		if len(p.Payload) < 8 {
			return CANFrame{}, fmt.Errorf("compressed received PDU too short: %d bytes", len(p.Payload))
		}
		data, err := decompress(p.Payload[8:], int(readUint16(p.Payload[6:])))
		if err != nil {
			return CANFrame{}, err
		}
		frame.Data = data
	default:
		return CANFrame{}, fmt.Errorf("not a received PDU: %02X", uint8(p.Type))
	}
	return frame, nil
}

// UncompressedData inflates the payload of a SendCompressed PDU.
func (p PDU) UncompressedData() ([]byte, error) {
	if p.Type != TypeSendCompressed {
		return nil, fmt.Errorf("not a compressed send PDU: %02X", uint8(p.Type))
	}
	if len(p.Payload) < 3 {
		return nil, fmt.Errorf("compressed send PDU too short: %d bytes", len(p.Payload))
	}
	return decompress(p.Payload[3:], int(readUint16(p.Payload[1:])))
}
