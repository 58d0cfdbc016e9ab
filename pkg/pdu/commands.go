package pdu

// Constructors for tester -> adapter PDUs.

// Ping tests the command processor. The payload is echoed back in the Pong.
func Ping(payload []byte) PDU {
	return New(TypePing, payload)
}

// RequestInfo asks the adapter for its DeviceInfo.
func RequestInfo() PDU {
	return New(TypeRequestInfo, nil)
}

// ReadVoltage asks the adapter for the battery voltage.
func ReadVoltage() PDU {
	return New(TypeReadVoltage, nil)
}

// OpenChannel requests a logical channel. Separation times are in µs and
// are rounded down onto the 4-bit wire code table.
func OpenChannel(protocol ChannelProtocol, bitrate uint32, rxSeparationMicros, txSeparationMicros uint16) PDU {
	payload := make([]byte, 0, 6)
	payload = append(payload, byte(protocol))
	payload = appendUint32(payload, bitrate)
	payload = append(payload, packSeparationTimes(
		SeparationTimeCodeFromMicros(rxSeparationMicros),
		SeparationTimeCodeFromMicros(txSeparationMicros)))
	return New(TypeOpenChannel, payload)
}

// OpenFDChannel requests a CAN-FD channel with a separate data bitrate.
func OpenFDChannel(protocol ChannelProtocol, bitrate, dataBitrate uint32, rxSeparationMicros, txSeparationMicros uint16) PDU {
	payload := make([]byte, 0, 10)
	payload = append(payload, byte(protocol))
	payload = appendUint32(payload, bitrate)
	payload = appendUint32(payload, dataBitrate)
	payload = append(payload, packSeparationTimes(
		SeparationTimeCodeFromMicros(rxSeparationMicros),
		SeparationTimeCodeFromMicros(txSeparationMicros)))
	return New(TypeOpenFDChannel, payload)
}

// CloseChannel requests closing a logical channel.
func CloseChannel(handle uint8) PDU {
	return New(TypeCloseChannel, []byte{handle})
}

// Send requests transmission of one frame over a logical channel.
func Send(handle uint8, data []byte) PDU {
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, handle)
	return New(TypeSend, append(payload, data...))
}

// SendBatch requests transmission of several frames in one PDU. Each frame
// is length-prefixed: handle ‖ {len u8 ‖ bytes}*.
func SendBatch(handle uint8, frames [][]byte) PDU {
	size := 1
	for _, f := range frames {
		size += 1 + len(f)
	}
	payload := make([]byte, 0, size)
	payload = append(payload, handle)
	for _, f := range frames {
		payload = append(payload, byte(len(f)))
		payload = append(payload, f...)
	}
	return New(TypeSend, payload)
}

// SendCompressed requests transmission of LZ4-compressed channel data:
// handle ‖ uncompressed-length u16 ‖ lz4 block.
func SendCompressed(handle uint8, data []byte) (PDU, error) {
	compressed, err := compress(data)
	if err != nil {
		return PDU{}, err
	}
	payload := make([]byte, 0, 3+len(compressed))
	payload = append(payload, handle)
	payload = appendUint16(payload, uint16(len(data)))
	return New(TypeSendCompressed, append(payload, compressed...)), nil
}

// SetArbitration programs the request/reply address pair of a channel.
func SetArbitration(handle uint8, arb Arbitration) PDU {
	payload := make([]byte, 0, 1+ArbitrationSize)
	payload = append(payload, handle)
	return New(TypeSetArbitration, arb.appendTo(payload))
}

// StartPeriodicMessage begins out-of-band transmission of a recurring frame.
// The interval byte encodes interval = byte × 500 ms.
func StartPeriodicMessage(interval uint8, arb Arbitration, data []byte) PDU {
	payload := make([]byte, 0, 1+ArbitrationSize+len(data))
	payload = append(payload, interval)
	payload = arb.appendTo(payload)
	return New(TypeStartPeriodicMessage, append(payload, data...))
}

// EndPeriodicMessage stops a periodic message by its adapter handle.
func EndPeriodicMessage(handle uint8) PDU {
	return New(TypeEndPeriodicMessage, []byte{handle})
}

// PrepareForUpdate begins a firmware update.
func PrepareForUpdate() PDU {
	return New(TypePrepareForUpdate, nil)
}

// SendUpdateData carries one chunk of firmware image data.
func SendUpdateData(data []byte) PDU {
	return New(TypeSendUpdateData, data)
}

// CommitUpdate installs the received image and resets the adapter.
func CommitUpdate() PDU {
	return New(TypeCommitUpdate, nil)
}

// Reset reboots the adapter.
func Reset() PDU {
	return New(TypeReset, nil)
}

// RpcCall invokes a named remote procedure on the adapter.
func RpcCall(call string) PDU {
	return New(TypeRpcCall, []byte(call))
}

// RpcSendBinary uploads a binary blob for the RPC machinery.
func RpcSendBinary(data []byte) PDU {
	return New(TypeRpcSendBinary, data)
}
