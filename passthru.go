// Package ecuconnect is the host-side core of the ECUconnect Pass-Thru
// bridge: it keeps the device and channel registries, evaluates message
// filters, batches transmissions and fans received frames into per-channel
// queues consumed by the Pass-Thru read API.
package ecuconnect

// J2534 (SAE Pass-Thru 04.04) constants. Names follow the published API.

// Return codes.
const (
	STATUS_NOERROR            = 0x00
	ERR_NOT_SUPPORTED         = 0x01
	ERR_INVALID_CHANNEL_ID    = 0x02
	ERR_INVALID_PROTOCOL_ID   = 0x03
	ERR_NULL_PARAMETER        = 0x04
	ERR_INVALID_IOCTL_VALUE   = 0x05
	ERR_INVALID_FLAGS         = 0x06
	ERR_FAILED                = 0x07
	ERR_DEVICE_NOT_CONNECTED  = 0x08
	ERR_TIMEOUT               = 0x09
	ERR_INVALID_MSG           = 0x0A
	ERR_INVALID_TIME_INTERVAL = 0x0B
	ERR_EXCEEDED_LIMIT        = 0x0C
	ERR_INVALID_MSG_ID        = 0x0D
	ERR_DEVICE_IN_USE         = 0x0E
	ERR_INVALID_IOCTL_ID      = 0x0F
	ERR_BUFFER_EMPTY          = 0x10
	ERR_BUFFER_FULL           = 0x11
	ERR_BUFFER_OVERFLOW       = 0x12
	ERR_PIN_INVALID           = 0x13
	ERR_CHANNEL_IN_USE        = 0x14
	ERR_MSG_PROTOCOL_ID       = 0x15
	ERR_INVALID_FILTER_ID     = 0x16
	ERR_NO_FLOW_CONTROL       = 0x17
	ERR_NOT_UNIQUE            = 0x18
	ERR_INVALID_BAUDRATE      = 0x19
	ERR_INVALID_DEVICE_ID     = 0x1A
)

// Protocol IDs.
const (
	J1850VPW     = 0x01
	J1850PWM     = 0x02
	ISO9141      = 0x03
	ISO14230     = 0x04
	CAN          = 0x05
	ISO15765     = 0x06
	SCI_A_ENGINE = 0x07
	SCI_A_TRANS  = 0x08
	SCI_B_ENGINE = 0x09
	SCI_B_TRANS  = 0x0A
)

// Ioctl IDs.
const (
	GET_CONFIG          = 0x01
	SET_CONFIG          = 0x02
	READ_VBATT          = 0x03
	FIVE_BAUD_INIT      = 0x04
	FAST_INIT           = 0x05
	CLEAR_TX_BUFFER     = 0x07
	CLEAR_RX_BUFFER     = 0x08
	CLEAR_PERIODIC_MSGS = 0x09
	CLEAR_MSG_FILTERS   = 0x0A
	READ_PROG_VOLTAGE   = 0x0E
)

// Config parameters.
const (
	DATA_RATE       = 0x01
	LOOPBACK        = 0x03
	NODE_ADDRESS    = 0x04
	ISO15765_BS     = 0x1E
	ISO15765_STMIN  = 0x1F
	BS_TX           = 0x22
	STMIN_TX        = 0x23
	ISO15765_WFT_MAX = 0x25
)

// Filter types.
const (
	PASS_FILTER         = 0x01
	BLOCK_FILTER        = 0x02
	FLOW_CONTROL_FILTER = 0x03
)

// Message flags (RxStatus / TxFlags).
const (
	TX_MSG_TYPE        = 0x0001
	ISO15765_FRAME_PAD = 0x0040
	ISO15765_ADDR_TYPE = 0x0080
	CAN_29BIT_ID       = 0x0100
	WAIT_P3_MIN_ONLY   = 0x0200
	SW_CAN_HV_TX       = 0x0400
)

// PassThruMsgDataSize is the fixed Data array length of a Pass-Thru message.
const PassThruMsgDataSize = 4128

// PassThruMsg mirrors the 1-byte-packed PASSTHRU_MSG record of the 04.04
// API: six unsigned longs followed by the data array.
type PassThruMsg struct {
	ProtocolID     uint32
	RxStatus       uint32
	TxFlags        uint32
	Timestamp      uint32
	DataSize       uint32
	ExtraDataIndex uint32
	Data           [PassThruMsgDataSize]byte
}

// DataBytes returns the valid portion of the data array.
func (m *PassThruMsg) DataBytes() []byte {
	size := m.DataSize
	if size > PassThruMsgDataSize {
		size = PassThruMsgDataSize
	}
	return m.Data[:size]
}

// SetData copies data into the message and updates the size fields.
func (m *PassThruMsg) SetData(data []byte) {
	n := copy(m.Data[:], data)
	m.DataSize = uint32(n)
	m.ExtraDataIndex = uint32(n)
}

// CANID extracts the big-endian CAN identifier from the first four data
// bytes, the layout every CAN-family Pass-Thru message uses.
func (m *PassThruMsg) CANID() (uint32, bool) {
	if m.DataSize < 4 {
		return 0, false
	}
	return uint32(m.Data[0])<<24 | uint32(m.Data[1])<<16 | uint32(m.Data[2])<<8 | uint32(m.Data[3]), true
}

// SConfig is one GET_CONFIG/SET_CONFIG parameter/value pair.
type SConfig struct {
	Parameter uint32
	Value     uint32
}
