package ecuconnect

import (
	"errors"
	"fmt"
)

// Sentinel errors for every J2534 return code. The core reports failures
// with these; the ABI shim maps them back onto numeric codes with Code.
var (
	ErrNotSupported        = errors.New("device cannot support requested functionality")
	ErrInvalidChannelID    = errors.New("invalid ChannelID value")
	ErrInvalidProtocolID   = errors.New("invalid or unsupported ProtocolID")
	ErrNullParameter       = errors.New("NULL pointer supplied where a valid pointer is required")
	ErrInvalidIoctlValue   = errors.New("invalid value for Ioctl parameter")
	ErrInvalidFlags        = errors.New("invalid flag values")
	ErrFailed              = errors.New("undefined error, use PassThruGetLastError for text description")
	ErrDeviceNotConnected  = errors.New("unable to communicate with device")
	ErrTimeout             = errors.New("read or write timeout")
	ErrInvalidMsg          = errors.New("invalid message structure")
	ErrInvalidTimeInterval = errors.New("invalid TimeInterval value")
	ErrExceededLimit       = errors.New("exceeded maximum number of message IDs or allocated space")
	ErrInvalidMsgID        = errors.New("invalid MsgID value")
	ErrDeviceInUse         = errors.New("device is currently open")
	ErrInvalidIoctlID      = errors.New("invalid IoctlID value")
	ErrBufferEmpty         = errors.New("protocol message buffer empty")
	ErrBufferFull          = errors.New("protocol message buffer full")
	ErrBufferOverflow      = errors.New("buffer overflow, messages were lost")
	ErrPinInvalid          = errors.New("invalid pin number or voltage already applied")
	ErrChannelInUse        = errors.New("channel number is currently connected")
	ErrMsgProtocolID       = errors.New("protocol type in the message does not match the channel")
	ErrInvalidFilterID     = errors.New("invalid FilterID value")
	ErrNoFlowControl       = errors.New("no flow control filter set or matched")
	ErrNotUnique           = errors.New("CAN ID matches an existing flow control filter")
	ErrInvalidBaudrate     = errors.New("the desired baud rate cannot be achieved")
	ErrInvalidDeviceID     = errors.New("invalid DeviceID value")
)

var errToCode = map[error]uint32{
	ErrNotSupported:        ERR_NOT_SUPPORTED,
	ErrInvalidChannelID:    ERR_INVALID_CHANNEL_ID,
	ErrInvalidProtocolID:   ERR_INVALID_PROTOCOL_ID,
	ErrNullParameter:       ERR_NULL_PARAMETER,
	ErrInvalidIoctlValue:   ERR_INVALID_IOCTL_VALUE,
	ErrInvalidFlags:        ERR_INVALID_FLAGS,
	ErrFailed:              ERR_FAILED,
	ErrDeviceNotConnected:  ERR_DEVICE_NOT_CONNECTED,
	ErrTimeout:             ERR_TIMEOUT,
	ErrInvalidMsg:          ERR_INVALID_MSG,
	ErrInvalidTimeInterval: ERR_INVALID_TIME_INTERVAL,
	ErrExceededLimit:       ERR_EXCEEDED_LIMIT,
	ErrInvalidMsgID:        ERR_INVALID_MSG_ID,
	ErrDeviceInUse:         ERR_DEVICE_IN_USE,
	ErrInvalidIoctlID:      ERR_INVALID_IOCTL_ID,
	ErrBufferEmpty:         ERR_BUFFER_EMPTY,
	ErrBufferFull:          ERR_BUFFER_FULL,
	ErrBufferOverflow:      ERR_BUFFER_OVERFLOW,
	ErrPinInvalid:          ERR_PIN_INVALID,
	ErrChannelInUse:        ERR_CHANNEL_IN_USE,
	ErrMsgProtocolID:       ERR_MSG_PROTOCOL_ID,
	ErrInvalidFilterID:     ERR_INVALID_FILTER_ID,
	ErrNoFlowControl:       ERR_NO_FLOW_CONTROL,
	ErrNotUnique:           ERR_NOT_UNIQUE,
	ErrInvalidBaudrate:     ERR_INVALID_BAUDRATE,
	ErrInvalidDeviceID:     ERR_INVALID_DEVICE_ID,
}

// Code maps an error returned by the core onto its J2534 return code.
// Unknown errors map to ERR_FAILED.
func Code(err error) uint32 {
	if err == nil {
		return STATUS_NOERROR
	}
	for sentinel, code := range errToCode {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ERR_FAILED
}

// CheckError maps a J2534 return code onto the matching sentinel error.
func CheckError(ret uint32) error {
	if ret == STATUS_NOERROR {
		return nil
	}
	for sentinel, code := range errToCode {
		if code == ret {
			return sentinel
		}
	}
	return fmt.Errorf("unknown error: %d", ret)
}
