// Package passthru is the Pass-Thru (SAE J2534 04.04) entry-point layer.
// Each function translates one API call into a device-manager operation,
// converts errors to numeric return codes and catches any panic from the
// core, turning it into ERR_FAILED with a last-error string.
package passthru

import (
	"fmt"
	"time"

	"github.com/roffe/ecuconnect"
)

// lastErrorMax bounds GetLastError output including the NUL terminator.
const lastErrorMax = 80

func manager() *ecuconnect.Manager {
	return ecuconnect.Get()
}

// guard converts a panic from the core into ERR_FAILED.
func guard(ret *uint32) {
	if r := recover(); r != nil {
		*ret = ecuconnect.ERR_FAILED
		manager().SetLastError(fmt.Sprintf("internal error: %v", r))
	}
}

// PassThruOpen opens a device by connection string and returns its ID
// through deviceID.
func PassThruOpen(name string, deviceID *uint32) (ret uint32) {
	defer guard(&ret)
	if deviceID == nil {
		return ecuconnect.ERR_NULL_PARAMETER
	}
	id, err := manager().OpenDevice(name)
	if err != nil {
		return ecuconnect.Code(err)
	}
	*deviceID = id
	return ecuconnect.STATUS_NOERROR
}

// PassThruClose closes a device.
func PassThruClose(deviceID uint32) (ret uint32) {
	defer guard(&ret)
	return ecuconnect.Code(manager().CloseDevice(deviceID))
}

// PassThruConnect opens a protocol channel on a device.
func PassThruConnect(deviceID, protocolID, flags, baudrate uint32, channelID *uint32) (ret uint32) {
	defer guard(&ret)
	if channelID == nil {
		return ecuconnect.ERR_NULL_PARAMETER
	}
	id, err := manager().Connect(deviceID, protocolID, flags, baudrate)
	if err != nil {
		return ecuconnect.Code(err)
	}
	*channelID = id
	return ecuconnect.STATUS_NOERROR
}

// PassThruDisconnect closes a protocol channel.
func PassThruDisconnect(channelID uint32) (ret uint32) {
	defer guard(&ret)
	return ecuconnect.Code(manager().Disconnect(channelID))
}

// PassThruReadMsgs reads queued messages. numMsgs carries the requested
// count in and the returned count out.
func PassThruReadMsgs(channelID uint32, msgs []ecuconnect.PassThruMsg, numMsgs *uint32, timeoutMillis uint32) (ret uint32) {
	defer guard(&ret)
	if msgs == nil || numMsgs == nil {
		return ecuconnect.ERR_NULL_PARAMETER
	}
	requested := int(*numMsgs)
	if requested > len(msgs) {
		requested = len(msgs)
	}
	*numMsgs = 0

	out, err := manager().ReadMsgs(channelID, requested, time.Duration(timeoutMillis)*time.Millisecond)
	for i := range out {
		msgs[i] = out[i]
	}
	*numMsgs = uint32(len(out))
	return ecuconnect.Code(err)
}

// PassThruWriteMsgs transmits messages. numMsgs carries the message count
// in and the number actually sent out.
func PassThruWriteMsgs(channelID uint32, msgs []ecuconnect.PassThruMsg, numMsgs *uint32, timeoutMillis uint32) (ret uint32) {
	defer guard(&ret)
	if msgs == nil || numMsgs == nil {
		return ecuconnect.ERR_NULL_PARAMETER
	}
	count := int(*numMsgs)
	if count > len(msgs) {
		count = len(msgs)
	}

	sent, err := manager().WriteMsgs(channelID, msgs[:count], time.Duration(timeoutMillis)*time.Millisecond)
	*numMsgs = uint32(sent)
	return ecuconnect.Code(err)
}

// PassThruStartPeriodicMsg begins periodic transmission of a message.
func PassThruStartPeriodicMsg(channelID uint32, msg *ecuconnect.PassThruMsg, msgID *uint32, timeIntervalMillis uint32) (ret uint32) {
	defer guard(&ret)
	if msg == nil || msgID == nil {
		return ecuconnect.ERR_NULL_PARAMETER
	}
	id, err := manager().StartPeriodicMsg(channelID, msg, time.Duration(timeIntervalMillis)*time.Millisecond)
	if err != nil {
		return ecuconnect.Code(err)
	}
	*msgID = id
	return ecuconnect.STATUS_NOERROR
}

// PassThruStopPeriodicMsg stops a periodic message.
func PassThruStopPeriodicMsg(channelID, msgID uint32) (ret uint32) {
	defer guard(&ret)
	return ecuconnect.Code(manager().StopPeriodicMsg(channelID, msgID))
}

// PassThruStartMsgFilter installs a message filter.
func PassThruStartMsgFilter(channelID, filterType uint32, maskMsg, patternMsg, flowControlMsg *ecuconnect.PassThruMsg, filterID *uint32) (ret uint32) {
	defer guard(&ret)
	if filterID == nil {
		return ecuconnect.ERR_NULL_PARAMETER
	}
	id, err := manager().StartMsgFilter(channelID, filterType, maskMsg, patternMsg, flowControlMsg)
	if err != nil {
		return ecuconnect.Code(err)
	}
	*filterID = id
	return ecuconnect.STATUS_NOERROR
}

// PassThruStopMsgFilter removes a message filter.
func PassThruStopMsgFilter(channelID, filterID uint32) (ret uint32) {
	defer guard(&ret)
	return ecuconnect.Code(manager().StopMsgFilter(channelID, filterID))
}

// PassThruSetProgrammingVoltage is not supported by the adapter hardware.
func PassThruSetProgrammingVoltage(deviceID, pinNumber, voltage uint32) (ret uint32) {
	defer guard(&ret)
	return ecuconnect.ERR_NOT_SUPPORTED
}

// PassThruReadVersion reports firmware, DLL and API version strings.
func PassThruReadVersion(deviceID uint32, firmwareVersion, dllVersion, apiVersion *string) (ret uint32) {
	defer guard(&ret)
	if firmwareVersion == nil || dllVersion == nil || apiVersion == nil {
		return ecuconnect.ERR_NULL_PARAMETER
	}
	fw, dll, api, err := manager().ReadVersion(deviceID)
	if err != nil {
		return ecuconnect.Code(err)
	}
	*firmwareVersion = fw
	*dllVersion = dll
	*apiVersion = api
	return ecuconnect.STATUS_NOERROR
}

// PassThruIoctl dispatches an ioctl. config carries the SCONFIG list for
// GET_CONFIG/SET_CONFIG; output receives voltage readings.
func PassThruIoctl(channelID, ioctlID uint32, config []ecuconnect.SConfig, output *uint32) (ret uint32) {
	defer guard(&ret)
	return ecuconnect.Code(manager().Ioctl(channelID, ioctlID, config, output))
}

// PassThruGetLastError returns the most recent error text, truncated the
// way the 80-byte C buffer would truncate it.
func PassThruGetLastError() string {
	text := manager().LastError()
	if len(text) > lastErrorMax-1 {
		text = text[:lastErrorMax-1]
	}
	return text
}
