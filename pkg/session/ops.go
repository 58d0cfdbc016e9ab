package session

import (
	"fmt"
	"time"

	"github.com/roffe/ecuconnect/pkg/pdu"
)

// Typed wrappers around SendAndReceive for every adapter operation.

// GetDeviceInfo requests the adapter identification strings.
func (s *Session) GetDeviceInfo(timeout time.Duration) (pdu.DeviceInfo, error) {
	resp, err := s.SendAndReceive(pdu.RequestInfo(), pdu.TypeInfo, timeout)
	if err != nil {
		return pdu.DeviceInfo{}, err
	}
	return resp.DeviceInfo(), nil
}

// ReadVoltage requests the battery voltage in millivolts.
func (s *Session) ReadVoltage(timeout time.Duration) (uint16, error) {
	resp, err := s.SendAndReceive(pdu.ReadVoltage(), pdu.TypeVoltage, timeout)
	if err != nil {
		return 0, err
	}
	return resp.VoltageMillivolts(), nil
}

// Ping round-trips a payload through the adapter's command processor.
func (s *Session) Ping(payload []byte, timeout time.Duration) ([]byte, error) {
	resp, err := s.SendAndReceive(pdu.Ping(payload), pdu.TypePong, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// OpenChannel opens a logical channel and returns the adapter handle.
func (s *Session) OpenChannel(protocol pdu.ChannelProtocol, bitrate uint32, rxSeparationMicros, txSeparationMicros uint16, timeout time.Duration) (uint8, error) {
	resp, err := s.SendAndReceive(
		pdu.OpenChannel(protocol, bitrate, rxSeparationMicros, txSeparationMicros),
		pdu.TypeChannelOpened, timeout)
	if err != nil {
		return 0, err
	}
	return resp.ChannelHandle(), nil
}

// OpenFDChannel opens a CAN-FD channel with a separate data bitrate.
func (s *Session) OpenFDChannel(protocol pdu.ChannelProtocol, bitrate, dataBitrate uint32, rxSeparationMicros, txSeparationMicros uint16, timeout time.Duration) (uint8, error) {
	resp, err := s.SendAndReceive(
		pdu.OpenFDChannel(protocol, bitrate, dataBitrate, rxSeparationMicros, txSeparationMicros),
		pdu.TypeChannelOpened, timeout)
	if err != nil {
		return 0, err
	}
	return resp.ChannelHandle(), nil
}

// CloseChannel closes a logical channel.
func (s *Session) CloseChannel(handle uint8, timeout time.Duration) error {
	_, err := s.SendAndReceive(pdu.CloseChannel(handle), pdu.TypeChannelClosed, timeout)
	return err
}

// SetArbitration programs the channel's address pair.
func (s *Session) SetArbitration(handle uint8, arb pdu.Arbitration, timeout time.Duration) error {
	_, err := s.SendAndReceive(pdu.SetArbitration(handle, arb), pdu.TypeOk, timeout)
	return err
}

// SendMessage transmits one frame and waits for the Ok.
func (s *Session) SendMessage(handle uint8, data []byte, timeout time.Duration) error {
	_, err := s.SendAndReceive(pdu.Send(handle, data), pdu.TypeOk, timeout)
	return err
}

// SendMessages transmits a frame batch fire-and-forget. Any asynchronous
// Ok the adapter emits is dropped by the dispatcher.
func (s *Session) SendMessages(handle uint8, frames [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil || !s.transport.IsConnected() {
		return ErrNotConnected
	}
	if _, err := s.transport.Send(pdu.SendBatch(handle, frames).Serialize()); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// SendMessageCompressed transmits one frame LZ4-compressed.
func (s *Session) SendMessageCompressed(handle uint8, data []byte, timeout time.Duration) error {
	p, err := pdu.SendCompressed(handle, data)
	if err != nil {
		return err
	}
	_, err = s.SendAndReceive(p, pdu.TypeOk, timeout)
	return err
}

// StartPeriodicMessage begins an out-of-band recurring frame and returns
// the adapter's periodic handle.
func (s *Session) StartPeriodicMessage(interval uint8, arb pdu.Arbitration, data []byte, timeout time.Duration) (uint8, error) {
	resp, err := s.SendAndReceive(
		pdu.StartPeriodicMessage(interval, arb, data),
		pdu.TypePeriodicMessageStarted, timeout)
	if err != nil {
		return 0, err
	}
	return resp.ChannelHandle(), nil
}

// EndPeriodicMessage stops a periodic message. Firmware acknowledging
// with a plain Ok instead of PeriodicMessageEnded also counts as success.
func (s *Session) EndPeriodicMessage(handle uint8, timeout time.Duration) error {
	_, err := s.SendAndReceive(pdu.EndPeriodicMessage(handle), pdu.TypePeriodicMessageEnded, timeout)
	return err
}

// RpcCall invokes a named remote procedure and returns the response text.
func (s *Session) RpcCall(call string, timeout time.Duration) (string, error) {
	resp, err := s.SendAndReceive(pdu.RpcCall(call), pdu.TypeRpcResponse, timeout)
	if err != nil {
		return "", err
	}
	return string(resp.Payload), nil
}

// RpcSendBinary uploads a binary blob to the RPC machinery.
func (s *Session) RpcSendBinary(data []byte, timeout time.Duration) error {
	_, err := s.SendAndReceive(pdu.RpcSendBinary(data), pdu.TypeRpcBinary, timeout)
	return err
}

// PrepareForUpdate puts the adapter into firmware update mode.
func (s *Session) PrepareForUpdate(timeout time.Duration) error {
	_, err := s.SendAndReceive(pdu.PrepareForUpdate(), pdu.TypeUpdateStartedSendData, timeout)
	return err
}

// SendUpdateData uploads one chunk of the firmware image.
func (s *Session) SendUpdateData(data []byte, timeout time.Duration) error {
	_, err := s.SendAndReceive(pdu.SendUpdateData(data), pdu.TypeUpdateDataReceived, timeout)
	return err
}

// CommitUpdate installs the uploaded image and reboots the adapter.
func (s *Session) CommitUpdate(timeout time.Duration) error {
	_, err := s.SendAndReceive(pdu.CommitUpdate(), pdu.TypeUpdateCompleted, timeout)
	return err
}

// Reset reboots the adapter fire-and-forget; the connection drops.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil || !s.transport.IsConnected() {
		return ErrNotConnected
	}
	if _, err := s.transport.Send(pdu.Reset().Serialize()); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
