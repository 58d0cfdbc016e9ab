package ecuconnect

import (
	"time"

	"github.com/roffe/ecuconnect/pkg/pdu"
)

// ReadMsgs copies up to max queued messages from the channel's RX queue,
// blocking up to timeout when the queue is empty. With no messages it
// returns ErrTimeout (timeout > 0) or ErrBufferEmpty (timeout == 0).
func (m *Manager) ReadMsgs(channelID uint32, max int, timeout time.Duration) ([]PassThruMsg, error) {
	if max <= 0 {
		return nil, m.fail(ErrNullParameter, "no message buffer supplied")
	}

	m.mu.Lock()
	ch := m.channel(channelID)
	m.mu.Unlock()
	if ch == nil {
		return nil, m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}

	ch.rxMu.Lock()
	defer ch.rxMu.Unlock()

	if len(ch.rxQueue) == 0 && timeout > 0 {
		waker := time.AfterFunc(timeout, ch.rxCond.Broadcast)
		defer waker.Stop()
		deadline := time.Now().Add(timeout)
		for len(ch.rxQueue) == 0 && time.Now().Before(deadline) {
			ch.rxCond.Wait()
		}
	}

	count := len(ch.rxQueue)
	if count > max {
		count = max
	}
	if count == 0 {
		if timeout > 0 {
			return nil, m.fail(ErrTimeout, "no messages within %v", timeout)
		}
		return nil, m.fail(ErrBufferEmpty, "no messages queued")
	}

	out := make([]PassThruMsg, count)
	copy(out, ch.rxQueue[:count])
	ch.rxQueue = ch.rxQueue[count:]
	return out, nil
}

// WriteMsgs transmits messages, batching consecutive frames that share a
// CAN ID and extension into single Send PDUs. SetArbitration is issued
// only when the batch's arbitration differs from what the channel last
// programmed. Returns the number of messages accepted.
func (m *Manager) WriteMsgs(channelID uint32, msgs []PassThruMsg, timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deviceID, ok := m.channelToDevice[channelID]
	if !ok {
		return 0, m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	dev := m.device(deviceID)
	ch := dev.channels[channelID]

	sent := 0
	i := 0
	for i < len(msgs) {
		first := &msgs[i]

		if first.ProtocolID != ch.ProtocolID {
			return sent, m.fail(ErrMsgProtocolID, "message protocol %#02x does not match channel", first.ProtocolID)
		}
		if first.DataSize < 4 {
			return sent, m.fail(ErrInvalidMsg, "message %d shorter than a CAN ID", i)
		}

		batchID, _ := first.CANID()
		batchExt := uint8(0)
		if first.TxFlags&CAN_29BIT_ID != 0 {
			batchExt = 1
		}

		var batch [][]byte
		var batchIndices []int
		batchBytes := 1 // handle byte

		for i < len(msgs) {
			msg := &msgs[i]
			if msg.ProtocolID != ch.ProtocolID || msg.DataSize < 4 {
				break
			}
			canID, _ := msg.CANID()
			ext := uint8(0)
			if msg.TxFlags&CAN_29BIT_ID != 0 {
				ext = 1
			}
			if canID != batchID || ext != batchExt {
				break
			}
			frameSize := 1 + int(msg.DataSize) - 4
			if batchBytes+frameSize > pdu.MaxBatchSize && len(batch) > 0 {
				break
			}
			batch = append(batch, append([]byte(nil), msg.Data[4:msg.DataSize]...))
			batchIndices = append(batchIndices, i)
			batchBytes += frameSize
			i++
		}

		if len(batch) == 0 {
			i++
			continue
		}

		arb := pdu.Arbitration{
			Request:          batchID,
			RequestExtension: batchExt,
			// ReplyMask 0 passes all incoming identifiers; filtering is
			// done host-side.
			ReplyPattern: 0,
			ReplyMask:    0,
		}
		if !ch.hasTxArb || ch.lastTxArb != arb {
			if err := dev.Session.SetArbitration(ch.Handle, arb, timeout); err != nil {
				return sent, m.translate(err, "failed to set arbitration")
			}
			ch.lastTxArb = arb
			ch.hasTxArb = true
		}

		if err := dev.Session.SendMessages(ch.Handle, batch); err != nil {
			return sent, m.translate(err, "failed to send messages")
		}

		for j, idx := range batchIndices {
			sent++
			if ch.Loopback && ch.passesFilters(batchID, batch[j]) {
				loopback := msgs[idx]
				loopback.RxStatus = TX_MSG_TYPE
				if msgs[idx].TxFlags&CAN_29BIT_ID != 0 {
					loopback.RxStatus |= CAN_29BIT_ID
				}
				loopback.Timestamp = uint32(time.Now().UnixMicro())
				ch.pushRx(loopback)
			}
		}
	}

	return sent, nil
}

// StartPeriodicMsg programs a recurring message into the adapter and
// returns the host-side periodic message ID.
func (m *Manager) StartPeriodicMsg(channelID uint32, msg *PassThruMsg, timeInterval time.Duration) (uint32, error) {
	if msg == nil {
		return 0, m.fail(ErrNullParameter, "nil message")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deviceID, ok := m.channelToDevice[channelID]
	if !ok {
		return 0, m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	dev := m.device(deviceID)
	ch := dev.channels[channelID]

	canID, ok := msg.CANID()
	if !ok {
		return 0, m.fail(ErrInvalidMsg, "message shorter than a CAN ID")
	}

	arb := pdu.Arbitration{
		Request:      canID,
		ReplyPattern: 0,
		ReplyMask:    0xFFFFFFFF,
	}

	interval := timeInterval.Milliseconds() / 10
	if interval > 255 {
		interval = 255
	}

	adapterHandle, err := dev.Session.StartPeriodicMessage(uint8(interval), arb, msg.Data[4:msg.DataSize], requestTimeout)
	if err != nil {
		return 0, m.translate(err, "failed to start periodic message")
	}

	msgID := ch.nextPeriodicID
	ch.nextPeriodicID++
	ch.periodic[msgID] = adapterHandle
	return msgID, nil
}

// StopPeriodicMsg stops a periodic message by its host-side ID.
func (m *Manager) StopPeriodicMsg(channelID, msgID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deviceID, ok := m.channelToDevice[channelID]
	if !ok {
		return m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	dev := m.device(deviceID)
	ch := dev.channels[channelID]

	adapterHandle, ok := ch.periodic[msgID]
	if !ok {
		return m.fail(ErrInvalidMsgID, "invalid periodic message ID %d", msgID)
	}

	if err := dev.Session.EndPeriodicMessage(adapterHandle, requestTimeout); err != nil {
		// Some firmware revisions lose individual handles; handle 0 stops
		// everything as a fallback.
		if err2 := dev.Session.EndPeriodicMessage(0, requestTimeout); err2 != nil {
			return m.translate(err, "failed to stop periodic message")
		}
		ch.periodic = make(map[uint32]uint8)
		return nil
	}

	delete(ch.periodic, msgID)
	return nil
}

// StartMsgFilter installs a software filter. mask and pattern must be the
// same length, 4 to 12 bytes; the adapter itself is switched to pass-all
// arbitration so the host sees every frame.
func (m *Manager) StartMsgFilter(channelID, filterType uint32, mask, pattern, flowControl *PassThruMsg) (uint32, error) {
	if mask == nil || pattern == nil {
		return 0, m.fail(ErrNullParameter, "nil mask or pattern message")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deviceID, ok := m.channelToDevice[channelID]
	if !ok {
		return 0, m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	dev := m.device(deviceID)
	ch := dev.channels[channelID]

	if filterType != PASS_FILTER && filterType != BLOCK_FILTER && filterType != FLOW_CONTROL_FILTER {
		return 0, m.fail(ErrInvalidMsg, "invalid filter type %d", filterType)
	}
	if filterType == FLOW_CONTROL_FILTER && ch.ProtocolID != ISO15765 {
		return 0, m.fail(ErrNotSupported, "flow control filters require ISO15765")
	}
	if mask.DataSize == 0 || mask.DataSize > 12 || mask.DataSize != pattern.DataSize {
		return 0, m.fail(ErrInvalidMsg, "invalid filter size (mask=%d, pattern=%d)", mask.DataSize, pattern.DataSize)
	}
	if mask.DataSize < 4 {
		return 0, m.fail(ErrInvalidMsg, "filter must cover the 4 CAN ID bytes")
	}

	filter := &Filter{
		Type:         filterType,
		Mask:         uint32(mask.Data[0])<<24 | uint32(mask.Data[1])<<16 | uint32(mask.Data[2])<<8 | uint32(mask.Data[3]),
		Pattern:      uint32(pattern.Data[0])<<24 | uint32(pattern.Data[1])<<16 | uint32(pattern.Data[2])<<8 | uint32(pattern.Data[3]),
		MaskBytes:    append([]byte(nil), mask.Data[:mask.DataSize]...),
		PatternBytes: append([]byte(nil), pattern.Data[:pattern.DataSize]...),
		Active:       true,
	}
	if flowControl != nil && flowControl.DataSize >= 4 {
		filter.FlowControlID, _ = flowControl.CANID()
	}

	filterID := ch.nextFilterID
	ch.nextFilterID++
	ch.filters[filterID] = filter

	// Raw CAN channels receive everything; the J2534 filters are applied
	// in software on this side of the wire.
	dev.Session.SetArbitration(ch.Handle, pdu.Arbitration{ReplyMask: 0}, requestTimeout)

	return filterID, nil
}

// StopMsgFilter removes a software filter.
func (m *Manager) StopMsgFilter(channelID, filterID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.channel(channelID)
	if ch == nil {
		return m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	if _, ok := ch.filters[filterID]; !ok {
		return m.fail(ErrInvalidFilterID, "invalid filter ID %d", filterID)
	}
	delete(ch.filters, filterID)
	return nil
}
