package ecuconnect

// Ioctl dispatch. READ_VBATT and READ_PROG_VOLTAGE are device-level and
// accept either a device or a channel ID; everything else addresses a
// channel. Unknown ioctl IDs return ErrInvalidIoctlID.

// GetConfig reads configuration parameters into the supplied list.
// Unknown parameters are left unchanged, per the published 04.04 API.
func (m *Manager) GetConfig(channelID uint32, params []SConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.channel(channelID)
	if ch == nil {
		return m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	for i := range params {
		switch params[i].Parameter {
		case DATA_RATE:
			params[i].Value = ch.DataRate
		case LOOPBACK:
			if ch.Loopback {
				params[i].Value = 1
			} else {
				params[i].Value = 0
			}
		}
	}
	return nil
}

// SetConfig writes configuration parameters. Unknown parameters are
// silently ignored.
func (m *Manager) SetConfig(channelID uint32, params []SConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.channel(channelID)
	if ch == nil {
		return m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	for _, p := range params {
		switch p.Parameter {
		case DATA_RATE:
			ch.DataRate = p.Value
		case LOOPBACK:
			ch.Loopback = p.Value != 0
		}
	}
	return nil
}

// ReadBatteryVoltage asks the adapter for the battery voltage in mV. The
// id may be a device ID or a channel ID.
func (m *Manager) ReadBatteryVoltage(id uint32) (uint32, error) {
	m.mu.Lock()
	dev := m.device(id)
	if dev == nil {
		if deviceID, ok := m.channelToDevice[id]; ok {
			dev = m.device(deviceID)
		}
	}
	m.mu.Unlock()

	if dev == nil {
		return 0, m.fail(ErrInvalidDeviceID, "invalid device ID %d", id)
	}
	millivolts, err := dev.Session.ReadVoltage(requestTimeout)
	if err != nil {
		return 0, m.translate(err, "failed to read voltage")
	}
	return uint32(millivolts), nil
}

// ClearRxBuffer empties a channel's RX queue.
func (m *Manager) ClearRxBuffer(channelID uint32) error {
	m.mu.Lock()
	ch := m.channel(channelID)
	m.mu.Unlock()
	if ch == nil {
		return m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	ch.clearRx()
	return nil
}

// ClearTxBuffer exists for API completeness; transmissions are not queued
// host-side.
func (m *Manager) ClearTxBuffer(channelID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channel(channelID) == nil {
		return m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	return nil
}

// ClearPeriodicMsgs stops every periodic message on a channel.
func (m *Manager) ClearPeriodicMsgs(channelID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deviceID, ok := m.channelToDevice[channelID]
	if !ok {
		return m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	dev := m.device(deviceID)
	ch := dev.channels[channelID]

	for _, adapterHandle := range ch.periodic {
		dev.Session.EndPeriodicMessage(adapterHandle, requestTimeout)
	}
	ch.periodic = make(map[uint32]uint8)
	return nil
}

// ClearMsgFilters removes every filter on a channel.
func (m *Manager) ClearMsgFilters(channelID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.channel(channelID)
	if ch == nil {
		return m.fail(ErrInvalidChannelID, "invalid channel ID %d", channelID)
	}
	ch.filters = make(map[uint32]*Filter)
	return nil
}

// Ioctl is the generic dispatcher used by the ABI shim. config carries
// the SCONFIG list for GET_CONFIG/SET_CONFIG; output receives READ_VBATT
// and READ_PROG_VOLTAGE results.
func (m *Manager) Ioctl(channelID, ioctlID uint32, config []SConfig, output *uint32) error {
	switch ioctlID {
	case GET_CONFIG:
		return m.GetConfig(channelID, config)
	case SET_CONFIG:
		return m.SetConfig(channelID, config)
	case READ_VBATT, READ_PROG_VOLTAGE:
		if output == nil {
			return m.fail(ErrNullParameter, "nil output parameter")
		}
		millivolts, err := m.ReadBatteryVoltage(channelID)
		if err != nil {
			return err
		}
		*output = millivolts
		return nil
	case CLEAR_TX_BUFFER:
		return m.ClearTxBuffer(channelID)
	case CLEAR_RX_BUFFER:
		return m.ClearRxBuffer(channelID)
	case CLEAR_PERIODIC_MSGS:
		return m.ClearPeriodicMsgs(channelID)
	case CLEAR_MSG_FILTERS:
		return m.ClearMsgFilters(channelID)
	default:
		return m.fail(ErrInvalidIoctlID, "ioctl %#02x not supported", ioctlID)
	}
}
