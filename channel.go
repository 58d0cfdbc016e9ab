package ecuconnect

import (
	"sync"

	"github.com/roffe/ecuconnect/pkg/pdu"
)

// Channel is the host-side record of one logical adapter channel.
type Channel struct {
	ID       uint32
	DeviceID uint32

	ProtocolID uint32
	Flags      uint32
	Baudrate   uint32

	// Handle is the 8-bit channel handle at the adapter.
	Handle uint8

	// DataRate and Loopback are the SET_CONFIG-able knobs.
	DataRate uint32
	Loopback bool

	// lastTxArb suppresses redundant SetArbitration calls.
	lastTxArb pdu.Arbitration
	hasTxArb  bool

	filters      map[uint32]*Filter
	nextFilterID uint32

	// periodic maps host periodic message IDs to adapter handles.
	periodic       map[uint32]uint8
	nextPeriodicID uint32

	// The RX queue has its own lock so a blocked reader never holds the
	// manager mutex.
	rxMu   sync.Mutex
	rxCond *sync.Cond
	rxQueue []PassThruMsg
}

func newChannel(id, deviceID uint32) *Channel {
	ch := &Channel{
		ID:             id,
		DeviceID:       deviceID,
		filters:        make(map[uint32]*Filter),
		nextFilterID:   1,
		periodic:       make(map[uint32]uint8),
		nextPeriodicID: 1,
	}
	ch.rxCond = sync.NewCond(&ch.rxMu)
	return ch
}

// passesFilters applies the channel's software filters: without any active
// pass filter everything passes; otherwise at least one pass filter must
// match and no block filter may match.
func (ch *Channel) passesFilters(canID uint32, data []byte) bool {
	hasPass := false
	passMatch := false
	for _, f := range ch.filters {
		if !f.Active {
			continue
		}
		switch f.Type {
		case PASS_FILTER:
			hasPass = true
			if f.matches(canID, data) {
				passMatch = true
			}
		case BLOCK_FILTER:
			if f.matches(canID, data) {
				return false
			}
		}
	}
	if hasPass {
		return passMatch
	}
	return true
}

// pushRx enqueues a message and wakes one blocked reader.
func (ch *Channel) pushRx(msg PassThruMsg) {
	ch.rxMu.Lock()
	ch.rxQueue = append(ch.rxQueue, msg)
	ch.rxMu.Unlock()
	ch.rxCond.Signal()
}

// clearRx empties the RX queue.
func (ch *Channel) clearRx() {
	ch.rxMu.Lock()
	ch.rxQueue = nil
	ch.rxMu.Unlock()
}
