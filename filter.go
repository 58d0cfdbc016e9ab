package ecuconnect

// Filter is one software message filter on a channel.
type Filter struct {
	Type    uint32
	Mask    uint32
	Pattern uint32
	// MaskBytes/PatternBytes carry the caller's byte-wise mask and pattern;
	// bytes beyond index 3 match against the payload.
	MaskBytes    []byte
	PatternBytes []byte
	// FlowControlID is set for FLOW_CONTROL_FILTER on ISO15765 channels.
	FlowControlID uint32
	Active        bool
}

func idByte(canID uint32, index int) byte {
	switch index {
	case 0:
		return byte(canID >> 24)
	case 1:
		return byte(canID >> 16)
	case 2:
		return byte(canID >> 8)
	default:
		return byte(canID)
	}
}

// matches evaluates the filter against a CAN ID and payload. The byte-wise
// form is used when mask and pattern have equal length of 4 to 12 bytes;
// otherwise the plain CAN-ID mask applies.
func (f *Filter) matches(canID uint32, data []byte) bool {
	if n := len(f.MaskBytes); n >= 4 && n <= 12 && n == len(f.PatternBytes) {
		for i := range f.MaskBytes {
			var value byte
			if i < 4 {
				value = idByte(canID, i)
			} else {
				dataIndex := i - 4
				if dataIndex >= len(data) {
					return false
				}
				value = data[dataIndex]
			}
			if value&f.MaskBytes[i] != f.PatternBytes[i]&f.MaskBytes[i] {
				return false
			}
		}
		return true
	}
	return canID&f.Mask == f.Pattern&f.Mask
}
