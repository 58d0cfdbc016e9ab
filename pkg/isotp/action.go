package isotp

// ActionKind tags the transceiver's reaction to an input.
type ActionKind int

const (
	// ActionProcess delivers a fully reassembled PDU to the application.
	ActionProcess ActionKind = iota
	// ActionWriteFrames asks the caller to transmit frames, honoring the
	// separation time between them.
	ActionWriteFrames
	// ActionWaitForMore advanced the state machine without output.
	ActionWaitForMore
	// ActionProtocolViolation reports a peer misbehavior.
	ActionProtocolViolation
)

// Action is the transceiver's output sum type.
type Action struct {
	Kind ActionKind
	// Data is the reassembled PDU for ActionProcess.
	Data []byte
	// Frames to transmit for ActionWriteFrames.
	Frames []Frame
	// SeparationMicros is the inter-frame gap for ActionWriteFrames.
	SeparationMicros uint16
	// Reason describes an ActionProtocolViolation.
	Reason string
}

func process(data []byte) Action {
	return Action{Kind: ActionProcess, Data: data}
}

func writeFrames(separationMicros uint16, frames ...Frame) Action {
	return Action{Kind: ActionWriteFrames, Frames: frames, SeparationMicros: separationMicros}
}

func waitForMore() Action {
	return Action{Kind: ActionWaitForMore}
}

func violation(reason string) Action {
	return Action{Kind: ActionProtocolViolation, Reason: reason}
}
