package httpx

// State is the lifecycle state of a Server. Transitions are strictly
// Stopped -> Starting -> Started -> Stopping -> Stopped.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// connState tracks where a connection is in its request cycle.
type connState int32

const (
	stateAwaitingRequest connState = iota
	stateParsingHeaders
	stateParsingBody
	stateDispatching
	stateWritingResponse
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAwaitingRequest:
		return "awaiting-request"
	case stateParsingHeaders:
		return "parsing-headers"
	case stateParsingBody:
		return "parsing-body"
	case stateDispatching:
		return "dispatching"
	case stateWritingResponse:
		return "writing-response"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
