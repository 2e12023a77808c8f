package emulator

// State is the lifecycle state of the execution loop.
type State int32

const (
	StateRunning State = iota
	StatePaused
	StateWaitingForKey
	StateTerminated
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateWaitingForKey:
		return "waiting for key"
	case StateTerminated:
		return "terminated"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Ended reports whether the loop has stopped for good.
func (s State) Ended() bool {
	return s == StateTerminated || s == StateCancelled
}

type EventKind int

const (
	// EventWaitingForKey is sent each time the loop blocks on a key.
	EventWaitingForKey EventKind = iota + 1

	// EventEnded is sent exactly once per loop, after it has stopped.
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventWaitingForKey:
		return "waiting for key"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind  EventKind
	State State
	Err   error
}
