package replay

// State is a step of the session lifecycle:
//
//	Idle -> Connecting -> Replaying -> {Completed | Cancelled | ConnectionFailed} -> Closed
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReplaying
	StateCompleted
	StateCancelled
	StateConnectionFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReplaying:
		return "replaying"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateConnectionFailed:
		return "connection_failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
