package socket

// State is the connection lifecycle state of a Client. Exactly one state is
// current at any time; transitions are reported through Listener.OnStateChange.
type State int

const (
	StateUnknown State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}
