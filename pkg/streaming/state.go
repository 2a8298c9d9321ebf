package streaming

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateReady:
		return "READY"
	case StateClosing:
		return "CLOSING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether a session in s can only leave it through a new
// Connect.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// canTransition encodes the session state machine.
func canTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	switch from {
	case StateDisconnected, StateFailed:
		return to == StateConnecting
	case StateConnecting:
		return to == StateAuthenticating || to == StateClosing
	case StateAuthenticating:
		return to == StateReady || to == StateClosing
	case StateReady:
		return to == StateClosing
	case StateClosing:
		return to == StateDisconnected
	default:
		return false
	}
}
