package session

// State is the lifecycle position of the controller's session.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateActive
	// StateClosed is terminal for a Session value; the controller itself
	// reports Idle once its session is gone.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
