package domain

type SessionState int

const (
	SessionJoining SessionState = iota
	SessionJoined
	SessionReconnecting
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionJoining:
		return "joining"
	case SessionJoined:
		return "joined"
	case SessionReconnecting:
		return "reconnecting"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var sessionTransitions = map[SessionState][]SessionState{
	SessionJoining:      {SessionJoined, SessionClosed},
	SessionJoined:       {SessionReconnecting, SessionClosed},
	SessionReconnecting: {SessionClosed},
}

func (s SessionState) CanTransition(to SessionState) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Member reports whether a participant in this state belongs to its room.
func (s SessionState) Member() bool {
	return s == SessionJoined || s == SessionReconnecting
}
