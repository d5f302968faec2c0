package app

import "github.com/dkeye/Huddle/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

// Policy decides what happens to a participant whose outbound queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomCode, participant domain.ParticipantID) BackpressureAction
}

// SimplePolicy kicks the slow connection. The participant then goes through
// Reconnecting and reconciliation replays what it missed.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomCode, domain.ParticipantID) BackpressureAction {
	return KickMember
}
