package core

import "github.com/dkeye/Huddle/internal/domain"

// Notifier delivers room events to a participant's current connection.
// Implementations drop events for participants that are not Joined;
// reconciliation covers what a reconnecting participant missed.
type Notifier interface {
	Notify(to domain.ParticipantID, ev Event)
}

type RoomInfo struct {
	Code         domain.RoomCode `json:"room"`
	Worker       domain.WorkerID `json:"worker"`
	Participants int             `json:"participants"`
}

type WorkerHealth struct {
	ID    domain.WorkerID `json:"id"`
	Alive bool            `json:"alive"`
	Rooms int             `json:"rooms"`
}

// Status is the read-only operational snapshot.
type Status struct {
	ActiveRooms int            `json:"active_rooms"`
	Rooms       []RoomInfo     `json:"rooms"`
	Workers     []WorkerHealth `json:"workers"`
}
