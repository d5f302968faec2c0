// Package orch turns signaling requests into session transitions and room mutations.
package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

type Orchestrator struct {
	Sessions *app.Registry
	Rooms    *app.RoomManager
	Workers  *app.WorkerPool
	// CallTimeout bounds every engine call made on behalf of a request.
	CallTimeout time.Duration
}

// New wires the pool's evacuation and the registry's expiry back into the orchestrator.
func New(sessions *app.Registry, rooms *app.RoomManager, workers *app.WorkerPool, callTimeout time.Duration) *Orchestrator {
	o := &Orchestrator{
		Sessions:    sessions,
		Rooms:       rooms,
		Workers:     workers,
		CallTimeout: callTimeout,
	}
	workers.OnEvacuate(o.evacuate)
	sessions.OnExpire(o.expire)
	return o
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.CallTimeout)
}

// Status is the read-only operational snapshot.
func (o *Orchestrator) Status() core.Status {
	rooms := o.Rooms.List()
	return core.Status{
		ActiveRooms: len(rooms),
		Rooms:       rooms,
		Workers:     o.Workers.Health(),
	}
}

func (o *Orchestrator) leaveRoom(code domain.RoomCode, participant domain.ParticipantID) {
	if room, ok := o.Rooms.Get(code); ok {
		room.Leave(participant)
	}
}

func (o *Orchestrator) expire(participant domain.ParticipantID, code domain.RoomCode) {
	log.Info().Str("module", "orch").Str("participant", string(participant)).Str("room", string(code)).Msg("removing expired participant")
	o.leaveRoom(code, participant)
}

// evacuate fails every room of a dead worker. Clients get room-failed and must rejoin.
func (o *Orchestrator) evacuate(worker domain.WorkerID, codes []domain.RoomCode, cause error) {
	reason := fmt.Sprintf("media worker %s died", worker)
	if cause != nil {
		reason = fmt.Sprintf("%s: %v", reason, cause)
	}
	for _, room := range o.Rooms.Detach(worker, codes) {
		members := room.Fail(reason)
		closed := o.Sessions.CloseRoom(room.Code(), members)
		log.Warn().Str("module", "orch").Str("room", string(room.Code())).Str("worker", string(worker)).
			Int("sessions", closed).Msg("room evacuated")
	}
}

// session resolves the room a connection's participant is in.
func (o *Orchestrator) session(conn core.ConnID) (app.SessionInfo, *app.Room, error) {
	info, ok := o.Sessions.Lookup(conn)
	if !ok || info.State != domain.SessionJoined {
		return app.SessionInfo{}, nil, domain.ErrNotJoined
	}
	room, ok := o.Rooms.Get(info.Room)
	if !ok {
		return app.SessionInfo{}, nil, domain.ErrRoomNotFound
	}
	return info, room, nil
}
