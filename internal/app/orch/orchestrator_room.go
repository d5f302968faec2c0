package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

const joinAttempts = 3

type JoinRequest struct {
	Room            domain.RoomCode
	Participant     domain.ParticipantID
	Metadata        domain.Metadata
	RtpCapabilities *domain.RtpCapabilities
	Claim           *app.Claim
	RequestID       string
}

func (req JoinRequest) validate() error {
	for _, err := range []error{req.Room.Validate(), req.Participant.Validate(), req.Metadata.Validate()} {
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrBadRequest, err)
		}
	}
	return nil
}

// Join binds conn to the participant and joins the room. A participant with a live
// session elsewhere is taken over: same room means rejoin with reconciliation,
// another room means it leaves that one first.
func (o *Orchestrator) Join(ctx context.Context, conn core.ConnID, sc core.SignalConnection, req JoinRequest) (app.JoinResult, error) {
	if err := req.validate(); err != nil {
		return app.JoinResult{}, err
	}
	ctx, cancel := o.callContext(ctx)
	defer cancel()

	if cur, ok := o.Sessions.Lookup(conn); ok {
		if cur.Participant == req.Participant && cur.Room == req.Room && cur.State == domain.SessionJoined {
			room, ok := o.Rooms.Get(req.Room)
			if !ok {
				return app.JoinResult{}, domain.ErrRoomNotFound
			}
			params := o.joinParams(req, nil)
			params.Repeat = true
			return room.Join(ctx, params)
		}
		if err := o.Leave(conn); err != nil {
			return app.JoinResult{}, err
		}
	}

	prior, hadPrior, err := o.Sessions.Begin(conn, sc, req.Participant, req.Room)
	if err != nil {
		return app.JoinResult{}, err
	}
	if hadPrior && prior.Room != req.Room && prior.State.Member() {
		o.leaveRoom(prior.Room, req.Participant)
	}

	var res app.JoinResult
	for attempt := 1; ; attempt++ {
		var room *app.Room
		room, err = o.Rooms.GetOrCreate(req.Room)
		if err == nil {
			res, err = room.Join(ctx, o.joinParams(req, func() error { return o.Sessions.Admit(conn) }))
		}
		if !errors.Is(err, app.ErrRoomClosed) || attempt == joinAttempts {
			break
		}
	}
	if err != nil {
		o.Sessions.Fail(conn)
		// A rejoin that failed leaves the participant in the room with no session.
		if o.Sessions.StateOf(req.Participant) == domain.SessionClosed {
			o.leaveRoom(req.Room, req.Participant)
		}
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn)).Str("participant", string(req.Participant)).
			Str("room", string(req.Room)).Msg("join failed")
		return app.JoinResult{}, err
	}
	return res, nil
}

func (o *Orchestrator) joinParams(req JoinRequest, admit func() error) app.JoinParams {
	return app.JoinParams{
		Participant:     req.Participant,
		Metadata:        req.Metadata,
		RtpCapabilities: req.RtpCapabilities,
		Claim:           req.Claim,
		RequestID:       req.RequestID,
		Admit:           admit,
	}
}

// Leave is the explicit leave: the session closes and the room drops the participant.
func (o *Orchestrator) Leave(conn core.ConnID) error {
	info, err := o.Sessions.Leave(conn)
	if err != nil {
		return err
	}
	o.leaveRoom(info.Room, info.Participant)
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("participant", string(info.Participant)).Msg("left")
	return nil
}

// OnDisconnect keeps a Joined participant's media alive for the reconnection window.
func (o *Orchestrator) OnDisconnect(conn core.ConnID) {
	info, ok := o.Sessions.Drop(conn)
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("participant", string(info.Participant)).
		Stringer("state", info.State).Msg("connection dropped")
}
