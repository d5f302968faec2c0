package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// SessionInfo is a copy of a session record.
type SessionInfo struct {
	Conn        core.ConnID
	Participant domain.ParticipantID
	Room        domain.RoomCode
	State       domain.SessionState
}

type session struct {
	SessionInfo
	signal core.SignalConnection
	expiry *time.Timer
}

func (s *session) transition(to domain.SessionState) error {
	if !s.State.CanTransition(to) {
		return fmt.Errorf("%w: session %s -> %s", domain.ErrInvalidState, s.State, to)
	}
	s.State = to
	return nil
}

// ExpireFunc runs when a Reconnecting session outlives the reconnection window.
type ExpireFunc func(participant domain.ParticipantID, room domain.RoomCode)

// Registry tracks one session per connection and at most one live session per
// participant. It is also the room Notifier: events reach a participant only
// through its Joined session.
type Registry struct {
	mu            sync.RWMutex
	byConn        map[core.ConnID]*session
	byParticipant map[domain.ParticipantID]*session

	policy           Policy
	reconnectTimeout time.Duration
	onExpire         ExpireFunc
}

func NewRegistry(policy Policy, reconnectTimeout time.Duration) *Registry {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		byConn:           make(map[core.ConnID]*session),
		byParticipant:    make(map[domain.ParticipantID]*session),
		policy:           policy,
		reconnectTimeout: reconnectTimeout,
	}
}

func (r *Registry) OnExpire(fn ExpireFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = fn
}

// Begin opens a Joining session for participant on conn. A live session of the same
// participant on another connection is closed (Joined goes through Reconnecting) and
// returned so the caller can tell a rejoin from a fresh join.
func (r *Registry) Begin(conn core.ConnID, sc core.SignalConnection, participant domain.ParticipantID, room domain.RoomCode) (SessionInfo, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byConn[conn]; ok {
		return SessionInfo{}, false, fmt.Errorf("%w: connection already bound to %s", domain.ErrInvalidState, cur.Participant)
	}

	var prior SessionInfo
	prev, hadPrior := r.byParticipant[participant]
	if hadPrior {
		prior = prev.SessionInfo
		r.retireLocked(prev)
	}

	s := &session{
		SessionInfo: SessionInfo{Conn: conn, Participant: participant, Room: room, State: domain.SessionJoining},
		signal:      sc,
	}
	r.byConn[conn] = s
	r.byParticipant[participant] = s
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Str("participant", string(participant)).
		Str("room", string(room)).Bool("replaces", hadPrior).Msg("session joining")
	return prior, hadPrior, nil
}

// retireLocked closes a session superseded by a newer connection.
func (r *Registry) retireLocked(s *session) {
	if s.State == domain.SessionJoined {
		_ = s.transition(domain.SessionReconnecting)
		ev, _ := core.Event{Type: core.EventSessionReplaced, Room: s.Room, ParticipantID: s.Participant}.Encode()
		_ = s.signal.TrySend(ev)
		s.signal.Close()
	}
	r.closeLocked(s)
}

func (r *Registry) closeLocked(s *session) {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	_ = s.transition(domain.SessionClosed)
	if r.byConn[s.Conn] == s {
		delete(r.byConn, s.Conn)
	}
	if r.byParticipant[s.Participant] == s {
		delete(r.byParticipant, s.Participant)
	}
}

// Admit moves the connection's session Joining -> Joined. It fails when the
// session was superseded or dropped while the join was in flight.
func (r *Registry) Admit(conn core.ConnID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[conn]
	if !ok {
		return fmt.Errorf("%w: session gone", domain.ErrInvalidState)
	}
	return s.transition(domain.SessionJoined)
}

// Fail closes a session whose join did not complete.
func (r *Registry) Fail(conn core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byConn[conn]; ok && s.State == domain.SessionJoining {
		r.closeLocked(s)
	}
}

// Drop handles a lost connection: Joined becomes Reconnecting until the window
// expires, Joining is closed.
func (r *Registry) Drop(conn core.ConnID) (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[conn]
	if !ok {
		return SessionInfo{}, false
	}
	delete(r.byConn, conn)

	switch s.State {
	case domain.SessionJoined:
		_ = s.transition(domain.SessionReconnecting)
		s.expiry = time.AfterFunc(r.reconnectTimeout, func() { r.expire(s) })
		log.Info().Str("module", "app.registry").Str("participant", string(s.Participant)).
			Dur("window", r.reconnectTimeout).Msg("session reconnecting")
	default:
		r.closeLocked(s)
	}
	return s.SessionInfo, true
}

func (r *Registry) expire(s *session) {
	r.mu.Lock()
	if r.byParticipant[s.Participant] != s || s.State != domain.SessionReconnecting {
		r.mu.Unlock()
		return
	}
	s.expiry = nil
	r.closeLocked(s)
	onExpire := r.onExpire
	info := s.SessionInfo
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("participant", string(info.Participant)).
		Str("room", string(info.Room)).Err(domain.ErrTimeout).Msg("reconnection window elapsed")
	if onExpire != nil {
		onExpire(info.Participant, info.Room)
	}
}

// Leave closes a Joined session on explicit request.
func (r *Registry) Leave(conn core.ConnID) (SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[conn]
	if !ok || s.State != domain.SessionJoined {
		return SessionInfo{}, domain.ErrNotJoined
	}
	r.closeLocked(s)
	return s.SessionInfo, nil
}

// CloseRoom closes the sessions the failed room held for participants.
// Connections stay open; Joining sessions are left to their own join.
func (r *Registry) CloseRoom(room domain.RoomCode, participants []domain.ParticipantID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, pid := range participants {
		s, ok := r.byParticipant[pid]
		if !ok || s.Room != room || !s.State.Member() {
			continue
		}
		if s.State == domain.SessionJoined {
			_ = s.transition(domain.SessionReconnecting)
		}
		r.closeLocked(s)
		n++
	}
	return n
}

func (r *Registry) Lookup(conn core.ConnID) (SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[conn]
	if !ok {
		return SessionInfo{}, false
	}
	return s.SessionInfo, true
}

// StateOf reports the participant's live session state, Closed when it has none.
func (r *Registry) StateOf(participant domain.ParticipantID) domain.SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byParticipant[participant]; ok {
		return s.State
	}
	return domain.SessionClosed
}

// Members lists participants of room whose session is Joined or Reconnecting.
func (r *Registry) Members(room domain.RoomCode) []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ParticipantID, 0)
	for pid, s := range r.byParticipant {
		if s.Room == room && s.State.Member() {
			out = append(out, pid)
		}
	}
	return out
}

func (r *Registry) Notify(to domain.ParticipantID, ev core.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byParticipant[to]
	if !ok || s.State != domain.SessionJoined {
		log.Debug().Str("module", "app.registry").Str("participant", string(to)).Str("event", string(ev.Type)).Msg("event dropped, not joined")
		return
	}
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("event", string(ev.Type)).Msg("encode event")
		return
	}
	if err := s.signal.TrySend(frame); err != nil {
		action := r.policy.OnBackPressure(s.Room, to)
		log.Warn().Err(err).Str("module", "app.registry").Str("participant", string(to)).
			Str("event", string(ev.Type)).Stringer("action", action).Msg("outbound queue rejected event")
		if action == KickMember {
			s.signal.Close()
		}
	}
}
