package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// ErrRoomClosed is returned by a room that was destroyed while the caller held it.
// Callers fetch a fresh room and retry.
var ErrRoomClosed = errors.New("room closed")

type RoomOptions struct {
	Codecs     []domain.RtpCodec
	EmptyGrace time.Duration
}

type transportEntry struct {
	t     core.Transport
	dir   domain.Direction
	state domain.TransportState
}

type producerEntry struct {
	p         core.Producer
	owner     domain.ParticipantID
	transport domain.TransportID
	paused    bool
}

func (e *producerEntry) info() domain.ProducerInfo {
	return domain.ProducerInfo{ID: e.p.ID(), Participant: e.owner, Kind: e.p.Kind(), Paused: e.paused}
}

type consumerEntry struct {
	c         core.Consumer
	transport domain.TransportID
	paused    bool
}

type participant struct {
	id         domain.ParticipantID
	meta       domain.Metadata
	caps       *domain.RtpCapabilities
	transports map[domain.Direction]*transportEntry
	producers  map[domain.ProducerID]*producerEntry
	// consumers is keyed by source producer: one consumer per producer.
	consumers map[domain.ProducerID]*consumerEntry
}

func newParticipant(id domain.ParticipantID, meta domain.Metadata) *participant {
	return &participant{
		id:         id,
		meta:       meta,
		transports: make(map[domain.Direction]*transportEntry),
		producers:  make(map[domain.ProducerID]*producerEntry),
		consumers:  make(map[domain.ProducerID]*consumerEntry),
	}
}

func (p *participant) member() domain.Member { return domain.NewMember(p.id, p.meta) }

func (p *participant) transportByID(id domain.TransportID) (*transportEntry, bool) {
	for _, te := range p.transports {
		if te.t.ID() == id {
			return te, true
		}
	}
	return nil, false
}

func (p *participant) consumerByID(id domain.ConsumerID) (*consumerEntry, bool) {
	for _, ce := range p.consumers {
		if ce.c.ID() == id {
			return ce, true
		}
	}
	return nil, false
}

// Room serializes every mutation, engine calls included, behind one mutex.
// Events are emitted while the lock is held so each participant sees them in
// commit order.
type Room struct {
	code     domain.RoomCode
	worker   core.Worker
	opts     RoomOptions
	notifier core.Notifier
	onEmpty  func(*Room)
	logger   zerolog.Logger

	mu           sync.Mutex
	router       core.Router
	participants map[domain.ParticipantID]*participant
	producers    map[domain.ProducerID]*producerEntry
	seen         map[domain.ProducerID]struct{}
	emptyTimer   *time.Timer
	emptyGen     uint64
	closed       bool
}

func NewRoom(code domain.RoomCode, worker core.Worker, notifier core.Notifier, opts RoomOptions, onEmpty func(*Room)) *Room {
	if len(opts.Codecs) == 0 {
		opts.Codecs = domain.DefaultCodecs()
	}
	return &Room{
		code:         code,
		worker:       worker,
		opts:         opts,
		notifier:     notifier,
		onEmpty:      onEmpty,
		logger:       log.With().Str("module", "app.room").Str("room", string(code)).Str("worker", string(worker.ID())).Logger(),
		participants: make(map[domain.ParticipantID]*participant),
		producers:    make(map[domain.ProducerID]*producerEntry),
		seen:         make(map[domain.ProducerID]struct{}),
	}
}

func (r *Room) Code() domain.RoomCode     { return r.code }
func (r *Room) WorkerID() domain.WorkerID { return r.worker.ID() }

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) Info() core.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return core.RoomInfo{Code: r.code, Worker: r.worker.ID(), Participants: len(r.participants)}
}

// Participants returns the member ids in sorted order.
func (r *Room) Participants() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(r.participants))
	for id := range r.participants {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Producers returns every live producer in the room.
func (r *Room) Producers() []domain.ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producersLocked("")
}

func (r *Room) producersLocked(except domain.ParticipantID) []domain.ProducerInfo {
	out := make([]domain.ProducerInfo, 0, len(r.producers))
	for _, pe := range r.producers {
		if pe.owner != except {
			out = append(out, pe.info())
		}
	}
	slices.SortFunc(out, func(a, b domain.ProducerInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *Room) membersLocked(except domain.ParticipantID) []domain.Member {
	out := make([]domain.Member, 0, len(r.participants))
	for id, p := range r.participants {
		if id != except {
			out = append(out, p.member())
		}
	}
	slices.SortFunc(out, func(a, b domain.Member) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// View is the participant's authoritative state as reconciliation sees it.
func (r *Room) View(id domain.ParticipantID) (ParticipantView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return ParticipantView{}, false
	}
	return r.viewLocked(p), true
}

func (r *Room) viewLocked(p *participant) ParticipantView {
	view := ParticipantView{
		Producers: make(map[domain.ProducerID]domain.TransportID, len(p.producers)),
		Consumers: make(map[domain.ProducerID]viewConsumer, len(p.consumers)),
		Peers:     r.producersLocked(p.id),
	}
	for _, te := range p.transports {
		view.Transports = append(view.Transports, te.t.ID())
	}
	slices.Sort(view.Transports)
	for id, pe := range p.producers {
		view.Producers[id] = pe.transport
	}
	for id, ce := range p.consumers {
		view.Consumers[id] = viewConsumer{ID: ce.c.ID(), Transport: ce.transport}
	}
	return view
}

func (r *Room) notify(to domain.ParticipantID, ev core.Event) {
	ev.Room = r.code
	r.notifier.Notify(to, ev)
}

func (r *Room) broadcast(except domain.ParticipantID, ev core.Event) {
	for id := range r.participants {
		if id != except {
			r.notify(id, ev)
		}
	}
}

func (r *Room) ensureRouterLocked(ctx context.Context) error {
	if r.router != nil {
		return nil
	}
	router, err := r.worker.CreateRouter(ctx, r.opts.Codecs)
	if err != nil {
		return domain.EngineError("create router", err)
	}
	if err := ctx.Err(); err != nil {
		router.Close()
		return err
	}
	r.router = router
	r.logger.Info().Str("router", router.ID()).Msg("router created")
	return nil
}

type JoinParams struct {
	Participant     domain.ParticipantID
	Metadata        domain.Metadata
	RtpCapabilities *domain.RtpCapabilities
	// Claim is the client's view when it reconnects. A rejoin without a claim
	// reconciles against an empty one.
	Claim     *Claim
	RequestID string
	// Repeat marks a join resent on the connection that is already joined. Without
	// a claim it leaves the participant's media untouched.
	Repeat bool
	// Admit runs under the room lock once the router is ready. An error aborts the join.
	Admit func() error
}

type JoinResult struct {
	RtpCapabilities domain.RtpCapabilities
	Producers       []domain.ProducerInfo
	Participants    []domain.Member
	Rejoined        bool
	Plan            Plan
}

// Join adds the participant or, if it is already a member, treats the call as a
// reconnection and reconciles its state.
func (r *Room) Join(ctx context.Context, params JoinParams) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return JoinResult{}, ErrRoomClosed
	}
	defer r.scheduleIfEmptyLocked()

	if err := r.ensureRouterLocked(ctx); err != nil {
		return JoinResult{}, err
	}
	if params.Admit != nil {
		if err := params.Admit(); err != nil {
			return JoinResult{}, err
		}
	}
	r.stopEmptyTimerLocked()

	p, rejoined := r.participants[params.Participant]
	if rejoined {
		p.meta = params.Metadata
	} else {
		p = newParticipant(params.Participant, params.Metadata)
		r.participants[p.id] = p
	}
	if params.RtpCapabilities != nil {
		caps := *params.RtpCapabilities
		p.caps = &caps
	}

	caps := r.router.RtpCapabilities()
	res := JoinResult{
		RtpCapabilities: caps,
		Producers:       r.producersLocked(p.id),
		Participants:    r.membersLocked(p.id),
		Rejoined:        rejoined,
	}
	r.notify(p.id, core.Event{
		Type:            core.EventJoined,
		RequestID:       params.RequestID,
		ParticipantID:   p.id,
		Rejoined:        rejoined,
		RtpCapabilities: &caps,
		Producers:       res.Producers,
		Participants:    res.Participants,
	})
	if !rejoined {
		m := p.member()
		r.broadcast(p.id, core.Event{Type: core.EventParticipantJoined, ParticipantID: p.id, Participant: &m})
	}
	r.logger.Info().Str("participant", string(p.id)).Bool("rejoined", rejoined).Int("participants", len(r.participants)).Msg("joined")

	if params.Repeat && params.Claim == nil {
		return res, nil
	}
	if rejoined || params.Claim != nil {
		var claim Claim
		if params.Claim != nil {
			claim = *params.Claim
		}
		res.Plan = Reconcile(r.viewLocked(p), claim)
		r.applyLocked(p, res.Plan)
	}
	return res, nil
}

func (r *Room) participantLocked(id domain.ParticipantID) (*participant, error) {
	if r.closed {
		return nil, ErrRoomClosed
	}
	p, ok := r.participants[id]
	if !ok {
		return nil, domain.ErrNotJoined
	}
	return p, nil
}

// Leave tears down everything the participant owns and tells the others.
// It reports whether the participant was a member.
func (r *Room) Leave(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok || r.closed {
		return false
	}

	for pid, ce := range p.consumers {
		ce.c.Close()
		delete(p.consumers, pid)
	}
	for _, pe := range p.producers {
		r.closeProducerLocked(pe)
	}
	for dir, te := range p.transports {
		te.t.Close()
		delete(p.transports, dir)
	}
	delete(r.participants, id)

	r.broadcast(id, core.Event{Type: core.EventParticipantLeft, ParticipantID: id})
	r.logger.Info().Str("participant", string(id)).Int("participants", len(r.participants)).Msg("left")
	r.scheduleIfEmptyLocked()
	return true
}

// Fail tears the room down after its worker died. No engine calls are made:
// the resources died with the worker. It returns the members that were notified.
func (r *Room) Fail(reason string) []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.stopEmptyTimerLocked()

	ids := make([]domain.ParticipantID, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
		r.notify(id, core.Event{Type: core.EventRoomFailed, Reason: reason})
	}
	slices.Sort(ids)
	r.dropStateLocked()
	r.logger.Warn().Str("reason", reason).Int("participants", len(ids)).Msg("room failed")
	return ids
}

// Close releases every engine resource. Used at shutdown.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Room) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	r.stopEmptyTimerLocked()
	for _, p := range r.participants {
		for _, ce := range p.consumers {
			ce.c.Close()
		}
		for _, pe := range p.producers {
			pe.p.Close()
		}
		for _, te := range p.transports {
			te.t.Close()
		}
	}
	if r.router != nil {
		r.router.Close()
	}
	r.dropStateLocked()
	r.logger.Info().Msg("room closed")
}

func (r *Room) dropStateLocked() {
	r.router = nil
	clear(r.participants)
	clear(r.producers)
}

func (r *Room) stopEmptyTimerLocked() {
	if r.emptyTimer != nil {
		r.emptyTimer.Stop()
		r.emptyTimer = nil
	}
}

func (r *Room) scheduleIfEmptyLocked() {
	if r.closed || len(r.participants) > 0 || r.emptyTimer != nil {
		return
	}
	r.emptyGen++
	gen := r.emptyGen
	r.emptyTimer = time.AfterFunc(r.opts.EmptyGrace, func() { r.expireEmpty(gen) })
}

// expireEmpty fires for schedule gen; a stopped or replaced schedule is ignored.
func (r *Room) expireEmpty(gen uint64) {
	r.mu.Lock()
	if r.emptyTimer == nil || r.emptyGen != gen || r.closed || len(r.participants) > 0 {
		r.mu.Unlock()
		return
	}
	r.emptyTimer = nil
	r.closeLocked()
	r.mu.Unlock()

	if r.onEmpty != nil {
		r.onEmpty(r)
	}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrBadRequest, fmt.Sprintf(format, args...))
}
