package app

import (
	"context"
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

func (r *Room) CreateTransport(ctx context.Context, id domain.ParticipantID, dir domain.Direction, requestID string) (domain.TransportInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(id)
	if err != nil {
		return domain.TransportInfo{}, err
	}
	if !dir.Valid() {
		return domain.TransportInfo{}, badRequest("unknown direction %q", dir)
	}
	if _, ok := p.transports[dir]; ok {
		return domain.TransportInfo{}, domain.ErrDuplicateTransport
	}

	t, err := r.router.CreateWebRtcTransport(ctx, core.TransportOptions{Direction: dir, Participant: id})
	if err != nil {
		return domain.TransportInfo{}, domain.EngineError("create transport", err)
	}
	if err := ctx.Err(); err != nil {
		t.Close()
		return domain.TransportInfo{}, err
	}
	p.transports[dir] = &transportEntry{t: t, dir: dir, state: domain.TransportNew}

	info := domain.TransportInfo{ID: t.ID(), Direction: dir, Params: t.Params()}
	r.notify(id, core.Event{Type: core.EventTransportCreated, RequestID: requestID, TransportID: info.ID, Transport: &info})
	r.logger.Debug().Str("participant", string(id)).Str("transport", string(info.ID)).Str("direction", string(dir)).Msg("transport created")
	return info, nil
}

func (r *Room) ConnectTransport(ctx context.Context, id domain.ParticipantID, tid domain.TransportID, params domain.ConnectParams, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(id)
	if err != nil {
		return err
	}
	te, ok := p.transportByID(tid)
	if !ok {
		return domain.ErrTransportNotFound
	}
	if te.state != domain.TransportNew {
		return fmt.Errorf("%w: transport is %s", domain.ErrInvalidState, te.state)
	}
	if len(params.DtlsParameters.Fingerprints) == 0 {
		return badRequest("dtls fingerprints missing")
	}

	te.state = domain.TransportConnecting
	if err := te.t.Connect(ctx, params); err != nil {
		te.state = domain.TransportNew
		return domain.EngineError("connect transport", err)
	}
	te.state = domain.TransportConnected
	r.notify(id, core.Event{Type: core.EventTransportConnected, RequestID: requestID, TransportID: tid})
	return nil
}

// Produce registers the producer before announcing it, so a concurrent join
// always sees it in its producer list.
func (r *Room) Produce(ctx context.Context, id domain.ParticipantID, tid domain.TransportID, kind domain.MediaKind, rtp domain.RtpParameters, requestID string) (domain.ProducerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(id)
	if err != nil {
		return "", err
	}
	if !kind.Valid() {
		return "", badRequest("unknown media kind %q", kind)
	}
	te, ok := p.transportByID(tid)
	if !ok {
		return "", domain.ErrTransportNotFound
	}
	if te.dir != domain.DirectionSend {
		return "", badRequest("transport %s does not send", tid)
	}

	prod, err := te.t.Produce(ctx, kind, rtp)
	if err != nil {
		return "", domain.EngineError("produce", err)
	}
	if err := ctx.Err(); err != nil {
		prod.Close()
		return "", err
	}
	pid := prod.ID()
	if _, dup := r.seen[pid]; dup {
		prod.Close()
		return "", fmt.Errorf("%w: producer id %s reused", domain.ErrDuplicateResource, pid)
	}

	pe := &producerEntry{p: prod, owner: id, transport: tid}
	r.seen[pid] = struct{}{}
	r.producers[pid] = pe
	p.producers[pid] = pe

	r.notify(id, core.Event{Type: core.EventProduced, RequestID: requestID, ProducerID: pid, Kind: kind})
	r.broadcast(id, core.Event{Type: core.EventNewProducer, ProducerID: pid, ParticipantID: id, Kind: kind})
	r.logger.Info().Str("participant", string(id)).Str("producer", string(pid)).Str("kind", string(kind)).Msg("producer registered")
	return pid, nil
}

// Consume subscribes the participant to a peer producer on its recv transport.
// caps overrides the capabilities given at join.
func (r *Room) Consume(ctx context.Context, id domain.ParticipantID, producer domain.ProducerID, caps *domain.RtpCapabilities, requestID string) (domain.ConsumerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(id)
	if err != nil {
		return domain.ConsumerInfo{}, err
	}
	src, ok := r.producers[producer]
	if !ok {
		return domain.ConsumerInfo{}, domain.ErrProducerNotFound
	}
	if src.owner == id {
		return domain.ConsumerInfo{}, badRequest("cannot consume own producer %s", producer)
	}
	if _, ok := p.consumers[producer]; ok {
		return domain.ConsumerInfo{}, domain.ErrAlreadyConsuming
	}
	recv, ok := p.transports[domain.DirectionRecv]
	if !ok {
		return domain.ConsumerInfo{}, fmt.Errorf("%w: no recv transport", domain.ErrInvalidState)
	}

	use := r.router.RtpCapabilities()
	switch {
	case caps != nil:
		use = *caps
	case p.caps != nil:
		use = *p.caps
	}
	cons, err := recv.t.Consume(ctx, producer, use)
	if err != nil {
		return domain.ConsumerInfo{}, domain.EngineError("consume", err)
	}
	if err := ctx.Err(); err != nil {
		cons.Close()
		return domain.ConsumerInfo{}, err
	}
	p.consumers[producer] = &consumerEntry{c: cons, transport: recv.t.ID()}

	info := domain.ConsumerInfo{
		ID:            cons.ID(),
		ProducerID:    producer,
		Participant:   src.owner,
		Kind:          cons.Kind(),
		RtpParameters: cons.RtpParameters(),
	}
	r.notify(id, core.Event{Type: core.EventConsumed, RequestID: requestID, ConsumerID: info.ID, ProducerID: producer, Consumer: &info})
	return info, nil
}

// CloseProducer closes one of the participant's producers. An empty requestID
// marks a server-side closure: the owner is told with a plain producer-closed.
func (r *Room) CloseProducer(id domain.ParticipantID, producer domain.ProducerID, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(id)
	if err != nil {
		return err
	}
	pe, ok := p.producers[producer]
	if !ok {
		return domain.ErrProducerNotFound
	}
	r.closeProducerLocked(pe)
	r.notify(id, core.Event{Type: core.EventProducerClosed, RequestID: requestID, ProducerID: producer, ParticipantID: id})
	return nil
}

// closeProducerLocked closes the producer and every consumer fed by it.
// Peers get producer-closed whether or not they consumed it.
func (r *Room) closeProducerLocked(pe *producerEntry) {
	pid := pe.p.ID()
	pe.p.Close()
	delete(r.producers, pid)
	if owner, ok := r.participants[pe.owner]; ok {
		delete(owner.producers, pid)
	}
	for id, peer := range r.participants {
		if id == pe.owner {
			continue
		}
		if ce, ok := peer.consumers[pid]; ok {
			ce.c.Close()
			delete(peer.consumers, pid)
		}
		r.notify(id, core.Event{Type: core.EventProducerClosed, ProducerID: pid, ParticipantID: pe.owner})
	}
	r.logger.Info().Str("participant", string(pe.owner)).Str("producer", string(pid)).Msg("producer closed")
}

func (r *Room) SetProducerPaused(id domain.ParticipantID, producer domain.ProducerID, paused bool, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(id)
	if err != nil {
		return err
	}
	pe, ok := p.producers[producer]
	if !ok {
		return domain.ErrProducerNotFound
	}
	if pe.paused != paused {
		op, call := "resume producer", pe.p.Resume
		if paused {
			op, call = "pause producer", pe.p.Pause
		}
		if err := call(); err != nil {
			return domain.EngineError(op, err)
		}
		pe.paused = paused
	}

	typ := core.EventProducerResumed
	if paused {
		typ = core.EventProducerPaused
	}
	r.notify(id, core.Event{Type: typ, RequestID: requestID, ProducerID: producer, ParticipantID: id})
	r.broadcast(id, core.Event{Type: typ, ProducerID: producer, ParticipantID: id})
	return nil
}

func (r *Room) SetConsumerPaused(id domain.ParticipantID, consumer domain.ConsumerID, paused bool, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.participantLocked(id)
	if err != nil {
		return err
	}
	ce, ok := p.consumerByID(consumer)
	if !ok {
		return domain.ErrConsumerNotFound
	}
	if ce.paused != paused {
		op, call := "resume consumer", ce.c.Resume
		if paused {
			op, call = "pause consumer", ce.c.Pause
		}
		if err := call(); err != nil {
			return domain.EngineError(op, err)
		}
		ce.paused = paused
	}

	typ := core.EventConsumerResumed
	if paused {
		typ = core.EventConsumerPaused
	}
	r.notify(id, core.Event{Type: typ, RequestID: requestID, ConsumerID: consumer, ProducerID: ce.c.ProducerID()})
	return nil
}
