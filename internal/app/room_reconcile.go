package app

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// applyLocked executes a reconciliation plan for p. Server-side closes run first,
// then the client is told what to rebuild.
func (r *Room) applyLocked(p *participant, plan Plan) {
	closing := make(map[domain.ConsumerID]struct{}, len(plan.CloseConsumers))
	for _, id := range plan.CloseConsumers {
		closing[id] = struct{}{}
	}
	for pid, ce := range p.consumers {
		if _, ok := closing[ce.c.ID()]; ok {
			ce.c.Close()
			delete(p.consumers, pid)
		}
	}
	for _, id := range plan.CloseProducers {
		if pe, ok := p.producers[id]; ok {
			r.closeProducerLocked(pe)
		}
	}
	for _, id := range plan.CloseTransports {
		te, ok := p.transportByID(id)
		if !ok {
			continue
		}
		for pid, ce := range p.consumers {
			if ce.transport == id {
				ce.c.Close()
				delete(p.consumers, pid)
			}
		}
		for _, pe := range p.producers {
			if pe.transport == id {
				r.closeProducerLocked(pe)
			}
		}
		te.t.Close()
		delete(p.transports, te.dir)
	}

	for _, id := range plan.StaleTransports {
		r.notify(p.id, core.Event{Type: core.EventTransportClosed, TransportID: id})
	}
	for _, id := range plan.Reproduce {
		r.notify(p.id, core.Event{Type: core.EventReproduce, ProducerID: id})
	}
	for _, id := range plan.Withdraw {
		r.notify(p.id, core.Event{Type: core.EventProducerClosed, ProducerID: id})
	}
	for _, info := range plan.Announce {
		r.notify(p.id, core.Event{Type: core.EventNewProducer, ProducerID: info.ID, ParticipantID: info.Participant, Kind: info.Kind})
	}

	if !plan.Empty() {
		r.logger.Info().Str("participant", string(p.id)).
			Int("closed_transports", len(plan.CloseTransports)).
			Int("closed_producers", len(plan.CloseProducers)).
			Int("closed_consumers", len(plan.CloseConsumers)).
			Int("reproduce", len(plan.Reproduce)).
			Int("announce", len(plan.Announce)).
			Msg("reconciled")
	}
}
