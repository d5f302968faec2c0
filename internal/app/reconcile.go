package app

import (
	"cmp"
	"slices"

	"github.com/dkeye/Huddle/internal/domain"
)

// Claim is what a reconnecting client believes it still holds.
type Claim struct {
	Transports []domain.TransportID `json:"transports,omitempty"`
	Producers  []domain.ProducerID  `json:"producers,omitempty"`
	Consuming  []domain.ProducerID  `json:"consuming,omitempty"`
}

type viewConsumer struct {
	ID        domain.ConsumerID
	Transport domain.TransportID
}

// ParticipantView is the authoritative server state reconciliation works from.
type ParticipantView struct {
	Transports []domain.TransportID
	// Producers maps the participant's producers to the transport carrying them.
	Producers map[domain.ProducerID]domain.TransportID
	// Consumers is keyed by source producer.
	Consumers map[domain.ProducerID]viewConsumer
	// Peers are the live producers of every other participant.
	Peers []domain.ProducerInfo
}

// Plan is the outcome of reconciliation. The Close* lists are server-side
// mutations; the rest are events for the reconnecting client.
type Plan struct {
	CloseTransports []domain.TransportID
	CloseProducers  []domain.ProducerID
	CloseConsumers  []domain.ConsumerID

	StaleTransports []domain.TransportID
	Reproduce       []domain.ProducerID
	Withdraw        []domain.ProducerID
	Announce        []domain.ProducerInfo
}

// Mutates reports whether applying the plan changes server state.
func (p Plan) Mutates() bool {
	return len(p.CloseTransports)+len(p.CloseProducers)+len(p.CloseConsumers) > 0
}

func (p Plan) Empty() bool {
	return !p.Mutates() && len(p.StaleTransports)+len(p.Reproduce)+len(p.Withdraw)+len(p.Announce) == 0
}

func toSet[T comparable](items []T) map[T]struct{} {
	out := make(map[T]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

// Reconcile diffs a client claim against the server view. A transport survives when
// the client claims it or claims something it carries. It is a pure function:
// reconciling the post-plan view with the same claim yields no server-side mutations.
func Reconcile(view ParticipantView, claim Claim) Plan {
	var plan Plan

	claimedTransports := toSet(claim.Transports)
	claimedProducers := toSet(claim.Producers)
	claimedConsuming := toSet(claim.Consuming)

	keepTransport := make(map[domain.TransportID]struct{})
	for id := range claimedTransports {
		keepTransport[id] = struct{}{}
	}
	for pid, tid := range view.Producers {
		if _, ok := claimedProducers[pid]; ok {
			keepTransport[tid] = struct{}{}
		}
	}
	for pid, c := range view.Consumers {
		if _, ok := claimedConsuming[pid]; ok {
			keepTransport[c.Transport] = struct{}{}
		}
	}

	serverTransports := toSet(view.Transports)
	for _, tid := range view.Transports {
		if _, ok := keepTransport[tid]; !ok {
			plan.CloseTransports = append(plan.CloseTransports, tid)
		}
	}
	for tid := range claimedTransports {
		if _, ok := serverTransports[tid]; !ok {
			plan.StaleTransports = append(plan.StaleTransports, tid)
		}
	}

	for pid := range view.Producers {
		if _, ok := claimedProducers[pid]; !ok {
			plan.CloseProducers = append(plan.CloseProducers, pid)
		}
	}
	for pid := range claimedProducers {
		if _, ok := view.Producers[pid]; !ok {
			plan.Reproduce = append(plan.Reproduce, pid)
		}
	}

	kept := make(map[domain.ProducerID]struct{})
	for pid, c := range view.Consumers {
		if _, ok := claimedConsuming[pid]; ok {
			kept[pid] = struct{}{}
			continue
		}
		plan.CloseConsumers = append(plan.CloseConsumers, c.ID)
	}

	live := make(map[domain.ProducerID]struct{}, len(view.Peers))
	for _, p := range view.Peers {
		live[p.ID] = struct{}{}
		if _, ok := kept[p.ID]; !ok {
			plan.Announce = append(plan.Announce, p)
		}
	}
	for pid := range claimedConsuming {
		if _, ok := live[pid]; !ok {
			plan.Withdraw = append(plan.Withdraw, pid)
		}
	}

	slices.Sort(plan.CloseTransports)
	slices.Sort(plan.StaleTransports)
	slices.Sort(plan.CloseProducers)
	slices.Sort(plan.Reproduce)
	slices.Sort(plan.CloseConsumers)
	slices.Sort(plan.Withdraw)
	slices.SortFunc(plan.Announce, func(a, b domain.ProducerInfo) int { return cmp.Compare(a.ID, b.ID) })
	return plan
}
