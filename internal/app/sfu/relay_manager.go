// Package sfu forwards RTP from producers to consumers inside one router.
package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

type RelayManager struct {
	mu      sync.RWMutex
	relays  map[domain.ProducerID]*Relay
	onFault func(error)
}

// NewRelayManager takes the handler for relay panics; the engine treats one as a worker death.
func NewRelayManager(onFault func(error)) *RelayManager {
	return &RelayManager{
		relays:  make(map[domain.ProducerID]*Relay),
		onFault: onFault,
	}
}

// StartRelay starts forwarding from src. keyframe asks the producer for a keyframe and may be nil.
func (m *RelayManager) StartRelay(ctx context.Context, producer domain.ProducerID, src Source, keyframe func() error) {
	logger := log.With().
		Str("module", "sfu.relay").
		Str("producer", string(producer)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(producer, src, keyframe, cancel)

	m.mu.Lock()
	if old, ok := m.relays[producer]; ok {
		logger.Info().Msg("replacing existing relay")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[producer] = relay
	m.mu.Unlock()

	go relay.loop(relayCtx, &logger, m.onFault)
}

// AddSubscriber attaches a consumer's OutTrack and asks the producer for a keyframe.
func (m *RelayManager) AddSubscriber(producer domain.ProducerID, ot *OutTrack) error {
	m.mu.RLock()
	relay, ok := m.relays[producer]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrProducerNotFound
	}
	relay.add(ot)
	if err := relay.RequestKeyframe(); err != nil {
		log.Debug().Err(err).Str("module", "sfu.relay").Str("producer", string(producer)).Msg("keyframe request failed")
	}
	return nil
}

func (m *RelayManager) RemoveSubscriber(producer domain.ProducerID, consumer domain.ConsumerID) {
	if ot, ok := m.subscriber(producer, consumer); ok {
		ot.MarkDelete()
	}
}

func (m *RelayManager) SetSubscriberPaused(producer domain.ProducerID, consumer domain.ConsumerID, paused bool) {
	if ot, ok := m.subscriber(producer, consumer); ok {
		ot.SetPaused(paused)
	}
}

func (m *RelayManager) subscriber(producer domain.ProducerID, consumer domain.ConsumerID) (*OutTrack, bool) {
	m.mu.RLock()
	relay, ok := m.relays[producer]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return relay.get(consumer)
}

// SetPaused stops or resumes forwarding for every consumer of producer.
func (m *RelayManager) SetPaused(producer domain.ProducerID, paused bool) {
	m.mu.RLock()
	relay, ok := m.relays[producer]
	m.mu.RUnlock()
	if ok {
		relay.paused.Store(paused)
	}
}

func (m *RelayManager) RequestKeyframe(producer domain.ProducerID) error {
	m.mu.RLock()
	relay, ok := m.relays[producer]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrProducerNotFound
	}
	return relay.RequestKeyframe()
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(producer domain.ProducerID) {
	m.mu.Lock()
	relay, ok := m.relays[producer]
	if ok {
		delete(m.relays, producer)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

// HasRelay reports whether producer is being relayed.
func (m *RelayManager) HasRelay(producer domain.ProducerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[producer]
	return ok
}

// StopAll stops every relay. Used when the router closes.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[domain.ProducerID]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.markAllDelete()
		r.cancel()
	}
}
