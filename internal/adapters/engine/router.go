package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

type Router struct {
	id     string
	worker *Worker
	api    *webrtc.API
	caps   domain.RtpCapabilities
	relays *sfu.RelayManager
	logger zerolog.Logger

	// relays outlive the engine call that created their producer
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	transports map[domain.TransportID]*Transport
	producers  map[domain.ProducerID]*Producer
	closed     bool
}

func newRouter(w *Worker, api *webrtc.API, codecs []domain.RtpCodec) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Router{
		id:         id,
		worker:     w,
		api:        api,
		caps:       domain.RtpCapabilities{Codecs: append([]domain.RtpCodec(nil), codecs...)},
		relays:     sfu.NewRelayManager(w.die),
		logger:     w.logger.With().Str("router", id).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		transports: make(map[domain.TransportID]*Transport),
		producers:  make(map[domain.ProducerID]*Producer),
	}
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: append([]domain.RtpCodec(nil), r.caps.Codecs...)}
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts core.TransportOptions) (core.Transport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errRouterClosed
	}

	t, err := newTransport(ctx, r, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		t.stop()
		return nil, errRouterClosed
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = make(map[domain.TransportID]*Transport)
	r.producers = make(map[domain.ProducerID]*Producer)
	r.mu.Unlock()

	r.relays.StopAll()
	r.cancel()
	for _, t := range transports {
		t.stop()
	}
	r.worker.forget(r)
	r.logger.Debug().Int("transports", len(transports)).Msg("router closed")
}

func (r *Router) addProducer(p *Producer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.producers[p.id] = p
	return true
}

func (r *Router) producer(id domain.ProducerID) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *Router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}
