// Package engine implements core.MediaEngine on top of pion's ORTC API.
//
// A worker owns a SettingEngine (port range, ICE-lite, log routing), a router owns a
// MediaEngine with the room's codecs, and every transport is a bare ICE + DTLS pair.
// Producers are RTPReceivers whose packets are fanned out to consumers' RTPSenders by
// an sfu.RelayManager.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

var (
	errWorkerClosed    = errors.New("worker closed")
	errRouterClosed    = errors.New("router closed")
	errTransportClosed = errors.New("transport closed")
)

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) CreateWorker(ctx context.Context, settings core.WorkerSettings) (core.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(settings.LogLevel)}
	s.SetLite(true)
	if settings.RTCMinPort != 0 || settings.RTCMaxPort != 0 {
		if err := s.SetEphemeralUDPPortRange(settings.RTCMinPort, settings.RTCMaxPort); err != nil {
			return nil, fmt.Errorf("rtc port range: %w", err)
		}
	}

	id := domain.WorkerID(uuid.NewString())
	w := &Worker{
		id:       id,
		settings: s,
		routers:  make(map[string]*Router),
		died:     make(chan error, 1),
		logger:   log.With().Str("module", "engine").Str("worker", string(id)).Logger(),
	}
	w.logger.Info().Msg("worker started")
	return w, nil
}

type Worker struct {
	id       domain.WorkerID
	settings webrtc.SettingEngine
	logger   zerolog.Logger

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool

	died chan error
	once sync.Once
}

func (w *Worker) ID() domain.WorkerID { return w.id }

func (w *Worker) Died() <-chan error { return w.died }

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.RtpCodec) (core.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: capability(c.Kind, c.MimeType, c.ClockRate, c.Channels, c.SDPFmtpLine),
			PayloadType:        webrtc.PayloadType(c.PayloadType),
		}, codecType(c.Kind))
		if err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(w.settings))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, errWorkerClosed
	}
	r := newRouter(w, api, codecs)
	w.routers[r.id] = r
	w.logger.Debug().Str("router", r.id).Int("codecs", len(codecs)).Msg("router created")
	return r, nil
}

func (w *Worker) forget(r *Router) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.routers, r.id)
}

// die reports a fatal fault once and tears the worker down.
func (w *Worker) die(err error) {
	w.shutdown(err)
}

func (w *Worker) Close() {
	w.shutdown(nil)
}

func (w *Worker) shutdown(cause error) {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		routers := make([]*Router, 0, len(w.routers))
		for _, r := range w.routers {
			routers = append(routers, r)
		}
		w.mu.Unlock()

		for _, r := range routers {
			r.Close()
		}
		if cause != nil {
			w.logger.Error().Err(cause).Msg("worker died")
			w.died <- cause
		} else {
			w.logger.Info().Msg("worker closed")
		}
		close(w.died)
	})
}
