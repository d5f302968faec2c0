package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

// Transport is an ICE-lite + DTLS pair negotiated through ORTC parameters.
type Transport struct {
	id     domain.TransportID
	router *Router
	dir    domain.Direction
	logger zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   domain.TransportParams

	connectOnce sync.Once
	connected   chan struct{}
	connectErr  error // set before connected is closed
	closeOnce   sync.Once
	closed      chan struct{}

	mu        sync.Mutex
	producers map[domain.ProducerID]*Producer
	consumers map[domain.ConsumerID]*Consumer
}

func newTransport(ctx context.Context, r *Router, opts core.TransportOptions) (*Transport, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	done := make(chan struct{})
	var doneOnce sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			doneOnce.Do(func() { close(done) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice candidates: %w", err)
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = ice.Stop()
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = dtls.Stop()
		_ = ice.Stop()
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}

	id := domain.TransportID(uuid.NewString())
	t := &Transport{
		id:       id,
		router:   r,
		dir:      opts.Direction,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		params: domain.TransportParams{
			IceParameters:  fromICEParameters(iceParams),
			IceCandidates:  fromICECandidates(candidates),
			DtlsParameters: fromDTLSParameters(dtlsParams),
		},
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
		producers: make(map[domain.ProducerID]*Producer),
		consumers: make(map[domain.ConsumerID]*Consumer),
		logger: r.logger.With().
			Str("transport", string(id)).
			Str("participant", string(opts.Participant)).
			Str("direction", string(opts.Direction)).
			Logger(),
	}
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.logger.Debug().Str("dtls_state", s.String()).Msg("DTLS state")
	})
	return t, nil
}

func (t *Transport) ID() domain.TransportID { return t.id }

func (t *Transport) Params() domain.TransportParams { return t.params }

// Connect hands the remote parameters to ICE and DTLS. The handshake completes in
// the background; Produce waits for it.
func (t *Transport) Connect(ctx context.Context, params domain.ConnectParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if params.IceParameters == nil {
		return fmt.Errorf("%w: remote ice parameters required", domain.ErrBadRequest)
	}
	candidates, err := toICECandidates(params.IceCandidates)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrBadRequest, err)
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("remote candidates: %w", err)
	}

	started := false
	t.connectOnce.Do(func() {
		started = true
		go t.handshake(toICEParameters(*params.IceParameters), toDTLSParameters(params.DtlsParameters))
	})
	if !started {
		return fmt.Errorf("%w: transport already connecting", domain.ErrInvalidState)
	}
	return nil
}

func (t *Transport) handshake(ice webrtc.ICEParameters, dtls webrtc.DTLSParameters) {
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, ice, &role); err != nil {
		t.finish(fmt.Errorf("ice start: %w", err))
		return
	}
	if err := t.dtls.Start(dtls); err != nil {
		t.finish(fmt.Errorf("dtls start: %w", err))
		return
	}
	t.finish(nil)
}

// finish records the handshake outcome and releases waiters. It runs once.
func (t *Transport) finish(err error) {
	t.connectErr = err
	close(t.connected)
	if err != nil {
		t.logger.Warn().Err(err).Msg("transport handshake failed")
		return
	}
	t.logger.Info().Msg("transport connected")
}

func (t *Transport) waitConnected(ctx context.Context) error {
	select {
	case <-t.connected:
		return t.connectErr
	case <-t.closed:
		return errTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (core.Producer, error) {
	if len(rtp.Codecs) == 0 || len(rtp.Encodings) == 0 {
		return nil, fmt.Errorf("%w: rtp parameters need a codec and an encoding", domain.ErrBadRequest)
	}
	codec, ok := t.router.caps.Find(rtp.Codecs[0].MimeType)
	if !ok || codec.Kind != kind {
		return nil, fmt.Errorf("%w: codec %s not supported for %s", domain.ErrBadRequest, rtp.Codecs[0].MimeType, kind)
	}
	if err := t.waitConnected(ctx); err != nil {
		return nil, err
	}

	receiver, err := t.router.api.NewRTPReceiver(codecType(kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	if err := receiver.Receive(receiveParameters(rtp)); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtp receive: %w", err)
	}
	track := receiver.Track()
	if track == nil {
		_ = receiver.Stop()
		return nil, errors.New("rtp receiver has no track")
	}

	p := &Producer{
		id:        domain.ProducerID(uuid.NewString()),
		kind:      kind,
		codec:     codec,
		transport: t,
		receiver:  receiver,
	}
	if !t.router.addProducer(p) {
		_ = receiver.Stop()
		return nil, errRouterClosed
	}
	t.mu.Lock()
	t.producers[p.id] = p
	t.mu.Unlock()

	var keyframe func() error
	if kind == domain.MediaKindVideo {
		ssrc := uint32(track.SSRC())
		keyframe = func() error {
			_, err := t.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
			return err
		}
	}
	t.router.relays.StartRelay(t.router.ctx, p.id, track, keyframe)
	t.logger.Info().Str("producer", string(p.id)).Str("kind", string(kind)).Uint32("ssrc", uint32(track.SSRC())).Msg("producing")
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producer domain.ProducerID, caps domain.RtpCapabilities) (core.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, ok := t.router.producer(producer)
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	if len(caps.Codecs) > 0 {
		if _, ok := caps.Find(src.codec.MimeType); !ok {
			return nil, fmt.Errorf("%w: consumer cannot receive %s", domain.ErrBadRequest, src.codec.MimeType)
		}
	}

	id := domain.ConsumerID(uuid.NewString())
	c := src.codec
	track, err := webrtc.NewTrackLocalStaticRTP(capability(c.Kind, c.MimeType, c.ClockRate, c.Channels, c.SDPFmtpLine), string(id), string(producer))
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("rtp send: %w", err)
	}
	if err := t.router.relays.AddSubscriber(producer, sfu.NewOutTrack(id, track)); err != nil {
		_ = sender.Stop()
		return nil, err
	}

	var ssrc uint32
	if len(sendParams.Encodings) > 0 {
		ssrc = uint32(sendParams.Encodings[0].SSRC)
	}
	consumer := &Consumer{
		id:        id,
		producer:  producer,
		kind:      src.kind,
		transport: t,
		sender:    sender,
		rtp: domain.RtpParameters{
			Codecs: []domain.RtpCodecParameters{{
				MimeType:    c.MimeType,
				PayloadType: c.PayloadType,
				ClockRate:   c.ClockRate,
				Channels:    c.Channels,
				SDPFmtpLine: c.SDPFmtpLine,
			}},
			Encodings: []domain.RtpEncoding{{SSRC: ssrc}},
		},
	}
	t.mu.Lock()
	t.consumers[id] = consumer
	t.mu.Unlock()

	go consumer.readRTCP()
	t.logger.Info().Str("consumer", string(id)).Str("producer", string(producer)).Msg("consuming")
	return consumer, nil
}

func (t *Transport) Close() {
	t.router.removeTransport(t.id)
	t.stop()
}

func (t *Transport) stop() {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		producers := make([]*Producer, 0, len(t.producers))
		for _, p := range t.producers {
			producers = append(producers, p)
		}
		consumers := make([]*Consumer, 0, len(t.consumers))
		for _, c := range t.consumers {
			consumers = append(consumers, c)
		}
		t.mu.Unlock()

		for _, c := range consumers {
			c.Close()
		}
		for _, p := range producers {
			p.Close()
		}
		if err := t.dtls.Stop(); err != nil {
			t.logger.Debug().Err(err).Msg("dtls stop")
		}
		if err := t.ice.Stop(); err != nil {
			t.logger.Debug().Err(err).Msg("ice stop")
		}
		if err := t.gatherer.Close(); err != nil {
			t.logger.Debug().Err(err).Msg("gatherer close")
		}
		t.logger.Debug().Msg("transport closed")
	})
}

func (t *Transport) forgetProducer(id domain.ProducerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
}

func (t *Transport) forgetConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}
