package sfu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/dkeye/Huddle/internal/domain"
)

// Source is the producer side of a relay. *webrtc.TrackRemote satisfies it.
type Source interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Relay copies RTP from one producer to all of its consumers.
type Relay struct {
	Producer domain.ProducerID
	src      Source
	keyframe func() error

	mu        sync.RWMutex
	outTracks map[domain.ConsumerID]*OutTrack
	paused    atomic.Bool

	cancel context.CancelFunc
}

func NewRelay(producer domain.ProducerID, src Source, keyframe func() error, cancel context.CancelFunc) *Relay {
	return &Relay{
		Producer:  producer,
		src:       src,
		keyframe:  keyframe,
		outTracks: make(map[domain.ConsumerID]*OutTrack),
		cancel:    cancel,
	}
}

// loop reads RTP packets from the source and forwards them to every OutTrack.
// A panic is reported through onFault instead of taking the process down.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger, onFault func(error)) {
	defer func() {
		if p := recover(); p != nil {
			r.markAllDelete()
			if onFault != nil {
				onFault(fmt.Errorf("relay %s panicked: %v", r.Producer, p))
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn().Err(err).Msg("relay read RTP error, stopping")
			}
			r.markAllDelete()
			return
		}
		if r.paused.Load() {
			continue
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []domain.ConsumerID
	for id, ot := range snapshot {
		switch ot.State() {
		case TrackStateDelete:
			dirty = append(dirty, id)
		case TrackStatePaused:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("consumer", string(id)).Msg("relay write RTP error, dropping consumer")
				ot.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.State() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) add(ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[ot.Consumer] = ot
}

func (r *Relay) get(consumer domain.ConsumerID) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[consumer]
	return ot, ok
}

func (r *Relay) RequestKeyframe() error {
	if r.keyframe == nil {
		return nil
	}
	return r.keyframe()
}
