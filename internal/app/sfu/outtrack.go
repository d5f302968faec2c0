package sfu

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/domain"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStatePaused
	TrackStateDelete
)

// OutTrack is one consumer's copy of a relayed producer.
type OutTrack struct {
	Consumer domain.ConsumerID
	Track    *webrtc.TrackLocalStaticRTP
	state    atomic.Int32 // zero value is TrackStateOk
}

func NewOutTrack(consumer domain.ConsumerID, track *webrtc.TrackLocalStaticRTP) *OutTrack {
	return &OutTrack{Consumer: consumer, Track: track}
}

func (ot *OutTrack) State() TrackState {
	return TrackState(ot.state.Load())
}

// SetPaused toggles forwarding. A deleted track stays deleted.
func (ot *OutTrack) SetPaused(paused bool) {
	from, to := TrackStateOk, TrackStatePaused
	if !paused {
		from, to = to, from
	}
	ot.state.CompareAndSwap(int32(from), int32(to))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
